package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"collaborative-codepad/internal/domain"
	"collaborative-codepad/internal/repository"
)

// GormShareRepository 是 ShareRepository 接口的 GORM 实现
type GormShareRepository struct {
	db *gorm.DB
}

// NewGormShareRepository 创建 GormShareRepository 实例
func NewGormShareRepository(db *gorm.DB) *GormShareRepository {
	if db == nil {
		panic("database connection cannot be nil for GormShareRepository")
	}
	return &GormShareRepository{db: db}
}

// FindByLinkID 实现按链接 ID 查找分享
func (r *GormShareRepository) FindByLinkID(ctx context.Context, linkID string) (*domain.CodeShare, error) {
	var share domain.CodeShare
	err := r.db.WithContext(ctx).Where("link_id = ?", linkID).First(&share).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrShareNotFound
		}
		return nil, fmt.Errorf("gorm: find share by link_id '%s': %w", linkID, err)
	}
	return &share, nil
}

// Save 实现保存分享记录
func (r *GormShareRepository) Save(ctx context.Context, share *domain.CodeShare) error {
	result := r.db.WithContext(ctx).Save(share)
	if err := result.Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save share (link_id: %s): %w", share.LinkID, err)
	}
	return nil
}

// IsLinkIDExists 实现检查链接 ID 是否已被占用
func (r *GormShareRepository) IsLinkIDExists(ctx context.Context, linkID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.CodeShare{}).Where("link_id = ?", linkID).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count shares by link_id '%s': %w", linkID, err)
	}
	return count > 0, nil
}

// DeleteExpired 实现删除所有已过期的分享
func (r *GormShareRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Where("expires_at < ?", time.Now()).Delete(&domain.CodeShare{})
	if err := result.Error; err != nil {
		return 0, fmt.Errorf("gorm: delete expired shares: %w", err)
	}
	return result.RowsAffected, nil
}
