package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"collaborative-codepad/internal/domain"
	"collaborative-codepad/internal/repository"
)

// GormRoomRepository 是 RoomRepository 接口的 GORM 实现
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository 创建 GormRoomRepository 实例
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

// FindByRoomID 实现按对外房间 ID 查找房间，预加载成员名册
func (r *GormRoomRepository) FindByRoomID(ctx context.Context, roomID string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Preload("Members").Where("room_id = ?", roomID).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by room_id '%s': %w", roomID, err)
	}
	return &room, nil
}

// Save 实现保存房间信息（创建或更新），级联保存成员
func (r *GormRoomRepository) Save(ctx context.Context, room *domain.Room) error {
	result := r.db.WithContext(ctx).Session(&gorm.Session{FullSaveAssociations: true}).Save(room)
	if err := result.Error; err != nil {
		// 唯一约束检查 (MySQL 1062)
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save room (room_id: %s): %w", room.RoomID, err)
	}
	return nil
}

// SaveMember 实现单独保存一条成员记录
func (r *GormRoomRepository) SaveMember(ctx context.Context, member *domain.Member) error {
	result := r.db.WithContext(ctx).Save(member)
	if err := result.Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save member (session_id: %s): %w", member.SessionID, err)
	}
	return nil
}

// UpdateCode 实现尽力而为的文档快照落库，不触碰名册
func (r *GormRoomRepository) UpdateCode(ctx context.Context, roomID string, code string) error {
	err := r.db.WithContext(ctx).Model(&domain.Room{}).
		Where("room_id = ?", roomID).
		Update("code", code).Error
	if err != nil {
		return fmt.Errorf("gorm: update code for room '%s': %w", roomID, err)
	}
	return nil
}

// RemoveMember 实现从名册中删除一条成员记录
func (r *GormRoomRepository) RemoveMember(ctx context.Context, memberID uint) error {
	err := r.db.WithContext(ctx).Delete(&domain.Member{}, memberID).Error
	if err != nil {
		return fmt.Errorf("gorm: remove member %d: %w", memberID, err)
	}
	return nil
}
