package repository

import (
	"context"

	"collaborative-codepad/internal/domain"
)

// ShareRepository 定义了代码分享片段的持久化操作。
type ShareRepository interface {
	// FindByLinkID 根据链接 ID 查找分享。
	// 不存在时返回 repository.ErrShareNotFound。过期判断由调用方负责。
	FindByLinkID(ctx context.Context, linkID string) (*domain.CodeShare, error)

	// Save 保存分享记录。链接 ID 冲突时返回 repository.ErrDuplicateEntry。
	Save(ctx context.Context, share *domain.CodeShare) error

	// IsLinkIDExists 检查链接 ID 是否已被占用。
	IsLinkIDExists(ctx context.Context, linkID string) (bool, error)

	// DeleteExpired 删除所有已过期的分享，返回删除的行数。
	DeleteExpired(ctx context.Context) (int64, error)
}
