package repository

import (
	"context"

	"collaborative-codepad/internal/domain"
)

// RoomRepository 定义了房间及其成员名册的持久化操作。
// 它是会话状态的唯一权威来源，必须在进程重启后仍然可用。
type RoomRepository interface {
	// FindByRoomID 根据对外的房间 ID 查找房间（预加载成员名册）。
	// 房间不存在时返回 repository.ErrRoomNotFound。
	FindByRoomID(ctx context.Context, roomID string) (*domain.Room, error)

	// Save 保存房间信息（创建或更新），级联保存成员名册。
	Save(ctx context.Context, room *domain.Room) error

	// SaveMember 单独保存一条成员记录（upsert 路径的快捷方式）。
	SaveMember(ctx context.Context, member *domain.Member) error

	// UpdateCode 尽力而为地更新房间的文档快照，不触碰名册。
	UpdateCode(ctx context.Context, roomID string, code string) error

	// RemoveMember 从名册中删除一条成员记录（仅用于 kick）。
	RemoveMember(ctx context.Context, memberID uint) error
}
