package repository

import (
	"context"
	"time"
)

// StateRepository 定义了与热状态相关的操作，由 Redis 实现。
type StateRepository interface {
	// CheckRateLimit 检查给定 key 的请求频率是否超限，并递增计数。
	// 返回 true 表示超限。
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// SetRoomCode 写入房间文档的热副本（带 TTL），供后台落库任务读取。
	SetRoomCode(ctx context.Context, roomID string, code string) error

	// GetRoomCode 读取房间文档的热副本。
	// 未命中时返回 repository.ErrNotFound。
	GetRoomCode(ctx context.Context, roomID string) (string, error)
}
