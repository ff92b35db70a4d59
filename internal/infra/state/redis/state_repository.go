package redisstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"collaborative-codepad/internal/repository"
)

// 房间文档热副本的保留时间。超过该时长未被写入的副本可以安全丢弃，
// 因为 MySQL 中的快照此时已是最新可得的版本。
const roomCodeTTL = 24 * time.Hour

// RedisStateRepository 是 StateRepository 接口的 Redis 实现
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStateRepository 创建 RedisStateRepository 实例
func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "cp:" // 默认前缀 "cp:" (codepad)
	}
	return &RedisStateRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (r *RedisStateRepository) roomCodeKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:code", r.keyPrefix, roomID)
}

// CheckRateLimit 检查给定 key 的请求频率是否超限，并递增计数。
// 使用 Pipeline 执行 INCR 和 EXPIRE 以减少网络往返。
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, r.keyPrefix+key)
	pipe.Expire(ctx, r.keyPrefix+key, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("redis: pipeline failed for rate limit check on key %s: %w", key, err)
	}
	count, err := incrCmd.Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to get incr result for rate limit on key %s: %w", key, err)
	}
	return count > int64(limit), nil
}

// SetRoomCode 写入房间文档的热副本
func (r *RedisStateRepository) SetRoomCode(ctx context.Context, roomID string, code string) error {
	key := r.roomCodeKey(roomID)
	if err := r.client.Set(ctx, key, code, roomCodeTTL).Err(); err != nil {
		return fmt.Errorf("redis: failed to set room code for room %s: %w", roomID, err)
	}
	return nil
}

// GetRoomCode 读取房间文档的热副本
func (r *RedisStateRepository) GetRoomCode(ctx context.Context, roomID string) (string, error) {
	key := r.roomCodeKey(roomID)
	code, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("redis: failed to get room code for room %s: %w", roomID, err)
	}
	return code, nil
}
