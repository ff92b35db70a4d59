package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBucket(capacity int, window time.Duration) (*tokenBucket, *time.Time) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := start
	b := newTokenBucket(capacity, window)
	b.windowStart = start
	b.now = func() time.Time { return current }
	return b, &current
}

func TestTokenBucket_AllowsBurstUpToCapacity(t *testing.T) {
	b, _ := newTestBucket(3, time.Second)

	assert.True(t, b.tryConsume(), "第 1 条应放行")
	assert.True(t, b.tryConsume(), "第 2 条应放行")
	assert.True(t, b.tryConsume(), "第 3 条应放行")
	assert.False(t, b.tryConsume(), "超过容量的第 4 条应被拒绝")
}

func TestTokenBucket_WindowResetRefills(t *testing.T) {
	b, current := newTestBucket(3, time.Second)

	for i := 0; i < 3; i++ {
		assert.True(t, b.tryConsume())
	}
	assert.False(t, b.tryConsume())

	// 窗口未过：仍被拒绝，不是匀速补充
	*current = current.Add(900 * time.Millisecond)
	assert.False(t, b.tryConsume(), "窗口内不应有任何补充")

	// 窗口一过桶整个回满
	*current = current.Add(200 * time.Millisecond)
	assert.True(t, b.tryConsume())
	assert.True(t, b.tryConsume())
	assert.True(t, b.tryConsume())
	assert.False(t, b.tryConsume())
}

func TestTokenBucket_StartsFull(t *testing.T) {
	b, _ := newTestBucket(1, time.Second)
	assert.True(t, b.tryConsume(), "新桶应是满的")
	assert.False(t, b.tryConsume())
}
