package hub

import "time"

// 聊天限流参数：每条连接 1000ms 窗口内最多 3 条消息。
const (
	chatBucketCapacity = 3
	chatBucketWindow   = 1000 * time.Millisecond
)

// tokenBucket 是单条连接的聊天令牌桶。
//
// 与匀速补充的令牌桶不同，这里是硬性的周期重置：窗口一过，
// 桶直接回满。桶只被所属连接自己的 goroutine 触碰，不需要锁。
type tokenBucket struct {
	capacity    int
	tokens      int
	window      time.Duration
	windowStart time.Time

	now func() time.Time // 测试时替换
}

func newTokenBucket(capacity int, window time.Duration) *tokenBucket {
	return &tokenBucket{
		capacity:    capacity,
		tokens:      capacity, // 初始时桶是满的
		window:      window,
		windowStart: time.Now(),
		now:         time.Now,
	}
}

// tryConsume 尝试消耗一个令牌。
// 窗口已过先重置回满；有令牌则扣减放行，否则拒绝。
// 被拒绝的消息直接丢弃，不排队也不重试。
func (b *tokenBucket) tryConsume() bool {
	if b.now().Sub(b.windowStart) >= b.window {
		b.tokens = b.capacity
		b.windowStart = b.now()
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}
