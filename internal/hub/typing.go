package hub

import (
	"sync"
	"time"
)

// 输入指示的自动过期时间：超过该间隔没有新的 user-typing 事件，
// 就向房间广播 user-stopped-typing。
const typingExpiry = 2 * time.Second

// typingTracker 跟踪每个房间里正在输入的用户，到期自动广播停止事件。
type typingTracker struct {
	hub *Hub

	mu     sync.Mutex
	timers map[string]*time.Timer // roomID + "\x00" + username -> 过期定时器
}

func newTypingTracker(h *Hub) *typingTracker {
	return &typingTracker{
		hub:    h,
		timers: make(map[string]*time.Timer),
	}
}

func typingKey(roomID, username string) string {
	return roomID + "\x00" + username
}

// touch 刷新某用户的输入状态，把过期时钟重置为 typingExpiry。
func (t *typingTracker) touch(roomID, username string) {
	key := typingKey(roomID, username)

	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[key]; ok {
		timer.Stop()
	}
	t.timers[key] = time.AfterFunc(typingExpiry, func() {
		t.mu.Lock()
		delete(t.timers, key)
		t.mu.Unlock()
		t.hub.broadcast(roomID, marshalEvent(EvtUserStoppedTyping, map[string]interface{}{
			"username": username,
		}), nil)
	})
}

// cancel 清掉某用户挂起的过期定时器，不发广播 (断线时调用，
// disconnected 事件本身已足够让 UI 清理指示)。
func (t *typingTracker) cancel(roomID, username string) {
	key := typingKey(roomID, username)

	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
}

// stopAll 撤销全部挂起的定时器。仅在服务关停时调用。
func (t *typingTracker) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}
