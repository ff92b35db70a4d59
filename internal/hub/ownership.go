package hub

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// transferScheduler 管理 owner 断线后的宽限期定时器。
// 每个房间同一时刻最多一个挂起的转移；owner 在宽限期内重连则撤销。
type transferScheduler struct {
	hub         *Hub
	gracePeriod time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer // roomID -> 挂起的转移定时器
}

func newTransferScheduler(h *Hub, gracePeriod time.Duration) *transferScheduler {
	return &transferScheduler{
		hub:         h,
		gracePeriod: gracePeriod,
		timers:      make(map[string]*time.Timer),
	}
}

// schedule 为房间安排一次宽限期到期后的所有权转移。
// 已有挂起的定时器会先被撤销再重新计时。
func (s *transferScheduler) schedule(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[roomID]; ok {
		t.Stop()
	}
	s.timers[roomID] = time.AfterFunc(s.gracePeriod, func() {
		s.mu.Lock()
		delete(s.timers, roomID)
		s.mu.Unlock()
		s.hub.completeOwnerTransfer(roomID)
	})
	logrus.WithFields(logrus.Fields{
		"room_id":      roomID,
		"grace_period": s.gracePeriod,
	}).Debug("Owner transfer scheduled")
}

// cancel 撤销房间挂起的所有权转移 (owner 在宽限期内回来了)。
func (s *transferScheduler) cancel(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[roomID]; ok {
		t.Stop()
		delete(s.timers, roomID)
		logrus.WithField("room_id", roomID).Info("Pending owner transfer cancelled, owner reconnected")
	}
}

// stopAll 撤销全部挂起的转移。仅在服务关停时调用。
func (s *transferScheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for roomID, t := range s.timers {
		t.Stop()
		delete(s.timers, roomID)
	}
}
