// Package mocks 提供 repository 接口的 testify Mock 实现，供 Service 层测试使用。
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"collaborative-codepad/internal/domain"
)

// RoomRepository 是 repository.RoomRepository 的 Mock 实现
type RoomRepository struct {
	mock.Mock
}

func (m *RoomRepository) FindByRoomID(ctx context.Context, roomID string) (*domain.Room, error) {
	args := m.Called(ctx, roomID)
	if room, ok := args.Get(0).(*domain.Room); ok {
		return room, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RoomRepository) Save(ctx context.Context, room *domain.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

func (m *RoomRepository) SaveMember(ctx context.Context, member *domain.Member) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

func (m *RoomRepository) UpdateCode(ctx context.Context, roomID string, code string) error {
	args := m.Called(ctx, roomID, code)
	return args.Error(0)
}

func (m *RoomRepository) RemoveMember(ctx context.Context, memberID uint) error {
	args := m.Called(ctx, memberID)
	return args.Error(0)
}

// ShareRepository 是 repository.ShareRepository 的 Mock 实现
type ShareRepository struct {
	mock.Mock
}

func (m *ShareRepository) FindByLinkID(ctx context.Context, linkID string) (*domain.CodeShare, error) {
	args := m.Called(ctx, linkID)
	if share, ok := args.Get(0).(*domain.CodeShare); ok {
		return share, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ShareRepository) Save(ctx context.Context, share *domain.CodeShare) error {
	args := m.Called(ctx, share)
	return args.Error(0)
}

func (m *ShareRepository) IsLinkIDExists(ctx context.Context, linkID string) (bool, error) {
	args := m.Called(ctx, linkID)
	return args.Bool(0), args.Error(1)
}

func (m *ShareRepository) DeleteExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// StateRepository 是 repository.StateRepository 的 Mock 实现
type StateRepository struct {
	mock.Mock
}

func (m *StateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func (m *StateRepository) SetRoomCode(ctx context.Context, roomID string, code string) error {
	args := m.Called(ctx, roomID, code)
	return args.Error(0)
}

func (m *StateRepository) GetRoomCode(ctx context.Context, roomID string) (string, error) {
	args := m.Called(ctx, roomID)
	return args.String(0), args.Error(1)
}
