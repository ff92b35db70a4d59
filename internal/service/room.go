package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collaborative-codepad/internal/domain"
	"collaborative-codepad/internal/repository"
)

// RoomService 是会话状态的唯一写入口。
// 同一房间上的每个读-改-写都在该房间的互斥锁内执行，
// 跨房间操作互不阻塞；这是系统中唯一的串行化边界。
type RoomService struct {
	roomRepo  repository.RoomRepository
	stateRepo repository.StateRepository

	// 按 roomID 粒度的锁集合
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(roomRepo repository.RoomRepository, stateRepo repository.StateRepository) *RoomService {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for RoomService")
	}
	if stateRepo == nil {
		panic("StateRepository cannot be nil for RoomService")
	}
	return &RoomService{
		roomRepo:  roomRepo,
		stateRepo: stateRepo,
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockRoom 获取指定房间的互斥锁，返回解锁函数。
func (s *RoomService) lockRoom(roomID string) func() {
	s.locksMu.Lock()
	lock, ok := s.locks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[roomID] = lock
	}
	s.locksMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// FindRoom 查找房间（含名册快照）。
func (s *RoomService) FindRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	room, err := s.roomRepo.FindByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		logrus.WithError(err).WithField("room_id", roomID).Error("FindRoom: repository error")
		return nil, ErrInternalServer
	}
	return room, nil
}

// UpsertMember 处理一次加入请求对应的名册变更。
//
// 语义：
//   - 房间不存在时创建房间，加入者成为 owner（仅限全新房间）
//   - sessionId 未见过时追加成员，角色为 editor
//   - sessionId 已存在时复用记录：更新 socketId、置为在线、刷新 lastActive，保留角色
//   - 加入者正是宽限期中的 owner 时，清除 OwnerDisconnectedAt（无需显式转移事件）
//
// 返回更新后的房间快照、对应成员、房间是否为新建，以及被顶替的旧连接标识
// （同一 sessionId 的重复标签页接管时非空）。
func (s *RoomService) UpsertMember(ctx context.Context, roomID, sessionID, username, socketID string) (*domain.Room, *domain.Member, bool, string, error) {
	unlock := s.lockRoom(roomID)
	defer unlock()

	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":    roomID,
		"session_id": sessionID,
		"username":   username,
		"socket_id":  socketID,
	})

	now := time.Now()
	created := false
	displacedSocket := ""

	room, err := s.roomRepo.FindByRoomID(ctx, roomID)
	if err != nil {
		if !errors.Is(err, repository.ErrRoomNotFound) {
			logCtx.WithError(err).Error("UpsertMember: failed to load room")
			return nil, nil, false, "", ErrInternalServer
		}
		// 首次加入未知 roomId，创建房间，加入者即为 owner
		room = &domain.Room{
			RoomID:         roomID,
			OwnerSessionID: sessionID,
			Permissions:    domain.Permissions{CanEdit: true, CanExecute: true, CanShare: true},
		}
		created = true
	}

	member := room.FindMemberBySession(sessionID)
	if member == nil {
		role := domain.RoleEditor
		// 全新房间的首个加入者成为 owner。fork 出的房间带着文档但没有任何
		// 成员，对首个加入者同样视为全新房间；已有名册的无主房间不在此列。
		if created || (len(room.Members) == 0 && room.OwnerSessionID == "") {
			role = domain.RoleOwner
			room.OwnerSessionID = sessionID
		}
		room.Members = append(room.Members, domain.Member{
			SessionID:   sessionID,
			SocketID:    socketID,
			Username:    username,
			Role:        role,
			IsConnected: true,
			LastActive:  now,
			JoinedAt:    now,
		})
		member = &room.Members[len(room.Members)-1]
	} else {
		// 幂等重连：复用成员记录，保留既有角色
		if member.IsConnected && member.SocketID != "" && member.SocketID != socketID {
			// 同一 sessionId 的重复标签页：接管 socketId，不产生第二条名册记录
			displacedSocket = member.SocketID
		}
		member.SocketID = socketID
		member.Username = username
		member.IsConnected = true
		member.LastActive = now
	}

	// 宽限期中的 owner 重连：ownerId 从未被清除，撤销宽限期即可
	if room.OwnerSessionID == sessionID && room.OwnerDisconnectedAt != nil {
		room.OwnerDisconnectedAt = nil
		logCtx.Info("UpsertMember: owner reconnected within grace period")
	}

	if err := s.roomRepo.Save(ctx, room); err != nil {
		logCtx.WithError(err).Error("UpsertMember: failed to save room")
		return nil, nil, false, "", ErrInternalServer
	}

	logCtx.WithFields(logrus.Fields{"room_created": created, "role": member.Role}).Info("Member upserted")
	return room, member, created, displacedSocket, nil
}

// RecordDisconnect 记录一次连接断开。
// 成员不会被移除：置为离线并盖上 lastActive 时间戳，保留聊天/光标历史的归属。
// 断开者是 owner 时盖上 OwnerDisconnectedAt，返回 wasOwner=true，
// 由调用方启动所有权转移宽限期。
func (s *RoomService) RecordDisconnect(ctx context.Context, roomID, socketID string) (*domain.Member, bool, error) {
	unlock := s.lockRoom(roomID)
	defer unlock()

	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "socket_id": socketID})

	room, err := s.roomRepo.FindByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, false, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("RecordDisconnect: failed to load room")
		return nil, false, ErrInternalServer
	}

	member := room.FindMemberBySocket(socketID)
	if member == nil {
		return nil, false, ErrMemberNotFound
	}

	now := time.Now()
	member.IsConnected = false
	member.LastActive = now

	wasOwner := room.OwnerSessionID != "" && room.OwnerSessionID == member.SessionID
	if wasOwner {
		room.OwnerDisconnectedAt = &now
	}

	if err := s.roomRepo.Save(ctx, room); err != nil {
		logCtx.WithError(err).Error("RecordDisconnect: failed to save room")
		return nil, false, ErrInternalServer
	}

	logCtx.WithFields(logrus.Fields{"username": member.Username, "was_owner": wasOwner}).Info("Member disconnect recorded")
	return member, wasOwner, nil
}

// CompleteOwnerTransfer 在宽限期到期时执行一次所有权转移检查。
//
// 重新读取房间：原 owner 仍离线时，从在线成员（排除原 owner）中
// 选出最早加入者晋升为新 owner；并列时按加入顺序，先加入者胜出。
// 无人在线时房间转为无主——之后的加入不会悄悄夺取所有权。
// 返回新 owner（未转移时为 nil）。
func (s *RoomService) CompleteOwnerTransfer(ctx context.Context, roomID string) (*domain.Member, error) {
	unlock := s.lockRoom(roomID)
	defer unlock()

	logCtx := logrus.WithField("room_id", roomID)

	room, err := s.roomRepo.FindByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("CompleteOwnerTransfer: failed to load room")
		return nil, ErrInternalServer
	}

	if room.OwnerDisconnectedAt == nil {
		// 宽限期已被其他路径撤销（owner 重连或已转移）
		logCtx.Debug("CompleteOwnerTransfer: grace period no longer pending")
		return nil, nil
	}

	departed := room.OwnerSessionID
	if m := room.FindMemberBySession(departed); m != nil && m.IsConnected {
		// 竞态兜底：owner 实际已回来
		room.OwnerDisconnectedAt = nil
		if err := s.roomRepo.Save(ctx, room); err != nil {
			logCtx.WithError(err).Error("CompleteOwnerTransfer: failed to save room")
			return nil, ErrInternalServer
		}
		return nil, nil
	}

	// 选出最长在线者：JoinedAt 最早的在线成员，排除离开的 owner
	var successor *domain.Member
	for i := range room.Members {
		m := &room.Members[i]
		if !m.IsConnected || m.SessionID == departed {
			continue
		}
		if successor == nil || m.JoinedAt.Before(successor.JoinedAt) {
			successor = m
		}
	}

	if successor == nil {
		// 无人在线：房间转为无主，之后不再重试
		room.OwnerSessionID = ""
		room.OwnerDisconnectedAt = nil
		if m := room.FindMemberBySession(departed); m != nil {
			m.Role = domain.RoleEditor
		}
		if err := s.roomRepo.Save(ctx, room); err != nil {
			logCtx.WithError(err).Error("CompleteOwnerTransfer: failed to save ownerless room")
			return nil, ErrInternalServer
		}
		logCtx.Info("Owner transfer expired with no connected members, room left ownerless")
		return nil, nil
	}

	// 晋升新 owner，降级旧 owner，保证名册中至多一个 owner
	successor.Role = domain.RoleOwner
	if m := room.FindMemberBySession(departed); m != nil {
		m.Role = domain.RoleEditor
	}
	room.OwnerSessionID = successor.SessionID
	room.OwnerDisconnectedAt = nil

	if err := s.roomRepo.Save(ctx, room); err != nil {
		logCtx.WithError(err).Error("CompleteOwnerTransfer: failed to save room")
		return nil, ErrInternalServer
	}

	logCtx.WithFields(logrus.Fields{
		"new_owner":  successor.Username,
		"session_id": successor.SessionID,
	}).Info("Room ownership transferred")
	return successor, nil
}

// UpdateMemberRole 修改目标连接对应成员的角色。
// 目标是当前 owner 时拒绝修改（owner 角色只能经由所有权转移变更）。
func (s *RoomService) UpdateMemberRole(ctx context.Context, roomID, targetSocketID string, newRole domain.Role) (*domain.Member, error) {
	if !newRole.IsValid() || newRole == domain.RoleOwner {
		return nil, ErrInvalidInput
	}

	unlock := s.lockRoom(roomID)
	defer unlock()

	room, err := s.roomRepo.FindByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		logrus.WithError(err).WithField("room_id", roomID).Error("UpdateMemberRole: failed to load room")
		return nil, ErrInternalServer
	}

	member := room.FindMemberBySocket(targetSocketID)
	if member == nil {
		return nil, ErrMemberNotFound
	}
	if member.SessionID == room.OwnerSessionID {
		// 不允许改动现任 owner 的角色
		return nil, ErrInvalidInput
	}

	member.Role = newRole
	if err := s.roomRepo.SaveMember(ctx, member); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("UpdateMemberRole: failed to save member")
		return nil, ErrInternalServer
	}
	return member, nil
}

// SetRoomPermissions 更新房间级权限开关。
func (s *RoomService) SetRoomPermissions(ctx context.Context, roomID string, perms domain.Permissions) error {
	unlock := s.lockRoom(roomID)
	defer unlock()

	room, err := s.roomRepo.FindByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return ErrRoomNotFound
		}
		logrus.WithError(err).WithField("room_id", roomID).Error("SetRoomPermissions: failed to load room")
		return ErrInternalServer
	}

	room.Permissions = perms
	if err := s.roomRepo.Save(ctx, room); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("SetRoomPermissions: failed to save room")
		return ErrInternalServer
	}
	return nil
}

// RemoveMember 将目标连接对应的成员从名册中移除（kick 路径）。
// 现任 owner 不可被移除。返回被移除的成员。
func (s *RoomService) RemoveMember(ctx context.Context, roomID, targetSocketID string) (*domain.Member, error) {
	unlock := s.lockRoom(roomID)
	defer unlock()

	room, err := s.roomRepo.FindByRoomID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		logrus.WithError(err).WithField("room_id", roomID).Error("RemoveMember: failed to load room")
		return nil, ErrInternalServer
	}

	member := room.FindMemberBySocket(targetSocketID)
	if member == nil {
		return nil, ErrMemberNotFound
	}
	if member.SessionID == room.OwnerSessionID {
		return nil, ErrInvalidInput
	}

	removed := *member
	if err := s.roomRepo.RemoveMember(ctx, member.ID); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("RemoveMember: failed to delete member")
		return nil, ErrInternalServer
	}
	logrus.WithFields(logrus.Fields{"room_id": roomID, "username": removed.Username}).Info("Member kicked from room")
	return &removed, nil
}

// CacheRoomCode 把最新文档写入 Redis 热副本。
// 广播路径上的调用是尽力而为的：失败只记日志，不阻断事件分发。
func (s *RoomService) CacheRoomCode(ctx context.Context, roomID, code string) {
	if err := s.stateRepo.SetRoomCode(ctx, roomID, code); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Warn("CacheRoomCode: failed to write hot copy")
	}
}

// FlushRoomCode 把 Redis 热副本落库到 MySQL。由后台任务调用。
func (s *RoomService) FlushRoomCode(ctx context.Context, roomID string) error {
	code, err := s.stateRepo.GetRoomCode(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// 没有热副本，无需落库
			return nil
		}
		return fmt.Errorf("flush room code: %w", err)
	}

	unlock := s.lockRoom(roomID)
	defer unlock()

	if err := s.roomRepo.UpdateCode(ctx, roomID, code); err != nil {
		return fmt.Errorf("flush room code: %w", err)
	}
	return nil
}

// CreateRoomWithCode 创建一个以给定代码为初始文档的新房间（fork 路径）。
// 房间此时还没有成员，首个加入者按全新房间规则成为 owner——
// 但这里已经有了文档，所以保留 OwnerSessionID 为空由首个 join 赋值。
func (s *RoomService) CreateRoomWithCode(ctx context.Context, code string) (string, error) {
	roomID, err := s.generateUniqueRoomID(ctx)
	if err != nil {
		logrus.WithError(err).Error("CreateRoomWithCode: failed to generate room id")
		return "", ErrInternalServer
	}

	room := &domain.Room{
		RoomID:      roomID,
		Code:        code,
		Permissions: domain.Permissions{CanEdit: true, CanExecute: true, CanShare: true},
	}
	if err := s.roomRepo.Save(ctx, room); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Error("CreateRoomWithCode: failed to save room")
		return "", ErrInternalServer
	}

	logrus.WithField("room_id", roomID).Info("Room created from forked snippet")
	return roomID, nil
}

// generateUniqueRoomID 生成唯一的 8 位房间 ID
func (s *RoomService) generateUniqueRoomID(ctx context.Context) (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	const idLength = 8
	const maxAttempts = 10

	b := make([]byte, idLength)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for i := range b {
			b[i] = letters[int(b[i])%len(letters)]
		}
		id := string(b)

		_, err := s.roomRepo.FindByRoomID(ctx, id)
		if errors.Is(err, repository.ErrRoomNotFound) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("database error checking room id: %w", err)
		}
		// id 已存在，重试
		logrus.WithField("room_id", id).Warnf("Generated room id already exists, retrying (attempt %d)...", attempt+1)
	}
	return "", fmt.Errorf("failed to generate a unique room id after %d attempts", maxAttempts)
}
