package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collaborative-codepad/internal/domain"
	"collaborative-codepad/internal/repository"
	"collaborative-codepad/internal/repository/mocks"
	"collaborative-codepad/internal/service"
)

func newRoomService(t *testing.T) (*service.RoomService, *mocks.RoomRepository, *mocks.StateRepository) {
	t.Helper()
	roomRepo := new(mocks.RoomRepository)
	stateRepo := new(mocks.StateRepository)
	return service.NewRoomService(roomRepo, stateRepo), roomRepo, stateRepo
}

// --- UpsertMember ---

func TestRoomService_UpsertMember_CreatesRoomWithOwner(t *testing.T) {
	// Arrange
	svc, roomRepo, _ := newRoomService(t)
	ctx := context.Background()

	roomRepo.On("FindByRoomID", mock.Anything, "room1").Return(nil, repository.ErrRoomNotFound).Once()
	roomRepo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Room")).Return(nil).Once()

	// Act
	room, member, created, displaced, err := svc.UpsertMember(ctx, "room1", "sess-a", "Alice", "sock1")

	// Assert
	require.NoError(t, err)
	assert.True(t, created, "未知 roomId 应创建房间")
	assert.Empty(t, displaced)
	assert.Equal(t, "sess-a", room.OwnerSessionID, "首个加入者应成为 owner")
	assert.Equal(t, domain.RoleOwner, member.Role)
	assert.True(t, member.IsConnected)
	assert.True(t, room.Permissions.CanEdit, "新房间应放开全部权限开关")
	roomRepo.AssertExpectations(t)
}

func TestRoomService_UpsertMember_RejoinKeepsRole(t *testing.T) {
	// Arrange: 名册里已有同 sessionId 的离线 viewer
	svc, roomRepo, _ := newRoomService(t)
	existing := &domain.Room{
		RoomID:         "room1",
		OwnerSessionID: "sess-owner",
		Members: []domain.Member{
			{SessionID: "sess-owner", SocketID: "sock-o", Username: "Owner", Role: domain.RoleOwner, IsConnected: true},
			{SessionID: "sess-b", SocketID: "", Username: "Bob", Role: domain.RoleViewer, IsConnected: false},
		},
	}
	roomRepo.On("FindByRoomID", mock.Anything, "room1").Return(existing, nil).Once()
	roomRepo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Room")).Return(nil).Once()

	// Act
	room, member, created, displaced, err := svc.UpsertMember(context.Background(), "room1", "sess-b", "Bob", "sock-new")

	// Assert: 复用记录，角色保留，不产生新成员
	require.NoError(t, err)
	assert.False(t, created)
	assert.Empty(t, displaced, "离线重连不应顶替任何连接")
	assert.Equal(t, domain.RoleViewer, member.Role, "重连应保留既有角色")
	assert.Equal(t, "sock-new", member.SocketID)
	assert.True(t, member.IsConnected)
	assert.Len(t, room.Members, 2, "重连不应追加名册记录")
	roomRepo.AssertExpectations(t)
}

func TestRoomService_UpsertMember_DuplicateTabTakesOverSocket(t *testing.T) {
	// Arrange: 同一 sessionId 已有在线连接
	svc, roomRepo, _ := newRoomService(t)
	existing := &domain.Room{
		RoomID:         "room1",
		OwnerSessionID: "sess-a",
		Members: []domain.Member{
			{SessionID: "sess-a", SocketID: "sock-old", Username: "Alice", Role: domain.RoleOwner, IsConnected: true},
		},
	}
	roomRepo.On("FindByRoomID", mock.Anything, "room1").Return(existing, nil).Once()
	roomRepo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Room")).Return(nil).Once()

	// Act
	_, member, _, displaced, err := svc.UpsertMember(context.Background(), "room1", "sess-a", "Alice", "sock-new")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "sock-old", displaced, "旧标签页的连接应被顶替")
	assert.Equal(t, "sock-new", member.SocketID)
	roomRepo.AssertExpectations(t)
}

func TestRoomService_UpsertMember_OwnerReconnectClearsGracePeriod(t *testing.T) {
	// Arrange: owner 在宽限期中
	svc, roomRepo, _ := newRoomService(t)
	disconnectedAt := time.Now().Add(-time.Minute)
	existing := &domain.Room{
		RoomID:              "room1",
		OwnerSessionID:      "sess-a",
		OwnerDisconnectedAt: &disconnectedAt,
		Members: []domain.Member{
			{SessionID: "sess-a", SocketID: "sock-old", Username: "Alice", Role: domain.RoleOwner, IsConnected: false},
		},
	}
	roomRepo.On("FindByRoomID", mock.Anything, "room1").Return(existing, nil).Once()
	roomRepo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Room")).Return(nil).Once()

	// Act
	room, member, _, _, err := svc.UpsertMember(context.Background(), "room1", "sess-a", "Alice", "sock-new")

	// Assert: ownerId 从未被转移，宽限期被撤销
	require.NoError(t, err)
	assert.Nil(t, room.OwnerDisconnectedAt, "owner 重连应清除宽限期时间戳")
	assert.Equal(t, "sess-a", room.OwnerSessionID)
	assert.Equal(t, domain.RoleOwner, member.Role)
	roomRepo.AssertExpectations(t)
}

func TestRoomService_UpsertMember_ForkedRoomFirstJoinerBecomesOwner(t *testing.T) {
	// Arrange: fork 出的房间带着文档但没有任何成员
	svc, roomRepo, _ := newRoomService(t)
	forked := &domain.Room{RoomID: "room1", Code: "print(1)", Permissions: domain.Permissions{CanEdit: true, CanExecute: true, CanShare: true}}
	roomRepo.On("FindByRoomID", mock.Anything, "room1").Return(forked, nil).Once()
	roomRepo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Room")).Return(nil).Once()

	// Act
	room, member, created, _, err := svc.UpsertMember(context.Background(), "room1", "sess-a", "Alice", "sock1")

	// Assert
	require.NoError(t, err)
	assert.False(t, created, "房间已存在，不算新建")
	assert.Equal(t, domain.RoleOwner, member.Role, "fork 房间的首个加入者应成为 owner")
	assert.Equal(t, "sess-a", room.OwnerSessionID)
	roomRepo.AssertExpectations(t)
}

func TestRoomService_UpsertMember_OwnerlessRoomStaysVacant(t *testing.T) {
	// Arrange: 宽限期到期后转为无主的房间，名册非空
	svc, roomRepo, _ := newRoomService(t)
	existing := &domain.Room{
		RoomID:         "room1",
		OwnerSessionID: "",
		Members: []domain.Member{
			{SessionID: "sess-old", SocketID: "", Username: "Old", Role: domain.RoleEditor, IsConnected: false},
		},
	}
	roomRepo.On("FindByRoomID", mock.Anything, "room1").Return(existing, nil).Once()
	roomRepo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Room")).Return(nil).Once()

	// Act
	room, member, _, _, err := svc.UpsertMember(context.Background(), "room1", "sess-new", "New", "sock1")

	// Assert: 新加入者不能悄悄夺取所有权
	require.NoError(t, err)
	assert.Equal(t, domain.RoleEditor, member.Role)
	assert.Empty(t, room.OwnerSessionID, "有名册的无主房间应保持无主")
	roomRepo.AssertExpectations(t)
}

// --- RecordDisconnect ---

func TestRoomService_RecordDisconnect_OwnerStampsGracePeriod(t *testing.T) {
	// Arrange
	svc, roomRepo, _ := newRoomService(t)
	existing := &domain.Room{
		RoomID:         "room1",
		OwnerSessionID: "sess-a",
		Members: []domain.Member{
			{SessionID: "sess-a", SocketID: "sock1", Username: "Alice", Role: domain.RoleOwner, IsConnected: true},
		},
	}
	roomRepo.On("FindByRoomID", mock.Anything, "room1").Return(existing, nil).Once()
	roomRepo.On("Save", mock.Anything, mock.MatchedBy(func(room *domain.Room) bool {
		return room.OwnerDisconnectedAt != nil && !room.Members[0].IsConnected
	})).Return(nil).Once()

	// Act
	member, wasOwner, err := svc.RecordDisconnect(context.Background(), "room1", "sock1")

	// Assert
	require.NoError(t, err)
	assert.True(t, wasOwner)
	assert.Equal(t, "Alice", member.Username)
	assert.Equal(t, "sess-a", existing.OwnerSessionID, "宽限期内 ownerId 不应被清除")
	roomRepo.AssertExpectations(t)
}

func TestRoomService_RecordDisconnect_UnknownSocket(t *testing.T) {
	// Arrange: 成员已被接管或移除
	svc, roomRepo, _ := newRoomService(t)
	existing := &domain.Room{RoomID: "room1", OwnerSessionID: "sess-a"}
	roomRepo.On("FindByRoomID", mock.Anything, "room1").Return(existing, nil).Once()

	// Act
	_, _, err := svc.RecordDisconnect(context.Background(), "room1", "sock-gone")

	// Assert
	assert.ErrorIs(t, err, service.ErrMemberNotFound)
	roomRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

// --- CompleteOwnerTransfer ---

func TestRoomService_CompleteOwnerTransfer_PromotesEarliestJoined(t *testing.T) {
	// Arrange: owner 离线已过宽限期，s3 比 s2 更早加入
	svc, roomRepo, _ := newRoomService(t)
	disconnectedAt := time.Now().Add(-11 * time.Minute)
	base := time.Now().Add(-time.Hour)
	existing := &domain.Room{
		RoomID:              "room1",
		OwnerSessionID:      "sess-a",
		OwnerDisconnectedAt: &disconnectedAt,
		Members: []domain.Member{
			{SessionID: "sess-a", Username: "Alice", Role: domain.RoleOwner, IsConnected: false, JoinedAt: base},
			{SessionID: "sess-b", Username: "Bob", Role: domain.RoleEditor, IsConnected: true, JoinedAt: base.Add(20 * time.Minute)},
			{SessionID: "sess-c", Username: "Carol", Role: domain.RoleViewer, IsConnected: true, JoinedAt: base.Add(10 * time.Minute)},
		},
	}
	roomRepo.On("FindByRoomID", mock.Anything, "room1").Return(existing, nil).Once()
	roomRepo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Room")).Return(nil).Once()

	// Act
	successor, err := svc.CompleteOwnerTransfer(context.Background(), "room1")

	// Assert: 最早加入的在线成员晋升，旧 owner 降级，名册中至多一个 owner
	require.NoError(t, err)
	require.NotNil(t, successor)
	assert.Equal(t, "Carol", successor.Username, "应晋升最早加入的在线成员")
	assert.Equal(t, domain.RoleOwner, successor.Role)
	assert.Equal(t, "sess-c", existing.OwnerSessionID)
	assert.Nil(t, existing.OwnerDisconnectedAt)
	assert.Equal(t, domain.RoleEditor, existing.Members[0].Role, "旧 owner 应降级为 editor")
	roomRepo.AssertExpectations(t)
}

func TestRoomService_CompleteOwnerTransfer_NoConnectedMembersLeavesRoomOwnerless(t *testing.T) {
	// Arrange
	svc, roomRepo, _ := newRoomService(t)
	disconnectedAt := time.Now().Add(-11 * time.Minute)
	existing := &domain.Room{
		RoomID:              "room1",
		OwnerSessionID:      "sess-a",
		OwnerDisconnectedAt: &disconnectedAt,
		Members: []domain.Member{
			{SessionID: "sess-a", Username: "Alice", Role: domain.RoleOwner, IsConnected: false},
			{SessionID: "sess-b", Username: "Bob", Role: domain.RoleEditor, IsConnected: false},
		},
	}
	roomRepo.On("FindByRoomID", mock.Anything, "room1").Return(existing, nil).Once()
	roomRepo.On("Save", mock.Anything, mock.AnythingOfType("*domain.Room")).Return(nil).Once()

	// Act
	successor, err := svc.CompleteOwnerTransfer(context.Background(), "room1")

	// Assert
	require.NoError(t, err)
	assert.Nil(t, successor, "无人在线时不应晋升任何成员")
	assert.Empty(t, existing.OwnerSessionID, "房间应转为无主")
	assert.Nil(t, existing.OwnerDisconnectedAt)
	assert.Equal(t, domain.RoleEditor, existing.Members[0].Role)
	roomRepo.AssertExpectations(t)
}

func TestRoomService_CompleteOwnerTransfer_NoopWhenGraceCleared(t *testing.T) {
	// Arrange: owner 已重连，宽限期时间戳被清除
	svc, roomRepo, _ := newRoomService(t)
	existing := &domain.Room{RoomID: "room1", OwnerSessionID: "sess-a"}
	roomRepo.On("FindByRoomID", mock.Anything, "room1").Return(existing, nil).Once()

	// Act
	successor, err := svc.CompleteOwnerTransfer(context.Background(), "room1")

	// Assert
	require.NoError(t, err)
	assert.Nil(t, successor)
	roomRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

// --- UpdateMemberRole / RemoveMember ---

func TestRoomService_UpdateMemberRole_RejectsOwnerRole(t *testing.T) {
	svc, roomRepo, _ := newRoomService(t)

	_, err := svc.UpdateMemberRole(context.Background(), "room1", "sock1", domain.RoleOwner)

	assert.ErrorIs(t, err, service.ErrInvalidInput, "owner 角色只能经由所有权转移授予")
	roomRepo.AssertNotCalled(t, "FindByRoomID", mock.Anything, mock.Anything)
}

func TestRoomService_UpdateMemberRole_RejectsCurrentOwnerTarget(t *testing.T) {
	// Arrange
	svc, roomRepo, _ := newRoomService(t)
	existing := &domain.Room{
		RoomID:         "room1",
		OwnerSessionID: "sess-a",
		Members: []domain.Member{
			{SessionID: "sess-a", SocketID: "sock-owner", Username: "Alice", Role: domain.RoleOwner, IsConnected: true},
		},
	}
	roomRepo.On("FindByRoomID", mock.Anything, "room1").Return(existing, nil).Once()

	// Act
	_, err := svc.UpdateMemberRole(context.Background(), "room1", "sock-owner", domain.RoleViewer)

	// Assert
	assert.ErrorIs(t, err, service.ErrInvalidInput, "不允许改动现任 owner 的角色")
	roomRepo.AssertNotCalled(t, "SaveMember", mock.Anything, mock.Anything)
}

func TestRoomService_UpdateMemberRole_Success(t *testing.T) {
	// Arrange
	svc, roomRepo, _ := newRoomService(t)
	existing := &domain.Room{
		RoomID:         "room1",
		OwnerSessionID: "sess-a",
		Members: []domain.Member{
			{ID: 7, SessionID: "sess-b", SocketID: "sock-b", Username: "Bob", Role: domain.RoleEditor, IsConnected: true},
		},
	}
	roomRepo.On("FindByRoomID", mock.Anything, "room1").Return(existing, nil).Once()
	roomRepo.On("SaveMember", mock.Anything, mock.MatchedBy(func(m *domain.Member) bool {
		return m.ID == 7 && m.Role == domain.RoleViewer
	})).Return(nil).Once()

	// Act
	member, err := svc.UpdateMemberRole(context.Background(), "room1", "sock-b", domain.RoleViewer)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.RoleViewer, member.Role)
	roomRepo.AssertExpectations(t)
}

func TestRoomService_RemoveMember_OwnerNotRemovable(t *testing.T) {
	// Arrange
	svc, roomRepo, _ := newRoomService(t)
	existing := &domain.Room{
		RoomID:         "room1",
		OwnerSessionID: "sess-a",
		Members: []domain.Member{
			{SessionID: "sess-a", SocketID: "sock-owner", Role: domain.RoleOwner, IsConnected: true},
		},
	}
	roomRepo.On("FindByRoomID", mock.Anything, "room1").Return(existing, nil).Once()

	// Act
	_, err := svc.RemoveMember(context.Background(), "room1", "sock-owner")

	// Assert
	assert.ErrorIs(t, err, service.ErrInvalidInput)
	roomRepo.AssertNotCalled(t, "RemoveMember", mock.Anything, mock.Anything)
}

// --- FlushRoomCode ---

func TestRoomService_FlushRoomCode_WritesHotCopyToDB(t *testing.T) {
	// Arrange
	svc, roomRepo, stateRepo := newRoomService(t)
	stateRepo.On("GetRoomCode", mock.Anything, "room1").Return("latest code", nil).Once()
	roomRepo.On("UpdateCode", mock.Anything, "room1", "latest code").Return(nil).Once()

	// Act
	err := svc.FlushRoomCode(context.Background(), "room1")

	// Assert
	assert.NoError(t, err)
	roomRepo.AssertExpectations(t)
	stateRepo.AssertExpectations(t)
}

func TestRoomService_FlushRoomCode_NoHotCopyIsNoop(t *testing.T) {
	// Arrange
	svc, roomRepo, stateRepo := newRoomService(t)
	stateRepo.On("GetRoomCode", mock.Anything, "room1").Return("", repository.ErrNotFound).Once()

	// Act
	err := svc.FlushRoomCode(context.Background(), "room1")

	// Assert
	assert.NoError(t, err, "热副本不存在时不算失败")
	roomRepo.AssertNotCalled(t, "UpdateCode", mock.Anything, mock.Anything, mock.Anything)
}
