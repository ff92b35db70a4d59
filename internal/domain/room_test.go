package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoom_FindMemberReturnsMutablePointer(t *testing.T) {
	room := &Room{
		Members: []Member{
			{SessionID: "s1", SocketID: "sock1", Username: "Alice"},
			{SessionID: "s2", SocketID: "sock2", Username: "Bob"},
		},
	}

	m := room.FindMemberBySession("s2")
	require.NotNil(t, m)
	m.IsConnected = true

	assert.True(t, room.Members[1].IsConnected, "返回的指针应指向名册内的记录")
	assert.Nil(t, room.FindMemberBySession("s3"))

	bySocket := room.FindMemberBySocket("sock1")
	require.NotNil(t, bySocket)
	assert.Equal(t, "Alice", bySocket.Username)
}

func TestRoom_ConnectedMembers(t *testing.T) {
	room := &Room{
		Members: []Member{
			{SessionID: "s1", IsConnected: true},
			{SessionID: "s2", IsConnected: false},
			{SessionID: "s3", IsConnected: true},
		},
	}

	connected := room.ConnectedMembers()
	require.Len(t, connected, 2)
	assert.Equal(t, "s1", connected[0].SessionID)
	assert.Equal(t, "s3", connected[1].SessionID)
}

func TestRole_IsValid(t *testing.T) {
	assert.True(t, RoleOwner.IsValid())
	assert.True(t, RoleEditor.IsValid())
	assert.True(t, RoleViewer.IsValid())
	assert.False(t, Role("admin").IsValid())
}

func TestCodeShare_Expired(t *testing.T) {
	now := time.Now()
	share := CodeShare{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, share.Expired(now))
	assert.True(t, share.Expired(now.Add(2*time.Minute)))
}
