package domain

import "time"

// Role 表示成员在房间内的角色。
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// IsValid 检查角色取值是否为已定义的角色之一。
func (r Role) IsValid() bool {
	return r == RoleOwner || r == RoleEditor || r == RoleViewer
}

// Permissions 表示房间级别的权限开关，对所有非 owner 成员生效。
type Permissions struct {
	CanEdit    bool `gorm:"default:true" json:"canEdit"`
	CanExecute bool `gorm:"default:true" json:"canExecute"`
	CanShare   bool `gorm:"default:true" json:"canShare"`
}

// Room 表示一个协作编辑房间。
// RoomID 是对外可分享的房间标识；数据库主键 ID 仅内部使用。
type Room struct {
	ID                  uint        `gorm:"primaryKey"`
	RoomID              string      `gorm:"uniqueIndex;size:191;not null"` // 对外分享的房间 ID
	OwnerSessionID      string      `gorm:"size:191"`                      // 当前 owner 的 sessionId，空串表示无主
	OwnerDisconnectedAt *time.Time  // owner 断线时刻，非空表示宽限期进行中
	Code                string      `gorm:"type:longtext"` // 文档快照，尽力而为地更新
	Permissions         Permissions `gorm:"embedded"`
	Members             []Member    `gorm:"foreignKey:RoomRef"`
	CreatedAt           time.Time   `gorm:"autoCreateTime"`
	UpdatedAt           time.Time   `gorm:"autoUpdateTime"`
}

// Member 表示房间内的一个持久成员身份。
// 以 sessionId 标识，断线不删除，重连时复用同一条记录。
type Member struct {
	ID          uint      `gorm:"primaryKey"`
	RoomRef     uint      `gorm:"index;not null;uniqueIndex:idx_room_session"` // 所属房间 (Room.ID)
	SessionID   string    `gorm:"size:191;not null;uniqueIndex:idx_room_session"`
	SocketID    string    `gorm:"size:64"` // 当前连接标识，每次重连更新
	Username    string    `gorm:"size:191;not null"`
	Role        Role      `gorm:"size:16;not null;default:editor"`
	IsConnected bool      `gorm:"not null;default:true"`
	LastActive  time.Time `gorm:"index"`
	JoinedAt    time.Time `gorm:"not null"` // 首次加入时间，owner 转移时按此排序
}

// FindMemberBySession 按 sessionId 查找成员，未找到返回 nil。
func (r *Room) FindMemberBySession(sessionID string) *Member {
	for i := range r.Members {
		if r.Members[i].SessionID == sessionID {
			return &r.Members[i]
		}
	}
	return nil
}

// FindMemberBySocket 按当前连接标识查找成员，未找到返回 nil。
func (r *Room) FindMemberBySocket(socketID string) *Member {
	for i := range r.Members {
		if r.Members[i].SocketID == socketID {
			return &r.Members[i]
		}
	}
	return nil
}

// ConnectedMembers 返回当前在线的成员列表。
func (r *Room) ConnectedMembers() []Member {
	connected := make([]Member, 0, len(r.Members))
	for _, m := range r.Members {
		if m.IsConnected {
			connected = append(connected, m)
		}
	}
	return connected
}

// OwnerMember 返回当前 owner 对应的成员，房间无主时返回 nil。
func (r *Room) OwnerMember() *Member {
	if r.OwnerSessionID == "" {
		return nil
	}
	return r.FindMemberBySession(r.OwnerSessionID)
}
