package hub

import (
	"encoding/json"
	"fmt"

	"collaborative-codepad/internal/domain"
)

// 实时通道上的事件名。客户端和服务端共用一套命名。
const (
	EvtJoin              = "join"
	EvtJoined            = "joined"
	EvtDisconnected      = "disconnected"
	EvtCodeChange        = "code-change"
	EvtSyncCode          = "sync-code"
	EvtSyncRequest       = "sync-request"
	EvtGetOutput         = "get-output"
	EvtSendMessage       = "send-message"
	EvtUserTyping        = "user-typing"
	EvtUserStoppedTyping = "user-stopped-typing"
	EvtCursorMove        = "cursor-move"
	EvtMention           = "@mention"
	EvtUpdateRole        = "update-role"
	EvtRoleChange        = "role-change"
	EvtUpdatePermissions = "update-permissions"
	EvtPermissionsChange = "permissions-change"
	EvtKickUser          = "kick-user"
	EvtUserKicked        = "user-kicked"
	EvtOwnerDisconnected = "owner-disconnected"
	EvtOwnerTransferred  = "owner-transferred"
	EvtRateLimited       = "rate-limit-exceeded"
	EvtError             = "error"
)

// envelope 是入站消息的外层：只为取出事件名。
// 载荷是封闭的类型集合，按事件名解码到各自的结构体并校验，
// 不信任调用方字段，畸形载荷直接丢弃。
type envelope struct {
	Event string `json:"event"`
}

// ParseEvent 返回入站消息的事件名。
func ParseEvent(raw []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("malformed event envelope: %w", err)
	}
	if env.Event == "" {
		return "", fmt.Errorf("missing event name")
	}
	return env.Event, nil
}

// decodePayload 把完整消息解码到指定载荷结构体并校验。
func decodePayload(raw []byte, out interface{ validate() error }) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return out.validate()
}

// --- 入站载荷 ---

type joinPayload struct {
	RoomID    string `json:"roomId"`
	Username  string `json:"username"`
	SessionID string `json:"sessionId"`
}

func (p *joinPayload) validate() error {
	if p.RoomID == "" || p.Username == "" || p.SessionID == "" {
		return fmt.Errorf("join requires roomId, username and sessionId")
	}
	return nil
}

type codeChangePayload struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

func (p *codeChangePayload) validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("code-change requires roomId")
	}
	return nil
}

type syncCodePayload struct {
	SocketID string `json:"socketId"`
	Code     string `json:"code"`
}

func (p *syncCodePayload) validate() error {
	if p.SocketID == "" {
		return fmt.Errorf("sync-code requires socketId")
	}
	return nil
}

type getOutputPayload struct {
	RoomID string `json:"roomId"`
	Output string `json:"output"`
}

func (p *getOutputPayload) validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("get-output requires roomId")
	}
	return nil
}

type sendMessagePayload struct {
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
	Username string `json:"username"`
}

func (p *sendMessagePayload) validate() error {
	if p.RoomID == "" || p.Message == "" {
		return fmt.Errorf("send-message requires roomId and message")
	}
	return nil
}

type userTypingPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

func (p *userTypingPayload) validate() error {
	if p.RoomID == "" || p.Username == "" {
		return fmt.Errorf("user-typing requires roomId and username")
	}
	return nil
}

// cursorPosition 的 line/ch 用指针表达 "必须是数字且必须存在"。
type cursorPosition struct {
	Line *int `json:"line"`
	Ch   *int `json:"ch"`
}

type cursorMovePayload struct {
	RoomID   string         `json:"roomId"`
	Username string         `json:"username"`
	Cursor   cursorPosition `json:"cursor"`
}

func (p *cursorMovePayload) validate() error {
	if p.RoomID == "" || p.Username == "" {
		return fmt.Errorf("cursor-move requires roomId and username")
	}
	if p.Cursor.Line == nil || p.Cursor.Ch == nil {
		return fmt.Errorf("cursor-move requires numeric line and ch")
	}
	if *p.Cursor.Line < 0 || *p.Cursor.Ch < 0 {
		return fmt.Errorf("cursor position out of range")
	}
	return nil
}

type updateRolePayload struct {
	RoomID         string      `json:"roomId"`
	TargetSocketID string      `json:"targetSocketId"`
	NewRole        domain.Role `json:"newRole"`
}

func (p *updateRolePayload) validate() error {
	if p.RoomID == "" || p.TargetSocketID == "" {
		return fmt.Errorf("update-role requires roomId and targetSocketId")
	}
	if !p.NewRole.IsValid() {
		return fmt.Errorf("invalid role %q", p.NewRole)
	}
	return nil
}

type updatePermissionsPayload struct {
	RoomID      string             `json:"roomId"`
	Permissions domain.Permissions `json:"permissions"`
}

func (p *updatePermissionsPayload) validate() error {
	if p.RoomID == "" {
		return fmt.Errorf("update-permissions requires roomId")
	}
	return nil
}

type kickUserPayload struct {
	RoomID         string `json:"roomId"`
	TargetSocketID string `json:"targetSocketId"`
}

func (p *kickUserPayload) validate() error {
	if p.RoomID == "" || p.TargetSocketID == "" {
		return fmt.Errorf("kick-user requires roomId and targetSocketId")
	}
	return nil
}

// --- 出站辅助 ---

// rosterEntry 是 joined 事件携带的名册条目。
type rosterEntry struct {
	SocketID string      `json:"socketId"`
	Username string      `json:"username"`
	Role     domain.Role `json:"role"`
}

// marshalEvent 构造一条出站事件。payload 中的字段平铺在 event 字段旁。
func marshalEvent(event string, payload map[string]interface{}) []byte {
	msg := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		msg[k] = v
	}
	msg["event"] = event
	data, err := json.Marshal(msg)
	if err != nil {
		// 载荷全部来自服务端构造，序列化失败说明代码有错
		panic(fmt.Sprintf("hub: failed to marshal outbound event %s: %v", event, err))
	}
	return data
}
