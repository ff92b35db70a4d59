package hub

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collaborative-codepad/internal/service"
	"collaborative-codepad/internal/tasks"
)

// 文档快照落库的去抖间隔：同一房间的 flush 任务在队列中最多存在一个。
const codeFlushDelay = 30 * time.Second

type messageKind int

const (
	msgRegister messageKind = iota
	msgUnregister
)

// hubMessage 是 Hub 生命周期通道上传递的消息
type hubMessage struct {
	kind   messageKind
	client *Client
}

// Hub 维护活跃连接集合，负责在线状态管理与事件广播。
//
// 连接的注册/注销经由 messageChan 串行处理；业务事件由每条连接
// 自己的读 goroutine 同步调用 HandleEvent 分发，房间级读-改-写的
// 串行化由 RoomService 的房间锁保证。
type Hub struct {
	messageChan chan hubMessage
	done        chan struct{} // 关停信号；messageChan 永不关闭，避免与在途发送竞争

	// 连接注册表
	roomsMu  sync.RWMutex
	rooms    map[string]map[*Client]bool // roomID -> 已 join 的连接
	bySocket map[string]*Client          // socketID -> 连接

	roomSvc     *service.RoomService
	asynqClient *asynq.Client

	transfers *transferScheduler
	typing    *typingTracker
}

// NewHub 创建并返回一个新的 Hub 实例。
// gracePeriod 是 owner 断线后到所有权转移之间的宽限期。
func NewHub(roomSvc *service.RoomService, asynqClient *asynq.Client, gracePeriod time.Duration) *Hub {
	if roomSvc == nil {
		panic("RoomService cannot be nil for Hub")
	}
	if asynqClient == nil {
		panic("asynq client cannot be nil for Hub")
	}
	h := &Hub{
		messageChan: make(chan hubMessage, 512),
		done:        make(chan struct{}),
		rooms:       make(map[string]map[*Client]bool),
		bySocket:    make(map[string]*Client),
		roomSvc:     roomSvc,
		asynqClient: asynqClient,
	}
	h.transfers = newTransferScheduler(h, gracePeriod)
	h.typing = newTypingTracker(h)
	return h
}

// Run 启动 Hub 的生命周期事件循环。
// 它应该在一个单独的 goroutine 中运行。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")

	for {
		select {
		case msg := <-h.messageChan:
			switch msg.kind {
			case msgRegister:
				h.registerClient(msg.client)
			case msgUnregister:
				h.unregisterClient(msg.client)
			}
		case <-h.done:
			log.Info("Hub is shutting down...")
			return
		}
	}
}

// Register 把一条新升级的连接排入注册队列 (非阻塞)。
// 返回 false 表示队列已满或 Hub 已停止，调用方应关闭连接。
func (h *Hub) Register(client *Client) bool {
	select {
	case <-h.done:
		logrus.WithField("socket_id", client.socketID).Warn("Hub stopped, rejecting connection")
		return false
	default:
	}
	select {
	case h.messageChan <- hubMessage{kind: msgRegister, client: client}:
		return true
	case <-h.done:
		logrus.WithField("socket_id", client.socketID).Warn("Hub stopped, rejecting connection")
		return false
	default:
		logrus.WithField("socket_id", client.socketID).Warn("Hub message channel full, rejecting connection")
		return false
	}
}

// Stop 停止所有挂起的定时器并发出关停信号。
// 不关闭 messageChan：停机窗口内仍可能有存活连接向其发送。
func (h *Hub) Stop() {
	h.transfers.stopAll()
	h.typing.stopAll()
	close(h.done)
}

func (h *Hub) registerClient(client *Client) {
	if client == nil {
		return
	}
	h.roomsMu.Lock()
	h.bySocket[client.socketID] = client
	h.roomsMu.Unlock()
	logrus.WithField("socket_id", client.socketID).Debug("Client registered to Hub")
}

func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{"socket_id": client.socketID, "room_id": client.roomID})

	h.roomsMu.Lock()
	delete(h.bySocket, client.socketID)
	if client.joined {
		if roomClients, ok := h.rooms[client.roomID]; ok {
			delete(roomClients, client)
			if len(roomClients) == 0 {
				delete(h.rooms, client.roomID)
			}
		}
	}
	close(client.send)
	h.roomsMu.Unlock()
	logCtx.Info("Client unregistered from Hub")

	if client.joined {
		// 断线簿记涉及存储 IO，放到独立 goroutine，避免阻塞生命周期循环
		go h.finishDisconnect(client)
	}
}

// finishDisconnect 完成一次断线的名册簿记和广播。
func (h *Hub) finishDisconnect(client *Client) {
	ctx := context.Background()
	logCtx := logrus.WithFields(logrus.Fields{"socket_id": client.socketID, "room_id": client.roomID})

	h.typing.cancel(client.roomID, client.username)

	member, wasOwner, err := h.roomSvc.RecordDisconnect(ctx, client.roomID, client.socketID)
	if err != nil {
		if errors.Is(err, service.ErrMemberNotFound) {
			// 成员已被接管 (重复标签页) 或已被移出名册 (kick)，无需簿记
			logCtx.Debug("Disconnect bookkeeping skipped, member gone or taken over")
			return
		}
		// 存储不可用只影响本次操作：事件丢弃并记日志，库里的旧状态仍是权威
		logCtx.WithError(err).Error("Failed to record disconnect")
		return
	}

	h.broadcast(client.roomID, marshalEvent(EvtDisconnected, map[string]interface{}{
		"socketId": client.socketID,
		"username": member.Username,
	}), client)

	if wasOwner {
		h.broadcast(client.roomID, marshalEvent(EvtOwnerDisconnected, map[string]interface{}{
			"username": member.Username,
		}), client)
		h.transfers.schedule(client.roomID)
		logCtx.WithField("username", member.Username).Info("Owner disconnected, grace period started")
	}

	// 房间空了就把文档热副本落库
	if len(h.roomClients(client.roomID)) == 0 {
		h.enqueueCodeFlush(client.roomID)
	}
}

// HandleEvent 分发一条入站事件。由连接自己的读 goroutine 同步调用。
func (h *Hub) HandleEvent(c *Client, raw []byte) {
	event, err := ParseEvent(raw)
	if err != nil {
		logrus.WithField("socket_id", c.socketID).WithError(err).Warn("Dropping malformed event")
		return
	}

	// join 之前只接受 join
	if !c.joined && event != EvtJoin {
		logrus.WithFields(logrus.Fields{"socket_id": c.socketID, "event": event}).Warn("Dropping event from client that has not joined")
		return
	}

	switch event {
	case EvtJoin:
		h.onJoin(c, raw)
	case EvtCodeChange:
		h.onCodeChange(c, raw)
	case EvtSyncCode:
		h.onSyncCode(c, raw)
	case EvtGetOutput:
		h.onGetOutput(c, raw)
	case EvtSendMessage:
		h.onSendMessage(c, raw)
	case EvtUserTyping:
		h.onUserTyping(c, raw)
	case EvtCursorMove:
		h.onCursorMove(c, raw)
	case EvtUpdateRole:
		h.onUpdateRole(c, raw)
	case EvtUpdatePermissions:
		h.onUpdatePermissions(c, raw)
	case EvtKickUser:
		h.onKickUser(c, raw)
	default:
		logrus.WithFields(logrus.Fields{"socket_id": c.socketID, "event": event}).Warn("Unknown event type")
	}
}

// onJoin 处理加入请求：名册 upsert、进入广播组、在线名册广播、文档同步。
func (h *Hub) onJoin(c *Client, raw []byte) {
	var p joinPayload
	if err := decodePayload(raw, &p); err != nil {
		logrus.WithField("socket_id", c.socketID).WithError(err).Warn("Dropping invalid join")
		return
	}
	if c.joined {
		logrus.WithField("socket_id", c.socketID).Warn("Duplicate join on same connection ignored")
		return
	}

	ctx := context.Background()
	logCtx := logrus.WithFields(logrus.Fields{
		"socket_id":  c.socketID,
		"room_id":    p.RoomID,
		"session_id": p.SessionID,
		"username":   p.Username,
	})

	room, member, _, displacedSocket, err := h.roomSvc.UpsertMember(ctx, p.RoomID, p.SessionID, p.Username, c.socketID)
	if err != nil {
		// 加入失败整体失败：向请求连接回报，不在热路径里重试
		logCtx.WithError(err).Error("Join failed")
		h.sendClient(c, marshalEvent(EvtError, map[string]interface{}{
			"message": "Failed to join room",
		}))
		return
	}

	// 同一 sessionId 的旧标签页被接管：踢掉旧连接，不产生第二条名册记录
	if displacedSocket != "" {
		if old := h.clientBySocket(displacedSocket); old != nil {
			logCtx.WithField("displaced_socket", displacedSocket).Info("Duplicate tab takeover, closing old connection")
			old.CloseConn()
		}
	}

	// 填充连接上下文，然后进入房间广播组。
	// 字段在加入注册表之前写入，之后只读。
	c.roomID = p.RoomID
	c.sessionID = p.SessionID
	c.username = p.Username
	c.joined = true

	h.roomsMu.Lock()
	if _, ok := h.rooms[p.RoomID]; !ok {
		h.rooms[p.RoomID] = make(map[*Client]bool)
	}
	h.rooms[p.RoomID][c] = true
	h.roomsMu.Unlock()

	// 宽限期中的 owner 回来了：撤销挂起的所有权转移
	if room.OwnerSessionID == p.SessionID {
		h.transfers.cancel(p.RoomID)
	}

	roster := make([]rosterEntry, 0, len(room.Members))
	for _, m := range room.ConnectedMembers() {
		roster = append(roster, rosterEntry{SocketID: m.SocketID, Username: m.Username, Role: m.Role})
	}

	h.broadcast(p.RoomID, marshalEvent(EvtJoined, map[string]interface{}{
		"clients":     roster,
		"username":    p.Username,
		"socketId":    c.socketID,
		"permissions": room.Permissions,
	}), nil)

	// 文档同步：优先让某个在线同伴推送最新文档 (存储的快照可能滞后)，
	// 没有同伴时才退回存储的快照
	if peer := h.pickPeer(p.RoomID, c); peer != nil {
		h.sendClient(peer, marshalEvent(EvtSyncRequest, map[string]interface{}{
			"socketId": c.socketID,
		}))
	} else if room.Code != "" {
		h.sendClient(c, marshalEvent(EvtCodeChange, map[string]interface{}{
			"code": room.Code,
		}))
	}

	logCtx.WithField("role", member.Role).Info("Client joined room")
}

func (h *Hub) onCodeChange(c *Client, raw []byte) {
	var p codeChangePayload
	if err := decodePayload(raw, &p); err != nil {
		logrus.WithField("socket_id", c.socketID).WithError(err).Warn("Dropping invalid code-change")
		return
	}

	h.broadcast(c.roomID, marshalEvent(EvtCodeChange, map[string]interface{}{
		"code": p.Code,
	}), c)

	// 文档快照是尽力而为的：热副本立即进 Redis，落库由去抖的后台任务完成
	h.roomSvc.CacheRoomCode(context.Background(), c.roomID, p.Code)
	h.enqueueCodeFlush(c.roomID)
}

// onSyncCode 把完整文档投递给指定的单条连接 (join 时的同步回程)。
func (h *Hub) onSyncCode(c *Client, raw []byte) {
	var p syncCodePayload
	if err := decodePayload(raw, &p); err != nil {
		logrus.WithField("socket_id", c.socketID).WithError(err).Warn("Dropping invalid sync-code")
		return
	}
	h.sendTo(p.SocketID, marshalEvent(EvtCodeChange, map[string]interface{}{
		"code": p.Code,
	}))
}

func (h *Hub) onGetOutput(c *Client, raw []byte) {
	var p getOutputPayload
	if err := decodePayload(raw, &p); err != nil {
		logrus.WithField("socket_id", c.socketID).WithError(err).Warn("Dropping invalid get-output")
		return
	}
	h.broadcast(c.roomID, marshalEvent(EvtGetOutput, map[string]interface{}{
		"output": p.Output,
	}), c)
}

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// onSendMessage 处理聊天消息：限流、@提及扫描、广播。
func (h *Hub) onSendMessage(c *Client, raw []byte) {
	var p sendMessagePayload
	if err := decodePayload(raw, &p); err != nil {
		logrus.WithField("socket_id", c.socketID).WithError(err).Warn("Dropping invalid send-message")
		return
	}

	// 令牌桶只被本连接的 goroutine 触碰，无需加锁
	if !c.chatBucket.tryConsume() {
		h.sendClient(c, marshalEvent(EvtRateLimited, map[string]interface{}{
			"message": "You are sending messages too quickly",
		}))
		logrus.WithField("socket_id", c.socketID).Debug("Chat message rate limited")
		return
	}

	tokens := mentionPattern.FindAllStringSubmatch(p.Message, -1)
	mentions := make([]string, 0, len(tokens))
	notified := make(map[string]bool) // 每条消息对同一用户只提醒一次

	h.roomsMu.RLock()
	for _, tok := range tokens {
		mentions = append(mentions, tok[0])
		name := strings.ToLower(tok[1])
		for peer := range h.rooms[c.roomID] {
			if peer == c || !strings.EqualFold(peer.username, name) || notified[peer.sessionID] {
				continue
			}
			notified[peer.sessionID] = true
			h.enqueue(peer, marshalEvent(EvtMention, map[string]interface{}{
				"fromUser": c.username,
				"message":  p.Message,
				"username": peer.username,
			}))
		}
	}
	h.roomsMu.RUnlock()

	h.broadcast(c.roomID, marshalEvent(EvtSendMessage, map[string]interface{}{
		"message":  p.Message,
		"username": c.username,
		"mentions": mentions,
	}), c)
}

func (h *Hub) onUserTyping(c *Client, raw []byte) {
	var p userTypingPayload
	if err := decodePayload(raw, &p); err != nil {
		logrus.WithField("socket_id", c.socketID).WithError(err).Warn("Dropping invalid user-typing")
		return
	}
	h.broadcast(c.roomID, marshalEvent(EvtUserTyping, map[string]interface{}{
		"username": p.Username,
	}), c)
	h.typing.touch(c.roomID, p.Username)
}

func (h *Hub) onCursorMove(c *Client, raw []byte) {
	var p cursorMovePayload
	if err := decodePayload(raw, &p); err != nil {
		logrus.WithField("socket_id", c.socketID).WithError(err).Warn("Dropping invalid cursor-move")
		return
	}
	h.broadcast(c.roomID, marshalEvent(EvtCursorMove, map[string]interface{}{
		"username": p.Username,
		"cursor": map[string]int{
			"line": *p.Cursor.Line,
			"ch":   *p.Cursor.Ch,
		},
	}), c)
}

// onUpdateRole 修改目标成员的角色。仅 owner 可用，非 owner 的请求
// 静默丢弃 (不向 UI 泄露操作是否存在)。
func (h *Hub) onUpdateRole(c *Client, raw []byte) {
	var p updateRolePayload
	if err := decodePayload(raw, &p); err != nil {
		logrus.WithField("socket_id", c.socketID).WithError(err).Warn("Dropping invalid update-role")
		return
	}
	if !h.isOwner(c) {
		logrus.WithField("socket_id", c.socketID).Debug("update-role from non-owner dropped")
		return
	}

	member, err := h.roomSvc.UpdateMemberRole(context.Background(), c.roomID, p.TargetSocketID, p.NewRole)
	if err != nil {
		// 目标是现任 owner 或已不在名册，同样静默
		logrus.WithField("room_id", c.roomID).WithError(err).Debug("update-role dropped")
		return
	}

	h.broadcast(c.roomID, marshalEvent(EvtRoleChange, map[string]interface{}{
		"socketId": p.TargetSocketID,
		"username": member.Username,
		"role":     member.Role,
	}), nil)
}

func (h *Hub) onUpdatePermissions(c *Client, raw []byte) {
	var p updatePermissionsPayload
	if err := decodePayload(raw, &p); err != nil {
		logrus.WithField("socket_id", c.socketID).WithError(err).Warn("Dropping invalid update-permissions")
		return
	}
	if !h.isOwner(c) {
		logrus.WithField("socket_id", c.socketID).Debug("update-permissions from non-owner dropped")
		return
	}

	if err := h.roomSvc.SetRoomPermissions(context.Background(), c.roomID, p.Permissions); err != nil {
		logrus.WithField("room_id", c.roomID).WithError(err).Error("Failed to update room permissions")
		return
	}

	h.broadcast(c.roomID, marshalEvent(EvtPermissionsChange, map[string]interface{}{
		"permissions": p.Permissions,
	}), nil)
}

// onKickUser 把目标成员移出房间。仅 owner 可用。
func (h *Hub) onKickUser(c *Client, raw []byte) {
	var p kickUserPayload
	if err := decodePayload(raw, &p); err != nil {
		logrus.WithField("socket_id", c.socketID).WithError(err).Warn("Dropping invalid kick-user")
		return
	}
	if !h.isOwner(c) {
		logrus.WithField("socket_id", c.socketID).Debug("kick-user from non-owner dropped")
		return
	}

	removed, err := h.roomSvc.RemoveMember(context.Background(), c.roomID, p.TargetSocketID)
	if err != nil {
		logrus.WithField("room_id", c.roomID).WithError(err).Debug("kick-user dropped")
		return
	}

	h.broadcast(c.roomID, marshalEvent(EvtUserKicked, map[string]interface{}{
		"socketId": p.TargetSocketID,
		"username": removed.Username,
	}), nil)

	if target := h.clientBySocket(p.TargetSocketID); target != nil {
		target.CloseConn()
	}
}

// --- 所有权转移的广播回调 (由 transferScheduler 在宽限期到期时调用) ---

func (h *Hub) completeOwnerTransfer(roomID string) {
	newOwner, err := h.roomSvc.CompleteOwnerTransfer(context.Background(), roomID)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Owner transfer check failed")
		return
	}
	if newOwner == nil {
		return
	}
	h.broadcast(roomID, marshalEvent(EvtOwnerTransferred, map[string]interface{}{
		"username": newOwner.Username,
		"socketId": newOwner.SocketID,
	}), nil)
}

// --- 辅助方法 ---

// isOwner 判断连接是否为其房间的现任 owner。
func (h *Hub) isOwner(c *Client) bool {
	room, err := h.roomSvc.FindRoom(context.Background(), c.roomID)
	if err != nil {
		logrus.WithField("room_id", c.roomID).WithError(err).Error("Owner check failed")
		return false
	}
	return room.OwnerSessionID != "" && room.OwnerSessionID == c.sessionID
}

// pickPeer 在房间里挑一个其他在线连接，没有则返回 nil。
func (h *Hub) pickPeer(roomID string, except *Client) *Client {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	for peer := range h.rooms[roomID] {
		if peer != except {
			return peer
		}
	}
	return nil
}

func (h *Hub) clientBySocket(socketID string) *Client {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return h.bySocket[socketID]
}

func (h *Hub) roomClients(roomID string) []*Client {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	clients := make([]*Client, 0, len(h.rooms[roomID]))
	for c := range h.rooms[roomID] {
		clients = append(clients, c)
	}
	return clients
}

// broadcast 把消息发给指定房间的所有连接，except 非空时排除它。
// 对每个接收方都是 fire-and-forget：谁的发送队列满了就跳过谁，
// 绝不让一个慢接收方阻塞其余投递。
func (h *Hub) broadcast(roomID string, message []byte, except *Client) {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	for client := range h.rooms[roomID] {
		if client == except {
			continue
		}
		h.enqueue(client, message)
	}
}

// sendTo 把消息投递给指定 socketId 的连接。
func (h *Hub) sendTo(socketID string, message []byte) {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	if client, ok := h.bySocket[socketID]; ok {
		h.enqueue(client, message)
	}
}

// sendClient 把消息投递给指定连接。
func (h *Hub) sendClient(c *Client, message []byte) {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	h.enqueue(c, message)
}

// enqueue 非阻塞入队。调用方必须持有 roomsMu (读锁即可)，
// 与注销路径上的 close(send) 互斥。
func (h *Hub) enqueue(c *Client, message []byte) {
	select {
	case c.send <- message:
	default:
		logrus.WithField("socket_id", c.socketID).Warn("Client send channel full, dropping message")
	}
}

// enqueueCodeFlush 排入一个去抖的文档落库任务。
// 同一房间在队列里最多挂一个任务，靠 TaskID 去重。
func (h *Hub) enqueueCodeFlush(roomID string) {
	task, err := tasks.NewCodeFlushTask(roomID)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to build code flush task")
		return
	}
	_, err = h.asynqClient.Enqueue(task,
		asynq.TaskID("code-flush:"+roomID),
		asynq.ProcessIn(codeFlushDelay),
		asynq.Queue("default"),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			// 已有同房间的任务在排队，去抖生效
			return
		}
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to enqueue code flush task")
	}
}
