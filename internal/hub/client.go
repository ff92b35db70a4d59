package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocket 读写参数
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. 代码文档可能较大。
	maxMessageSize = 512 * 1024
)

// Client 代表一条连接到 Hub 的 WebSocket 连接。
// 它同时充当连接上下文：join 之后携带 (roomID, sessionID, username)，
// 取代进程级的连接→身份全局映射。
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	socketID string // 本条连接的标识，每次重连都会变化

	// 以下字段在 join 事件处理时由本连接自己的读 goroutine 填充，
	// 之后只读
	roomID    string
	sessionID string
	username  string
	joined    bool

	chatBucket *tokenBucket // 聊天令牌桶，只被本连接触碰
	send       chan []byte  // 出站消息缓冲通道
}

// NewClient 创建一个新的 Client 实例
func NewClient(hub *Hub, conn *websocket.Conn, socketID string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		socketID:   socketID,
		chatBucket: newTokenBucket(chatBucketCapacity, chatBucketWindow),
		send:       make(chan []byte, 256),
	}
}

// Run 启动客户端的读写 goroutine
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
}

// SocketID 返回本条连接的标识
func (c *Client) SocketID() string { return c.socketID }

// CloseConn 关闭底层 WebSocket 连接
func (c *Client) CloseConn() { c.conn.Close() }

// ReadPump 从 WebSocket 连接读取消息并同步分发给 Hub。
// 每条连接是独立的执行单元：事件按到达顺序在本 goroutine 内处理，
// 房间级的串行化由 RoomService 的房间锁保证。
func (c *Client) ReadPump() {
	defer func() {
		// 清理：请求 Hub 注销此客户端；Hub 已停止时直接放弃
		select {
		case c.hub.messageChan <- hubMessage{kind: msgUnregister, client: c}:
		case <-c.hub.done:
		case <-time.After(1 * time.Second):
			logrus.WithField("socket_id", c.socketID).Warn("Timeout sending unregister message to Hub channel")
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			logCtx := logrus.WithField("socket_id", c.socketID)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed")
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.hub.HandleEvent(c, message)
	}
}

// WritePump 把 send 通道里的消息写入 WebSocket 连接，并定期发送 Ping。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// send 通道被 Hub 关闭（注销时）
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithField("socket_id", c.socketID).WithError(err).Warn("Failed to write message to websocket")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}
