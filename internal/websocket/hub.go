package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mailrelay/backend/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// ConnectionObserver 记录连接数变化
type ConnectionObserver interface {
	WebSocketConnected()
	WebSocketDisconnected()
}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || origin == requestOrigin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeNewMessage  MessageType = "new_message"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeError       MessageType = "error"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Address   string          `json:"address,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	ID        string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	addresses map[string]bool // 订阅的地址，仅由 Hub.Run 所在协程修改
	initial   string
	log       *zap.Logger
}

// clientRequest 客户端发往 Hub 的请求，reply 非空时只回复该客户端
type clientRequest struct {
	client  *Client
	address string
	add     bool
	reply   *Message
}

// BroadcastMessage 广播消息
type BroadcastMessage struct {
	Address string
	Message *Message
}

// Hub 管理所有WebSocket连接，按地址分发新邮件通知
type Hub struct {
	clients        map[string]*Client            // clientID -> Client
	subscribers    map[string]map[string]*Client // address -> clientID -> Client
	register       chan *Client
	unregister     chan *Client
	requests       chan clientRequest
	broadcast      chan *BroadcastMessage
	done           chan struct{}
	mu             sync.RWMutex
	log            *zap.Logger
	observer       ConnectionObserver
	allowedOrigins []string
}

// NewHub 创建WebSocket Hub
//
// 参数:
//   - allowedOrigins: 允许的 Origin 列表，为空时允许所有来源
//   - log: 日志记录器
//   - observer: 连接数指标，可为空
func NewHub(allowedOrigins []string, log *zap.Logger, observer ConnectionObserver) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Hub{
		clients:        make(map[string]*Client),
		subscribers:    make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		requests:       make(chan clientRequest),
		broadcast:      make(chan *BroadcastMessage, 256),
		done:           make(chan struct{}),
		log:            log,
		observer:       observer,
		allowedOrigins: allowedOrigins,
	}
}

// Run 启动Hub，直到 ctx 结束
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			if client.initial != "" {
				h.subscribe(client, client.initial)
			}
			if h.observer != nil {
				h.observer.WebSocketConnected()
			}
			h.log.Debug("client registered", zap.String("id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case req := <-h.requests:
			switch {
			case req.reply != nil:
				h.reply(req.client, req.reply)
			case req.add:
				h.subscribe(req.client, req.address)
			default:
				h.unsubscribe(req.client, req.address)
			}

		case msg := <-h.broadcast:
			h.broadcastToAddress(msg.Address, msg.Message)

		case <-ticker.C:
			h.pingAllClients()
		}
	}
}

// NotifyNewMessage 通知订阅该地址的客户端有新邮件，不阻塞调用方
//
// Data 与列表接口的条目格式一致
func (h *Hub) NotifyNewMessage(message *domain.Message) {
	data, err := json.Marshal(domain.NewMessageView(*message))
	if err != nil {
		h.log.Error("failed to marshal new message data", zap.Error(err))
		return
	}

	msg := &BroadcastMessage{
		Address: message.MailboxAddress,
		Message: &Message{
			Type:      MessageTypeNewMessage,
			Address:   message.MailboxAddress,
			Data:      data,
			Timestamp: time.Now(),
		},
	}

	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.log.Warn("broadcast queue full, dropping notification",
			zap.String("address", message.MailboxAddress))
	}
}

// ClientCount 返回当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount 返回订阅某地址的连接数
func (h *Hub) SubscriberCount(address string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[domain.NormalizeAddress(address)])
}

func (h *Hub) subscribe(client *Client, address string) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	if h.subscribers[address] == nil {
		h.subscribers[address] = make(map[string]*Client)
	}
	h.subscribers[address][client.ID] = client
	client.addresses[address] = true
	h.mu.Unlock()

	client.sendMessage(&Message{
		Type:      MessageTypeSubscribed,
		Address:   address,
		Timestamp: time.Now(),
	})
}

// reply 向仍在线的客户端发送单条消息
func (h *Hub) reply(client *Client, msg *Message) {
	h.mu.RLock()
	_, ok := h.clients[client.ID]
	h.mu.RUnlock()
	if ok {
		client.sendMessage(msg)
	}
}

func (h *Hub) unsubscribe(client *Client, address string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.addresses, address)
	if clients, exists := h.subscribers[address]; exists {
		delete(clients, client.ID)
		if len(clients) == 0 {
			delete(h.subscribers, address)
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	for address := range client.addresses {
		if clients, exists := h.subscribers[address]; exists {
			delete(clients, client.ID)
			if len(clients) == 0 {
				delete(h.subscribers, address)
			}
		}
	}
	delete(h.clients, client.ID)
	close(client.send)
	if h.observer != nil {
		h.observer.WebSocketDisconnected()
	}
	h.log.Debug("client unregistered", zap.String("id", client.ID))
}

// broadcastToAddress 向订阅特定地址的客户端广播消息
func (h *Hub) broadcastToAddress(address string, msg *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.subscribers[address]
	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
}

// pingAllClients 向所有客户端发送应用层 ping
func (h *Hub) pingAllClients() {
	data, err := json.Marshal(&Message{Type: MessageTypePing, Timestamp: time.Now()})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
		if h.observer != nil {
			h.observer.WebSocketDisconnected()
		}
	}
	h.clients = make(map[string]*Client)
	h.subscribers = make(map[string]map[string]*Client)
}

// HandleWebSocket 处理WebSocket连接，?address= 指定初始订阅地址
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:        uuid.NewString(),
			conn:      conn,
			send:      make(chan []byte, sendBufferSize),
			hub:       hub,
			addresses: make(map[string]bool),
			initial:   domain.NormalizeAddress(c.Query("address")),
			log:       hub.log,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket error", zap.Error(err))
			}
			return
		}
		c.handleMessage(&msg)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe, MessageTypeUnsubscribe:
		address := domain.NormalizeAddress(msg.Address)
		if address == "" {
			c.sendError("address is required")
			return
		}
		c.request(clientRequest{client: c, address: address, add: msg.Type == MessageTypeSubscribe})
	case MessageTypePong:
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	default:
		c.sendError("unknown message type")
	}
}

// sendError 经由 Hub 发送错误消息，避免与关闭 send 通道竞争
func (c *Client) sendError(errMsg string) {
	c.request(clientRequest{client: c, reply: &Message{
		Type:      MessageTypeError,
		Error:     errMsg,
		Timestamp: time.Now(),
	}})
}

func (c *Client) request(req clientRequest) {
	select {
	case c.hub.requests <- req:
	case <-c.hub.done:
	}
}

// sendMessage 发送消息给客户端，缓冲区满时丢弃；只能在 Hub.Run 所在协程调用
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.log.Warn("client channel blocked", zap.String("clientID", c.ID))
	}
}
