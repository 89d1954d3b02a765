package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/wfunc/tile-arena/internal/game"
)

// MessageHandler 客户端消息处理器
type MessageHandler interface {
	HandleClientMessage(client *Client, data []byte)
}

// room 一个对局的订阅者，mu保证同一房间的事件按发布顺序入队
type room struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// Hub WebSocket连接管理中心
type Hub struct {
	// 客户端连接池
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 对局房间
	rooms   map[string]*room
	roomsMu sync.RWMutex

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	handler MessageHandler
	logger  *zap.Logger
}

// NewHub 创建Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]*room),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// SetMessageHandler 设置消息处理器
func (h *Hub) SetMessageHandler(handler MessageHandler) {
	h.handler = handler
}

// Run 运行Hub，直到ctx结束或调用Stop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			h.Stop()
			return

		case <-h.done:
			return
		}
	}
}

// Stop 停止Hub并断开所有客户端
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.clientsMu.RLock()
		clients := make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			clients = append(clients, c)
		}
		h.clientsMu.RUnlock()
		for _, c := range clients {
			h.unregisterClient(c)
		}
	})
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("WebSocket客户端连接",
		zap.String("client_id", client.ID),
		zap.String("participant_id", client.ParticipantID))

	msg, err := NewMessage(MessageTypeConnected, "", map[string]interface{}{
		"clientId":      client.ID,
		"participantId": client.ParticipantID,
		"spectator":     client.Spectator(),
	})
	if err == nil {
		_ = h.SendToClient(client.ID, msg)
	}
}

// unregisterClient 注销客户端：先移出连接池和全部房间，再关闭发送通道
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	_, ok := h.clients[client.ID]
	delete(h.clients, client.ID)
	h.clientsMu.Unlock()
	if !ok {
		return
	}

	h.roomsMu.Lock()
	for matchID, r := range h.rooms {
		r.mu.Lock()
		delete(r.clients, client.ID)
		empty := len(r.clients) == 0
		r.mu.Unlock()
		if empty {
			delete(h.rooms, matchID)
		}
	}
	h.roomsMu.Unlock()

	close(client.Send)

	h.logger.Info("WebSocket客户端断开",
		zap.String("client_id", client.ID),
		zap.String("participant_id", client.ParticipantID))
}

// Subscribe 订阅对局房间
func (h *Hub) Subscribe(matchID, clientID string) error {
	// 持有读锁，避免与注销交错
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	client, ok := h.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}

	h.roomsMu.Lock()
	r, ok := h.rooms[matchID]
	if !ok {
		r = &room{clients: make(map[string]*Client)}
		h.rooms[matchID] = r
	}
	r.mu.Lock()
	r.clients[clientID] = client
	r.mu.Unlock()
	h.roomsMu.Unlock()
	return nil
}

// Unsubscribe 退订对局房间
func (h *Hub) Unsubscribe(matchID, clientID string) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	r, ok := h.rooms[matchID]
	if !ok {
		return
	}
	r.mu.Lock()
	delete(r.clients, clientID)
	empty := len(r.clients) == 0
	r.mu.Unlock()
	if empty {
		delete(h.rooms, matchID)
	}
}

// Publish 向房间广播事件，不阻塞；缓冲区满的订阅者丢弃该事件
func (h *Hub) Publish(ctx context.Context, matchID string, ev game.Event) {
	msg, err := EventMessage(ev)
	if err != nil {
		h.logger.Error("序列化事件失败", zap.String("match_id", matchID), zap.Error(err))
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.String("match_id", matchID), zap.Error(err))
		return
	}

	h.roomsMu.RLock()
	r, ok := h.rooms[matchID]
	h.roomsMu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, client := range r.clients {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("客户端发送缓冲区满，丢弃事件",
				zap.String("client_id", client.ID),
				zap.String("match_id", matchID),
				zap.String("type", string(ev.Type)))
		}
	}
}

// SendToClient 发送消息给指定客户端
func (h *Hub) SendToClient(clientID string, message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	client, ok := h.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}

	select {
	case client.Send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// RoomSize 房间订阅数
func (h *Hub) RoomSize(matchID string) int {
	h.roomsMu.RLock()
	r, ok := h.rooms[matchID]
	h.roomsMu.RUnlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Subscribed 客户端是否在房间中
func (h *Hub) Subscribed(matchID, clientID string) bool {
	h.roomsMu.RLock()
	r, ok := h.rooms[matchID]
	h.roomsMu.RUnlock()
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok = r.clients[clientID]
	return ok
}

// GetOnlineCount 获取在线连接数
func (h *Hub) GetOnlineCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

var _ game.Publisher = (*Hub)(nil)
