package ws

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-sync/internal/chatsync"
	"chat-sync/internal/logger"
	"chat-sync/internal/models"
)

const writeTimeout = 10 * time.Second

// client serializes writes to one connection.
type client struct {
	conn *websocket.Conn
	info ConnInfo
	mu   sync.Mutex
}

func (c *client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *client) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(payload)
}

// Hub maintains the inbox room and one room per open thread.
type Hub struct {
	inboxRoom   map[*websocket.Conn]*client
	threadRooms map[string]map[*websocket.Conn]*client
	mu          sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		inboxRoom:   make(map[*websocket.Conn]*client),
		threadRooms: make(map[string]map[*websocket.Conn]*client),
	}
}

// AddInboxClient registers a connection to the inbox room and returns the
// number of inbox subscribers.
func (h *Hub) AddInboxClient(conn *websocket.Conn, info ConnInfo) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inboxRoom[conn] = &client{conn: conn, info: info}
	return len(h.inboxRoom)
}

// RemoveInboxClient removes an inbox connection and returns how many remain.
func (h *Hub) RemoveInboxClient(conn *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inboxRoom, conn)
	return len(h.inboxRoom)
}

// AddThreadClient registers a connection to a thread room.
func (h *Hub) AddThreadClient(threadID string, conn *websocket.Conn, info ConnInfo) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.threadRooms[threadID]
	if !ok {
		room = make(map[*websocket.Conn]*client)
		h.threadRooms[threadID] = room
	}
	room[conn] = &client{conn: conn, info: info}
	return len(room)
}

// RemoveThreadClient removes a thread connection and returns how many remain.
func (h *Hub) RemoveThreadClient(threadID string, conn *websocket.Conn) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.threadRooms[threadID]
	if !ok {
		return 0
	}
	delete(room, conn)
	if len(room) == 0 {
		delete(h.threadRooms, threadID)
		return 0
	}
	return len(room)
}

func (h *Hub) inboxClient(conn *websocket.Conn) (*client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.inboxRoom[conn]
	return c, ok
}

func (h *Hub) threadClient(threadID string, conn *websocket.Conn) (*client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.threadRooms[threadID][conn]
	return c, ok
}

// BroadcastInbox pushes a rebuilt conversation list to every inbox subscriber.
func (h *Hub) BroadcastInbox(snap chatsync.InboxSnapshot) {
	payload, err := json.Marshal(models.InboxEvent{
		Type:          "conversations",
		Version:       snap.Version,
		Conversations: snap.Conversations,
	})
	if err != nil {
		logger.Error("encode inbox event", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.inboxRoom))
	for _, c := range h.inboxRoom {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(payload); err != nil {
			logger.Warn("websocket write error", zap.String("conn_id", c.info.ConnID), zap.Error(err))
			c.conn.Close()
			h.RemoveInboxClient(c.conn)
			publishWSEvent(context.Background(), c.info, "ws_error", err.Error())
		}
	}
}

// BroadcastThread pushes a thread event to the subscribers of its room.
func (h *Hub) BroadcastThread(ev models.ThreadEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error("encode thread event", zap.String("thread_id", ev.ThreadID), zap.Error(err))
		return
	}

	h.mu.RLock()
	room := h.threadRooms[ev.ThreadID]
	clients := make([]*client, 0, len(room))
	for _, c := range room {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(payload); err != nil {
			logger.Warn("websocket write error", zap.String("conn_id", c.info.ConnID), zap.Error(err))
			c.conn.Close()
			h.RemoveThreadClient(ev.ThreadID, c.conn)
			publishWSEvent(context.Background(), c.info, "ws_error", err.Error())
		}
	}
}

// Attach forwards inbox rebuilds and every opened thread's events to the hub.
func (h *Hub) Attach(inbox *chatsync.Inbox, sessions *chatsync.Sessions) {
	if inbox != nil {
		inbox.Subscribe(h.BroadcastInbox)
	}
	if sessions != nil {
		sessions.OnOpen(func(t *chatsync.Thread) {
			t.Subscribe(h.BroadcastThread)
		})
	}
}
