package ws

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"chat-sync/internal/chatsync"
	"chat-sync/internal/logger"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// InboxWebSocketHandler streams the conversation list. The inbox polls while
// at least one subscriber is connected.
type InboxWebSocketHandler struct {
	hub      *Hub
	inbox    *chatsync.Inbox
	debounce time.Duration
}

type inboxCommand struct {
	Type     string `json:"type"`
	Query    string `json:"query"`
	ThreadID string `json:"thread_id"`
	ItemID   string `json:"item_id"`
}

// NewInboxWebSocketHandler constructs an InboxWebSocketHandler.
func NewInboxWebSocketHandler(hub *Hub, inbox *chatsync.Inbox, debounce time.Duration) *InboxWebSocketHandler {
	return &InboxWebSocketHandler{hub: hub, inbox: inbox, debounce: debounce}
}

// Handle upgrades the connection, sends the current list and starts polling.
func (h *InboxWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-sync/ws").Start(c.Request.Context(), "ws.inbox.handshake")
	defer span.End()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := newConnInfo(c, kindInbox, "", span.SpanContext().TraceID().String())
	h.hub.AddInboxClient(conn, info)
	h.inbox.Acquire()
	cl, _ := h.hub.inboxClient(conn)

	ctx = context.WithoutCancel(ctx)
	observability.IncWSActive(kindInbox)
	publishWSEvent(ctx, info, "ws_connect", "")

	snap := h.inbox.Snapshot()
	_ = cl.writeJSON(models.InboxEvent{
		Type:          "conversations",
		Version:       snap.Version,
		Conversations: snap.Conversations,
	})

	go h.readLoop(ctx, cl)
}

func (h *InboxWebSocketHandler) readLoop(ctx context.Context, cl *client) {
	debounce := chatsync.NewDebouncer(h.debounce)
	var closeReason string
	defer func() {
		debounce.Stop()
		h.hub.RemoveInboxClient(cl.conn)
		h.inbox.Release()
		observability.DecWSActive(kindInbox)
		publishWSEvent(ctx, cl.info, "ws_disconnect", closeReason)
		cl.conn.Close()
	}()

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(ctx, cl.info, "ws_error", closeReason)
			}
			return
		}

		var cmd inboxCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			logger.Debug("ignoring malformed inbox command", zap.String("conn_id", cl.info.ConnID), zap.Error(err))
			continue
		}
		switch cmd.Type {
		case "search":
			query := cmd.Query
			debounce.Trigger(func() {
				_ = cl.writeJSON(models.InboxEvent{
					Type:          "search",
					Query:         query,
					Conversations: h.inbox.Search(query),
				})
			})
		case "refresh":
			go func() {
				if err := h.inbox.RefreshNow(ctx); err != nil {
					logger.Warn("inbox refresh failed", zap.Error(err))
				}
			}()
		case "seen":
			go h.inbox.MarkThreadSeen(ctx, cmd.ThreadID, cmd.ItemID)
		default:
			logger.Debug("ignoring unknown inbox command", zap.String("type", cmd.Type))
		}
	}
}
