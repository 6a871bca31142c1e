package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"chat-sync/internal/backend"
	"chat-sync/internal/chatsync"
	"chat-sync/internal/logger"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

// ThreadWebSocketHandler streams one thread's message log. The thread
// synchronizer is closed when its last subscriber leaves.
type ThreadWebSocketHandler struct {
	hub      *Hub
	sessions *chatsync.Sessions
}

type threadCommand struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewThreadWebSocketHandler constructs a ThreadWebSocketHandler.
func NewThreadWebSocketHandler(hub *Hub, sessions *chatsync.Sessions) *ThreadWebSocketHandler {
	return &ThreadWebSocketHandler{hub: hub, sessions: sessions}
}

// Handle opens the thread, upgrades the connection and sends the current log.
func (h *ThreadWebSocketHandler) Handle(c *gin.Context) {
	threadID := c.Param("thread_id")
	if threadID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid thread id"})
		return
	}

	ctx, span := otel.Tracer("chat-sync/ws").Start(c.Request.Context(), "ws.thread.handshake")
	defer span.End()

	thread, err := h.sessions.Acquire(ctx, threadID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to open thread"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.sessions.Release(thread)
		return
	}
	info := newConnInfo(c, kindThread, threadID, span.SpanContext().TraceID().String())
	h.hub.AddThreadClient(threadID, conn, info)
	cl, _ := h.hub.threadClient(threadID, conn)

	ctx = context.WithoutCancel(ctx)
	observability.IncWSActive(kindThread)
	publishWSEvent(ctx, info, "ws_connect", "")

	_ = cl.writeJSON(thread.Snapshot())

	go h.readLoop(ctx, thread, cl)
}

func (h *ThreadWebSocketHandler) readLoop(ctx context.Context, thread *chatsync.Thread, cl *client) {
	threadID := thread.ID()
	var closeReason string
	defer func() {
		h.hub.RemoveThreadClient(threadID, cl.conn)
		h.sessions.Release(thread)
		observability.DecWSActive(kindThread)
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

		var cmd threadCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			logger.Debug("ignoring malformed thread command", zap.String("conn_id", cl.info.ConnID), zap.Error(err))
			continue
		}
		switch cmd.Type {
		case "send":
			text := cmd.Text
			go func() {
				if _, err := thread.SendMessage(ctx, text); err != nil {
					logger.Warn("send failed", zap.String("thread_id", threadID), zap.Error(err))
				}
			}()
		case "older":
			go func() {
				if err := thread.LoadOlderMessages(ctx); err != nil {
					_ = cl.writeJSON(models.ThreadEvent{Type: "error", ThreadID: threadID, Error: err.Error()})
				}
			}()
		default:
			logger.Debug("ignoring unknown thread command", zap.String("type", cmd.Type))
		}
	}
}
