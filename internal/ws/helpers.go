package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"chat-sync/internal/observability"
)

const (
	kindInbox  = "inbox"
	kindThread = "thread"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ConnInfo identifies one push connection in logs and lifecycle events.
// ThreadID is empty for inbox connections.
type ConnInfo struct {
	ConnID      string
	Kind        string
	ThreadID    string
	ClientIP    string
	UserAgent   string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConnInfo(c *gin.Context, kind, threadID, traceID string) ConnInfo {
	requestID := c.GetHeader("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return ConnInfo{
		ConnID:      uuid.NewString(),
		Kind:        kind,
		ThreadID:    threadID,
		ClientIP:    c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
}

// publishWSEvent counts a websocket lifecycle event and publishes it.
func publishWSEvent(ctx context.Context, info ConnInfo, event, reason string) {
	observability.IncWSEvent(info.Kind, event)
	var durationMS int64
	if event != "ws_connect" {
		durationMS = time.Since(info.ConnectedAt).Milliseconds()
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey(info.Kind), observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        info.Kind,
				"thread_id":   info.ThreadID,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": durationMS,
				"reason":      reason,
			},
			"client": map[string]interface{}{
				"ip":         info.ClientIP,
				"user_agent": info.UserAgent,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

func wsRoutingKey(kind string) string {
	if kind == kindThread {
		return "ws_events.threads"
	}
	return "ws_events.inbox"
}
