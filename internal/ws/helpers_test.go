package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/mocks"
	"chat-sync/internal/observability"
)

func TestNewConnInfoFromHandshake(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/ws/chats/t1", nil)
	c.Request.RemoteAddr = "10.0.0.7:5555"
	c.Request.Header.Set("X-Request-Id", "req-1")
	c.Request.Header.Set("User-Agent", "bridge-test")

	info := newConnInfo(c, kindThread, "t1", "trace-1")
	assert.NotEmpty(t, info.ConnID)
	assert.Equal(t, kindThread, info.Kind)
	assert.Equal(t, "t1", info.ThreadID)
	assert.Equal(t, "10.0.0.7", info.ClientIP)
	assert.Equal(t, "bridge-test", info.UserAgent)
	assert.Equal(t, "req-1", info.RequestID)
	assert.False(t, info.ConnectedAt.IsZero())

	c.Request.Header.Del("X-Request-Id")
	assert.NotEmpty(t, newConnInfo(c, kindInbox, "", "").RequestID)
}

func TestPublishWSEventRoutesByKind(t *testing.T) {
	pub := new(mocks.PublisherMock)
	observability.SetPublisher(pub)
	t.Cleanup(func() { observability.SetPublisher(nil) })

	info := ConnInfo{ConnID: "c1", Kind: kindThread, ThreadID: "t1", RequestID: "req-1", TraceID: "trace-1"}
	pub.On("Publish", mock.Anything, "ws_events.threads", mock.MatchedBy(func(ev observability.EventEnvelope) bool {
		ws := ev.Payload.(map[string]interface{})["ws"].(map[string]interface{})
		return ev.EventName == "ws_connect" && ws["thread_id"] == "t1" && ws["conn_id"] == "c1"
	}), map[string]string{"x-request-id": "req-1", "trace_id": "trace-1"}).Return(nil).Once()
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	publishWSEvent(context.Background(), info, "ws_connect", "")
	publishWSEvent(context.Background(), ConnInfo{ConnID: "c2", Kind: kindInbox}, "ws_disconnect", "bye")

	pub.AssertExpectations(t)
	found := false
	for _, call := range pub.Calls {
		ev, ok := call.Arguments.Get(2).(observability.EventEnvelope)
		if ok && call.Arguments.String(1) == "ws_events.inbox" && ev.EventName == "ws_disconnect" {
			found = true
		}
	}
	require.True(t, found, "inbox disconnect should route to ws_events.inbox")
}
