package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/chatsync"
	"chat-sync/internal/config"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/ws"
)

func testApp(t *testing.T, token string) (*app, *mocks.BackendMock) {
	t.Helper()
	api := new(mocks.BackendMock)
	cfg := &config.Config{}
	cfg.Service.Name = "chat-sync"
	cfg.HTTP.BridgeToken = token
	cfg.Search.Debounce = 10 * time.Millisecond

	inbox := chatsync.NewInbox(api, time.Minute)
	sessions := chatsync.NewSessions(api, inbox, chatsync.ThreadOptions{MinInterval: time.Hour, MaxInterval: time.Hour})
	t.Cleanup(sessions.CloseAll)
	hub := ws.NewHub()
	hub.Attach(inbox, sessions)

	return &app{
		cfg:      cfg,
		api:      api,
		inbox:    inbox,
		sessions: sessions,
		hub:      hub,
		audit:    telemetry.NewAuditEmitter(new(mocks.PublisherMock), "audit.chat_sync", "chat-sync", "test"),
	}, api
}

func TestRouterRequiresBridgeToken(t *testing.T) {
	a, _ := testApp(t, "secret")
	router := a.router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chats", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouterServesMetricsAndRefresh(t *testing.T) {
	a, api := testApp(t, "")
	api.On("ListConversations", mock.Anything).Return([]models.Conversation{{
		ThreadID:  "t1",
		Title:     "alice",
		ReadState: models.ReadStateRead,
	}}, nil).Once()
	router := a.router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chats/refresh", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chats/search?q=ali", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"thread_id":"t1"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "chatsync_http_requests_total"), "expected service metrics to be registered")
	api.AssertExpectations(t)
}

func TestPrintConversations(t *testing.T) {
	var b strings.Builder
	require.NoError(t, printConversations(&b, []models.Conversation{{
		ThreadID:  "t1",
		Title:     "alice",
		ReadState: models.ReadStateUnread,
		LastItem:  &models.ItemSnapshot{ItemID: "i1", Timestamp: 1700000000000000, Text: "hey"},
	}}))

	out := b.String()
	assert.Contains(t, out, "THREAD")
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "hey")
}
