package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/backend"
	"chat-sync/internal/chatsync"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
)

func TestHubAddAndRemoveInboxClient(t *testing.T) {
	hub := NewHub()

	assert.Equal(t, 1, hub.AddInboxClient(nil, ConnInfo{}))
	assert.Len(t, hub.inboxRoom, 1)

	assert.Equal(t, 0, hub.RemoveInboxClient(nil))
	assert.Empty(t, hub.inboxRoom)
}

func TestHubAddAndRemoveThreadClient(t *testing.T) {
	hub := NewHub()

	assert.Equal(t, 1, hub.AddThreadClient("t1", nil, ConnInfo{}))
	assert.Len(t, hub.threadRooms, 1)

	assert.Equal(t, 0, hub.RemoveThreadClient("t1", nil))
	assert.Empty(t, hub.threadRooms)
	assert.Equal(t, 0, hub.RemoveThreadClient("missing", nil))
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readInbox(t *testing.T, conn *websocket.Conn) models.InboxEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev models.InboxEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func readInboxUntil(t *testing.T, conn *websocket.Conn, match func(models.InboxEvent) bool) models.InboxEvent {
	t.Helper()
	for i := 0; i < 10; i++ {
		if ev := readInbox(t, conn); match(ev) {
			return ev
		}
	}
	t.Fatal("expected inbox event not received")
	return models.InboxEvent{}
}

func conversation(id, title, lastID string, ts int64) models.Conversation {
	return models.Conversation{
		ThreadID:     id,
		Title:        title,
		Participants: []models.Participant{{UserID: "u-" + id, Username: title}},
		LastItem: &models.ItemSnapshot{
			ItemID:    lastID,
			Type:      models.ItemTypeText,
			SenderID:  "u-" + id,
			Timestamp: ts,
			Payload:   models.TextPayload{Text: "hey"},
		},
		ReadState: models.ReadStateRead,
	}
}

func TestInboxSocketStreamsListAndSearch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api := new(mocks.BackendMock)
	api.On("ListConversations", mock.Anything).Return([]models.Conversation{
		conversation("t1", "Alice", "i1", 300),
		conversation("t2", "bob", "i2", 200),
		conversation("t3", "Charlie Brown", "i3", 100),
	}, nil)

	inbox := chatsync.NewInbox(api, time.Minute)
	hub := NewHub()
	hub.Attach(inbox, nil)

	router := gin.New()
	router.GET("/ws/chats", NewInboxWebSocketHandler(hub, inbox, 10*time.Millisecond).Handle)
	srv := httptest.NewServer(router)
	defer srv.Close()
	defer inbox.Stop()

	conn := dial(t, srv, "/ws/chats")

	listed := readInboxUntil(t, conn, func(ev models.InboxEvent) bool {
		return ev.Type == "conversations" && len(ev.Conversations) == 3
	})
	assert.Equal(t, "Alice", listed.Conversations[0].Title)
	assert.True(t, inbox.Running())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"search","query":"b"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"search","query":"B"}`)))

	result := readInboxUntil(t, conn, func(ev models.InboxEvent) bool { return ev.Type == "search" })
	assert.Equal(t, "B", result.Query)
	require.Len(t, result.Conversations, 2)
	assert.Equal(t, "bob", result.Conversations[0].Title)
	assert.Equal(t, "Charlie Brown", result.Conversations[1].Title)

	conn.Close()
	assert.Eventually(t, func() bool { return !inbox.Running() }, time.Second, 5*time.Millisecond)
}

func TestThreadSocketStreamsMessagesAndClosesSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api := new(mocks.BackendMock)
	api.On("GetConversation", mock.Anything, "t1").Return(models.Conversation{
		ThreadID: "t1",
		Items:    []models.Message{models.NewMessage("m1", "t1", "u2", 100, false, models.TextPayload{Text: "hi"})},
	}, nil).Once()
	api.On("NewMessagesSince", mock.Anything, "t1", mock.Anything).Return([]models.Message{}, nil)
	api.On("SendMessage", mock.Anything, "t1", "yo").Return("m2", nil).Once()

	sessions := chatsync.NewSessions(api, nil, chatsync.ThreadOptions{MinInterval: time.Hour, MaxInterval: time.Hour})
	defer sessions.CloseAll()
	hub := NewHub()
	hub.Attach(nil, sessions)

	router := gin.New()
	router.GET("/ws/chats/:thread_id", NewThreadWebSocketHandler(hub, sessions).Handle)
	srv := httptest.NewServer(router)
	defer srv.Close()

	conn := dial(t, srv, "/ws/chats/t1")

	read := func() models.ThreadEvent {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev struct {
			Type     string `json:"type"`
			ThreadID string `json:"thread_id"`
			Version  uint64 `json:"version"`
			Messages []struct {
				ItemID      string `json:"item_id"`
				Provisional bool   `json:"provisional"`
			} `json:"messages"`
		}
		require.NoError(t, json.Unmarshal(data, &ev))
		out := models.ThreadEvent{Type: ev.Type, ThreadID: ev.ThreadID, Version: ev.Version}
		for _, m := range ev.Messages {
			out.Messages = append(out.Messages, models.Message{ItemID: m.ItemID, Provisional: m.Provisional})
		}
		return out
	}

	first := read()
	assert.Equal(t, "messages", first.Type)
	require.Len(t, first.Messages, 1)
	assert.Equal(t, "m1", first.Messages[0].ItemID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"send","text":"yo"}`)))

	provisional := read()
	require.Len(t, provisional.Messages, 2)
	assert.True(t, provisional.Messages[0].Provisional)

	confirmed := read()
	require.Len(t, confirmed.Messages, 2)
	assert.Equal(t, "m2", confirmed.Messages[0].ItemID)
	assert.Less(t, first.Version, provisional.Version)
	assert.Less(t, provisional.Version, confirmed.Version)

	conn.Close()
	assert.Eventually(t, func() bool { return sessions.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestThreadSocketUnknownThread(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api := new(mocks.BackendMock)
	api.On("GetConversation", mock.Anything, "nope").Return(nil, backend.ErrNotFound).Once()

	sessions := chatsync.NewSessions(api, nil, chatsync.ThreadOptions{})
	router := gin.New()
	router.GET("/ws/chats/:thread_id", NewThreadWebSocketHandler(NewHub(), sessions).Handle)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chats/nope"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestThreadSocketSessionOutlivesOneOfTwoSubscribers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api := new(mocks.BackendMock)
	api.On("GetConversation", mock.Anything, "t1").Return(models.Conversation{ThreadID: "t1"}, nil).Once()
	api.On("NewMessagesSince", mock.Anything, "t1", mock.Anything).Return([]models.Message{}, nil)

	sessions := chatsync.NewSessions(api, nil, chatsync.ThreadOptions{MinInterval: time.Hour, MaxInterval: time.Hour})
	defer sessions.CloseAll()
	hub := NewHub()
	hub.Attach(nil, sessions)

	router := gin.New()
	router.GET("/ws/chats/:thread_id", NewThreadWebSocketHandler(hub, sessions).Handle)
	srv := httptest.NewServer(router)
	defer srv.Close()

	a := dial(t, srv, "/ws/chats/t1")
	b := dial(t, srv, "/ws/chats/t1")
	thread, ok := sessions.Get("t1")
	require.True(t, ok)

	a.Close()
	time.Sleep(50 * time.Millisecond)
	got, ok := sessions.Get("t1")
	require.True(t, ok)
	assert.Same(t, thread, got)
	assert.NoError(t, thread.PollForNewMessages(context.Background()))

	b.Close()
	assert.Eventually(t, func() bool { return sessions.Len() == 0 }, time.Second, 5*time.Millisecond)
}
