package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 2*time.Second)
}

const threadsBody = `[
  {
    "thread_id": "340282366841710300949128",
    "thread_title": "",
    "users": [{"pk": 101, "username": "alice", "full_name": "Alice A"}],
    "read_state": 1,
    "items": [
      {"item_id": "i1", "item_type": "text", "user_id": 101, "timestamp": 1700000000, "text": "hello"},
      {"item_id": "i2", "item_type": "media", "user_id": 101, "timestamp": 1700000000500,
       "media": {"media_type": 1, "image_versions2": {"candidates": [{"url": "https://cdn/x.jpg", "width": 640, "height": 480}]}}}
    ]
  },
  {"thread_title": "no id"}
]`

func TestListConversationsDecodesThreads(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chats", r.URL.Path)
		_, _ = io.WriteString(w, threadsBody)
	})

	convs, err := client.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)

	c := convs[0]
	assert.Equal(t, "340282366841710300949128", c.ThreadID)
	assert.Equal(t, "alice", c.Title)
	assert.False(t, c.IsGroup)
	assert.Equal(t, models.ReadStateUnread, c.ReadState)
	require.Len(t, c.Items, 2)
	assert.Equal(t, int64(1700000000000000), c.Items[0].Timestamp)
	assert.Equal(t, int64(1700000000500000), c.Items[1].Timestamp)

	require.NotNil(t, c.LastItem)
	assert.Equal(t, "i2", c.LastItem.ItemID)
	assert.Equal(t, "Someone sent a photo", c.LastItem.Text)
	assert.Equal(t, models.MediaPayload{MediaType: models.MediaImage, URL: "https://cdn/x.jpg", Width: 640, Height: 480}, c.Items[1].Payload)
}

func TestListConversationsAcceptsWrappedList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"threads": [{"thread_id": "t1", "users": [{"pk": "1", "username": "a"}, {"pk": "2", "username": "b"}]}]}`)
	})

	convs, err := client.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.True(t, convs[0].IsGroup)
	assert.Equal(t, "a, b", convs[0].Title)
	assert.Equal(t, models.ReadStateRead, convs[0].ReadState)
}

func TestNewMessagesSinceUnknownTypeBecomesUnsupported(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chats/t1/new_messages", r.URL.Path)
		assert.Equal(t, "1700000000000000", r.URL.Query().Get("last_timestamp"))
		_, _ = io.WriteString(w, `{"messages": [
			{"item_id": "a", "item_type": "hologram", "user_id": 7, "timestamp": 1700000001000000},
			{"item_id": "b", "item_type": "media", "timestamp": 1700000002000000, "media": {"image_versions2": "broken"}},
			{"item_type": "text", "text": "no id"},
			{"item_id": "c", "item_type": "text", "text": "re", "timestamp": 1700000003000000,
			 "replied_to_message": {"user_id": 7, "text": "original"}}
		]}`)
	})

	msgs, err := client.NewMessagesSince(context.Background(), "t1", 1700000000000000)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, models.ItemTypeUnsupported, msgs[0].Type)
	assert.Equal(t, models.UnsupportedPayload{RawType: "hologram"}, msgs[0].Payload)
	assert.Equal(t, models.ItemTypeUnsupported, msgs[1].Type)
	assert.Equal(t, models.ItemTypeReply, msgs[2].Type)
	require.NotNil(t, msgs[2].RepliedTo)
	assert.Equal(t, "7", msgs[2].RepliedTo.SenderID)
	assert.Equal(t, "original", msgs[2].RepliedTo.Snippet)
}

func TestLoadOlderMessagesPagination(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch r.URL.Query().Get("cursor") {
		case "":
			_, _ = io.WriteString(w, `{"messages": [{"item_id": "m1", "item_type": "text", "timestamp": 1700000000}], "cursor": "c1"}`)
		case "c1":
			_, _ = io.WriteString(w, `{"messages": [{"item_id": "m0", "item_type": "text", "timestamp": 1600000000}], "cursor": "c2", "moreAvailable": false}`)
		default:
			_, _ = io.WriteString(w, `{"messages": null}`)
		}
	})

	page, err := client.LoadOlderMessages(context.Background(), "t1", "")
	require.NoError(t, err)
	assert.True(t, page.MoreAvailable)
	assert.Equal(t, "c1", page.Cursor)

	page, err = client.LoadOlderMessages(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.False(t, page.MoreAvailable)

	page, err = client.LoadOlderMessages(context.Background(), "t1", "c2")
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.False(t, page.MoreAvailable)
	assert.Equal(t, 3, calls)
}

func TestSendMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chats/t1/send_message", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hi", body["message"])
		_, _ = io.WriteString(w, `{"messageId": 42}`)
	})

	id, err := client.SendMessage(context.Background(), "t1", "hi")
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestSendMessageServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.SendMessage(context.Background(), "t1", "hi")
	require.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestGetConversationNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetConversation(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSearchUser(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("username") {
		case "alice":
			_, _ = io.WriteString(w, `{"pk": 101, "username": "alice", "full_name": "Alice A"}`)
		case "wrapped":
			_, _ = io.WriteString(w, `{"user": {"pk": "5", "username": "wrapped"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	user, err := client.SearchUser(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, models.Participant{UserID: "101", Username: "alice", DisplayName: "Alice A"}, *user)

	user, err = client.SearchUser(context.Background(), "wrapped")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "5", user.UserID)

	user, err = client.SearchUser(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestMarkSeenAndDeleteThread(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.RequestURI())
		_, _ = io.WriteString(w, `{"status": "ok"}`)
	})

	require.NoError(t, client.MarkSeen(context.Background(), "t1", "i9"))
	require.NoError(t, client.DeleteThread(context.Background(), "t1"))
	assert.Equal(t, []string{"POST /chats/t1/seen", "POST /delete?thread_id=t1"}, paths)
}

func TestNormalizeMicros(t *testing.T) {
	cases := []struct {
		in   int64
		want int64
	}{
		{0, 0},
		{-5, 0},
		{1700000000, 1700000000000000},
		{1700000000123, 1700000000123000},
		{1700000000123456, 1700000000123456},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeMicros(tc.in), "input %d", tc.in)
	}
}

func TestLoginKeepsSessionCookie(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "alice", body["username"])
			http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "s1", Path: "/"})
			_, _ = io.WriteString(w, `{"status": "ok"}`)
		case "/chats":
			cookie, err := r.Cookie("sessionid")
			if assert.NoError(t, err) {
				assert.Equal(t, "s1", cookie.Value)
			}
			_, _ = io.WriteString(w, `[]`)
		}
	})

	require.NoError(t, client.Login(context.Background(), "alice", "pw"))
	convs, err := client.ListConversations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, convs)
}
