package backend

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-sync/internal/logger"
	"chat-sync/internal/models"
)

const tracerName = "chat-sync/backend"

// Client talks to the REST proxy in front of the social platform.
type Client struct {
	http *resty.Client
}

var _ API = (*Client)(nil)

// NewClient builds a Client for baseURL. The underlying resty client keeps a
// cookie jar, so the session cookie issued by Login is reused by every call.
func NewClient(baseURL string, timeout time.Duration) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	return &Client{http: r}
}

// Login authenticates against the backend; the session is kept implicitly.
func (c *Client) Login(ctx context.Context, username, password string) error {
	_, err := c.do(ctx, "Login", http.MethodPost, "/login", func(r *resty.Request) {
		r.SetBody(map[string]string{"username": username, "password": password})
	})
	return err
}

// ListConversations fetches every thread visible to the viewer.
func (c *Client) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	body, err := c.do(ctx, "ListConversations", http.MethodGet, "/chats", nil)
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		var wrapped struct {
			Threads []json.RawMessage `json:"threads"`
		}
		if werr := json.Unmarshal(body, &wrapped); werr != nil {
			return nil, errors.Wrap(ErrMalformedResponse, err.Error())
		}
		raws = wrapped.Threads
	}

	convs := make([]models.Conversation, 0, len(raws))
	for _, raw := range raws {
		if conv, ok := decodeThread(raw); ok {
			convs = append(convs, conv)
		}
	}
	return convs, nil
}

// GetConversation fetches one thread including its full item list.
func (c *Client) GetConversation(ctx context.Context, threadID string) (models.Conversation, error) {
	body, err := c.do(ctx, "GetConversation", http.MethodGet, "/chats/{threadId}", func(r *resty.Request) {
		r.SetPathParam("threadId", threadID)
	})
	if err != nil {
		return models.Conversation{}, err
	}
	conv, ok := decodeThread(body)
	if !ok {
		return models.Conversation{}, errors.Wrapf(ErrMalformedResponse, "thread %s", threadID)
	}
	return conv, nil
}

// LoadOlderMessages fetches the page of history behind cursor.
func (c *Client) LoadOlderMessages(ctx context.Context, threadID, cursor string) (models.MessagePage, error) {
	body, err := c.do(ctx, "LoadOlderMessages", http.MethodGet, "/chats/{threadId}/messages", func(r *resty.Request) {
		r.SetPathParam("threadId", threadID).SetQueryParam("cursor", cursor)
	})
	if err != nil {
		return models.MessagePage{}, err
	}
	page, err := decodePage(body, threadID)
	if err != nil {
		return models.MessagePage{}, errors.Wrap(ErrMalformedResponse, err.Error())
	}
	return page, nil
}

// NewMessagesSince fetches items newer than since (microseconds).
func (c *Client) NewMessagesSince(ctx context.Context, threadID string, since int64) ([]models.Message, error) {
	body, err := c.do(ctx, "NewMessagesSince", http.MethodGet, "/chats/{threadId}/new_messages", func(r *resty.Request) {
		r.SetPathParam("threadId", threadID).SetQueryParam("last_timestamp", strconv.FormatInt(since, 10))
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(ErrMalformedResponse, err.Error())
	}
	return decodeItems(threadID, resp.Messages), nil
}

// SendMessage posts a text item and returns the server-assigned item id.
func (c *Client) SendMessage(ctx context.Context, threadID, text string) (string, error) {
	body, err := c.do(ctx, "SendMessage", http.MethodPost, "/chats/{threadId}/send_message", func(r *resty.Request) {
		r.SetPathParam("threadId", threadID).SetBody(map[string]string{"message": text})
	})
	if err != nil {
		return "", err
	}
	var resp struct {
		MessageID flexString `json:"messageId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.Wrap(ErrMalformedResponse, err.Error())
	}
	if resp.MessageID == "" {
		return "", errors.Wrap(ErrMalformedResponse, "missing messageId")
	}
	return string(resp.MessageID), nil
}

// MarkSeen acknowledges itemID as seen by the viewer.
func (c *Client) MarkSeen(ctx context.Context, threadID, itemID string) error {
	_, err := c.do(ctx, "MarkSeen", http.MethodPost, "/chats/{threadId}/seen", func(r *resty.Request) {
		r.SetPathParam("threadId", threadID).SetBody(map[string]string{"item_id": itemID})
	})
	return err
}

// DeleteThread removes the thread for the viewer.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	_, err := c.do(ctx, "DeleteThread", http.MethodPost, "/delete", func(r *resty.Request) {
		r.SetQueryParam("thread_id", threadID)
	})
	return err
}

// SearchUser looks a user up by exact username. A miss returns (nil, nil).
func (c *Client) SearchUser(ctx context.Context, username string) (*models.Participant, error) {
	body, err := c.do(ctx, "SearchUser", http.MethodGet, "/searchUser", func(r *resty.Request) {
		r.SetQueryParam("username", username)
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var user wireUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, errors.Wrap(ErrMalformedResponse, err.Error())
	}
	if user.PK == "" {
		var wrapped struct {
			User *wireUser `json:"user"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil || wrapped.User == nil || wrapped.User.PK == "" {
			return nil, nil
		}
		user = *wrapped.User
	}
	p := user.participant()
	return &p, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, build func(*resty.Request)) ([]byte, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "backend."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.method", method), attribute.String("http.route", path)),
	)
	defer span.End()

	req := c.http.R().SetContext(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	if build != nil {
		build(req)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, errors.Wrapf(ErrNotFound, "%s %s", method, path)
	case resp.IsError():
		span.SetStatus(codes.Error, resp.Status())
		logger.Debug("backend error", zap.String("op", op), zap.Int("status", resp.StatusCode()))
		return nil, errors.Wrapf(ErrUnexpectedStatus, "%s %s: %d", method, path, resp.StatusCode())
	}
	return resp.Body(), nil
}
