package backend

import (
	"context"

	"github.com/pkg/errors"

	"chat-sync/internal/models"
)

var (
	// ErrNotFound is returned when the backend answers 404.
	ErrNotFound = errors.New("not found")
	// ErrUnexpectedStatus wraps every other non-2xx answer.
	ErrUnexpectedStatus = errors.New("unexpected backend status")
	// ErrMalformedResponse is returned when a body cannot be decoded at all.
	ErrMalformedResponse = errors.New("malformed backend response")
)

// API abstracts the chat backend consumed by the synchronizers.
type API interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	GetConversation(ctx context.Context, threadID string) (models.Conversation, error)
	LoadOlderMessages(ctx context.Context, threadID, cursor string) (models.MessagePage, error)
	NewMessagesSince(ctx context.Context, threadID string, since int64) ([]models.Message, error)
	SendMessage(ctx context.Context, threadID, text string) (string, error)
	MarkSeen(ctx context.Context, threadID, itemID string) error
	DeleteThread(ctx context.Context, threadID string) error
	SearchUser(ctx context.Context, username string) (*models.Participant, error)
}
