package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-sync/internal/models"
)

type BackendMock struct {
	mock.Mock
}

func (m *BackendMock) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	args := m.Called(ctx)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

func (m *BackendMock) GetConversation(ctx context.Context, threadID string) (models.Conversation, error) {
	args := m.Called(ctx, threadID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *BackendMock) LoadOlderMessages(ctx context.Context, threadID, cursor string) (models.MessagePage, error) {
	args := m.Called(ctx, threadID, cursor)
	var page models.MessagePage
	if val := args.Get(0); val != nil {
		page = val.(models.MessagePage)
	}
	return page, args.Error(1)
}

func (m *BackendMock) NewMessagesSince(ctx context.Context, threadID string, since int64) ([]models.Message, error) {
	args := m.Called(ctx, threadID, since)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *BackendMock) SendMessage(ctx context.Context, threadID, text string) (string, error) {
	args := m.Called(ctx, threadID, text)
	return args.String(0), args.Error(1)
}

func (m *BackendMock) MarkSeen(ctx context.Context, threadID, itemID string) error {
	args := m.Called(ctx, threadID, itemID)
	return args.Error(0)
}

func (m *BackendMock) DeleteThread(ctx context.Context, threadID string) error {
	args := m.Called(ctx, threadID)
	return args.Error(0)
}

func (m *BackendMock) SearchUser(ctx context.Context, username string) (*models.Participant, error) {
	args := m.Called(ctx, username)
	var user *models.Participant
	if val := args.Get(0); val != nil {
		user = val.(*models.Participant)
	}
	return user, args.Error(1)
}
