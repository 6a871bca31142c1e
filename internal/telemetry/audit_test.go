package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chat-sync/internal/mocks"
)

func TestAuditEmitterPublishesEnvelope(t *testing.T) {
	pub := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(pub, "audit.chat_sync", "chat-sync", "test")
	emitter.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	want := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    "2024-01-02T03:04:05Z",
		Service:       "chat-sync",
		Environment:   "test",
		RequestID:     "req-1",
		ThreadID:      "t1",
		Payload:       AuditPayload{Level: "INFO", Text: "message sent"},
	}
	pub.On("Publish", mock.Anything, "audit.chat_sync", want, map[string]string{"x-request-id": "req-1"}).Return(assert.AnError).Once()

	emitter.Emit(context.Background(), "INFO", "message sent", "req-1", "t1")
	pub.AssertExpectations(t)
}

func TestAuditEmitterNilIsSafe(t *testing.T) {
	var emitter *AuditEmitter
	emitter.Emit(context.Background(), "INFO", "noop", "", "")

	NewAuditEmitter(nil, "k", "s", "e").Emit(context.Background(), "INFO", "noop", "", "")
}
