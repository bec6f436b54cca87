package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"room-chat-service/internal/mocks"
)

func TestAuditEmitterPublishesEnvelope(t *testing.T) {
	publisher := new(mocks.PublisherMock)
	emitter := NewAuditEmitter(publisher, "audit.roomchat", "room-chat-service", "test")

	subjectID := "u1"
	publisher.On("Publish", mock.Anything, "audit.roomchat", mock.MatchedBy(func(event any) bool {
		envelope, ok := event.(AuditEnvelope)
		if !ok {
			return false
		}
		return envelope.EventType == "audit_log" &&
			envelope.Service == "room-chat-service" &&
			envelope.RequestID == "req-1" &&
			envelope.SubjectID != nil && *envelope.SubjectID == "u1" &&
			envelope.Payload.Level == "ERROR" &&
			envelope.Payload.Text == "delete denied: not room owner"
	})).Return(nil).Once()

	emitter.Emit(context.Background(), "ERROR", "delete denied: not room owner", "req-1", &subjectID)

	publisher.AssertExpectations(t)
}

func TestAuditEmitterNilReceiverIsSafe(t *testing.T) {
	var emitter *AuditEmitter
	require.NotPanics(t, func() {
		emitter.Emit(context.Background(), "INFO", "noop", "req-2", nil)
	})
}
