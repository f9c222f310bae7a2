package event

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"docpay-service/internal/message"
	"docpay-service/internal/model"
	"docpay-service/internal/testhelpers"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func submissionIn(t *testing.T, store *testhelpers.MemoryStore, status model.Status) uuid.UUID {
	t.Helper()

	s := &model.Submission{ID: uuid.New(), DocumentType: model.DocumentResume, Amount: 500, Status: model.StatusPendingPayment, CreatedAt: time.Now()}
	require.NoError(t, store.Create(context.Background(), s))
	store.SetStatus(s.ID, status, model.CategoryNone)
	return s.ID
}

func documentEvent(id uuid.UUID, status model.Status) message.DocumentEvent {
	return message.DocumentEvent{ID: uuid.New(), SubmissionID: id, Status: status, OccurredAt: time.Now()}
}

func TestProcessor_AdvancesLifecycle(t *testing.T) {
	store := testhelpers.NewMemoryStore()
	id := submissionIn(t, store, model.StatusPaid)
	p := NewProcessor(store, discard)

	for _, status := range []model.Status{model.StatusPDFGenerated, model.StatusEmailSent, model.StatusCompleted} {
		require.NoError(t, p.Process(context.Background(), documentEvent(id, status)))
	}

	s, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, s.Status)
	assert.Equal(t, []model.Status{model.StatusPDFGenerated, model.StatusEmailSent, model.StatusCompleted}, store.Transitions(id))
}

func TestProcessor_IgnoresIllegalOrRepeatedEvents(t *testing.T) {
	tests := []struct {
		name    string
		current model.Status
		event   model.Status
	}{
		{name: "BeforePayment", current: model.StatusPendingPayment, event: model.StatusPDFGenerated},
		{name: "Skipping", current: model.StatusPaid, event: model.StatusEmailSent},
		{name: "Redelivered", current: model.StatusEmailSent, event: model.StatusEmailSent},
		{name: "Backwards", current: model.StatusCompleted, event: model.StatusPDFGenerated},
		{name: "FailedAfterDelivery", current: model.StatusEmailSent, event: model.StatusFailed},
		{name: "NotADocumentStatus", current: model.StatusPendingPayment, event: model.StatusPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testhelpers.NewMemoryStore()
			id := submissionIn(t, store, tt.current)

			require.NoError(t, NewProcessor(store, discard).Process(context.Background(), documentEvent(id, tt.event)))

			s, err := store.GetByID(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, tt.current, s.Status)
			assert.Empty(t, store.Transitions(id))
		})
	}
}

func TestProcessor_PipelineFailure(t *testing.T) {
	store := testhelpers.NewMemoryStore()
	id := submissionIn(t, store, model.StatusPaid)

	event := documentEvent(id, model.StatusFailed)
	event.Reason = "template rendering failed"
	require.NoError(t, NewProcessor(store, discard).Process(context.Background(), event))

	s, err := store.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, s.Status)
	assert.Equal(t, model.CategorySystemError, s.FailureCategory)
	assert.Equal(t, model.ReasonDocumentPipeline, s.FailureReason)
	assert.Equal(t, "template rendering failed", s.FailureDetail)
}

func TestProcessor_UnknownSubmission(t *testing.T) {
	store := testhelpers.NewMemoryStore()
	assert.NoError(t, NewProcessor(store, discard).Process(context.Background(), documentEvent(uuid.New(), model.StatusPDFGenerated)))
}
