package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"docpay-service/internal/db"
	"docpay-service/internal/logcontext"
	"docpay-service/internal/message"
	"docpay-service/internal/model"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

var (
	documentAppliedCounter = metrics.GetOrCreateCounter(`document_events_total{result="applied"}`)
	documentIgnoredCounter = metrics.GetOrCreateCounter(`document_events_total{result="ignored"}`)
	documentErrorCounter   = metrics.GetOrCreateCounter(`document_events_total{result="error"}`)
)

type Store interface {
	UpdateByID(ctx context.Context, id uuid.UUID, fn db.UpdateFunc) (*model.Submission, bool, error)
}

// Processor applies progress reported by the document pipeline. Events that
// would not be a legal next step for the current status are ignored, which
// makes redelivery harmless.
type Processor struct {
	store  Store
	logger *slog.Logger
}

func NewProcessor(store Store, logger *slog.Logger) *Processor {
	return &Processor{store: store, logger: logger}
}

func (p *Processor) Process(ctx context.Context, event message.DocumentEvent) error {
	ctx = logcontext.AppendCtx(ctx,
		slog.String("submissionId", event.SubmissionID.String()),
		slog.String("eventId", event.ID.String()))

	switch event.Status {
	case model.StatusPDFGenerated, model.StatusEmailSent, model.StatusCompleted, model.StatusFailed:
	default:
		p.logger.WarnContext(ctx, "Ignoring document event with unexpected status", "status", event.Status)
		documentIgnoredCounter.Inc()
		return nil
	}

	_, applied, err := p.store.UpdateByID(ctx, event.SubmissionID, func(current *model.Submission) (*db.Change, error) {
		if !model.CanTransition(current.Status, event.Status) {
			p.logger.WarnContext(ctx, "Ignoring document event",
				"current", current.Status, "reported", event.Status)
			return nil, nil
		}

		change := &db.Change{To: event.Status}
		if event.Status == model.StatusFailed {
			change.Failure = &model.Failure{
				Category: model.CategorySystemError,
				Reason:   model.ReasonDocumentPipeline,
				Detail:   event.Reason,
			}
		}
		return change, nil
	})

	switch {
	case errors.Is(err, db.ErrNotFound):
		p.logger.WarnContext(ctx, "Document event for unknown submission")
		documentIgnoredCounter.Inc()
		return nil
	case err != nil:
		documentErrorCounter.Inc()
		return fmt.Errorf("applying document event %s: %w", event.ID, err)
	case !applied:
		documentIgnoredCounter.Inc()
		return nil
	}

	p.logger.InfoContext(ctx, "Applied document event", "status", event.Status)
	documentAppliedCounter.Inc()
	return nil
}
