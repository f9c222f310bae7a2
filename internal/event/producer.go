package event

import (
	"context"
	"log/slog"
	"time"

	"docpay-service/internal/config"
	"docpay-service/internal/db"
	"docpay-service/internal/logcontext"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
)

var (
	// producer batch metrics
	producerErrorFetchingCounter = metrics.GetOrCreateCounter(`outbox_producer_total{result="fetching_failed"}`)
	producerErrorKafkaCounter    = metrics.GetOrCreateCounter(`outbox_producer_total{result="publish_failed"}`)
	producerErrorUpdateCounter   = metrics.GetOrCreateCounter(`outbox_producer_total{result="db_update_failed"}`)
	producerSuccessCounter       = metrics.GetOrCreateCounter(`outbox_producer_total{result="success"}`)

	producerProcessDurationHistogram = metrics.GetOrCreateHistogram(`outbox_producer_duration_milliseconds`)

	// producer per message metrics
	producerMessagesPublishedCounter   = metrics.GetOrCreateCounter(`outbox_producer_messages_total{result="published"}`)
	producerMessagesMaxAttemptsCounter = metrics.GetOrCreateCounter(`outbox_producer_messages_total{result="max_attempts_reached"}`)
	producerMessagesRescheduledCounter = metrics.GetOrCreateCounter(`outbox_producer_messages_total{result="rescheduled"}`)
)

type Outbox interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*db.SubmissionEventEntity, error)
	UpdateEvent(ctx context.Context, tx pgx.Tx, e *db.SubmissionEventEntity) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer relays submission events from the outbox table to Kafka.
type Producer struct {
	repo               Outbox
	writer             MessageWriter
	pollingInterval    time.Duration
	fetchSize          int
	retryDelay         time.Duration
	maxPublishAttempts int
	logger             *slog.Logger
}

func NewProducer(repo Outbox, writer MessageWriter, cfg config.Outbox, logger *slog.Logger) *Producer {
	return &Producer{
		repo:               repo,
		writer:             writer,
		pollingInterval:    time.Duration(cfg.PollingIntervalMs) * time.Millisecond,
		fetchSize:          cfg.FetchSize,
		retryDelay:         time.Duration(cfg.RescheduleDelayMs) * time.Millisecond,
		maxPublishAttempts: cfg.MaxPublishAttempts,
		logger:             logger,
	}
}

// Start relays until ctx is done.
func (p *Producer) Start(ctx context.Context) error {
	ticker := time.NewTicker(p.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.process(ctx)
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Context done, stopping producer")
			return nil
		}
	}
}

func (p *Producer) process(ctx context.Context) {
	startTime := time.Now()

	// set runId as a correlation id for all logs in scope
	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error starting transaction", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}

	defer tx.Rollback(ctx)

	events, err := p.repo.GetUnpublishedEvents(ctx, tx, p.fetchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error fetching unpublished events", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}

	if len(events) == 0 {
		p.logger.DebugContext(ctx, "No unpublished events found")
		producerSuccessCounter.Inc()
		return
	}

	p.logger.InfoContext(ctx, "Writing messages to Kafka", "count", len(events))

	err = p.writer.WriteMessages(ctx, toKafkaMessages(events)...)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error writing messages to Kafka", "error", err)
		producerErrorKafkaCounter.Inc()
	}

	now := time.Now()
	for _, event := range events {
		eventCtx := logcontext.AppendCtx(ctx,
			slog.String("id", event.ID.String()),
			slog.String("submissionId", event.SubmissionID.String()))

		event.PublishAttempts++

		if err != nil {
			errMsg := err.Error()
			event.Error = &errMsg

			if event.PublishAttempts >= p.maxPublishAttempts {
				p.logger.WarnContext(eventCtx, "Max publish attempts reached for event", "event", event.EventType)
				event.ScheduledAt = nil

				producerMessagesMaxAttemptsCounter.Inc()
			} else {
				scheduledAt := now.Add(time.Duration(event.PublishAttempts) * p.retryDelay)
				event.ScheduledAt = &scheduledAt

				producerMessagesRescheduledCounter.Inc()
			}
		} else {
			event.ScheduledAt = nil
			event.PublishedAt = &now
			event.Error = nil

			producerMessagesPublishedCounter.Inc()
		}

		if err := p.repo.UpdateEvent(eventCtx, tx, event); err != nil {
			p.logger.ErrorContext(eventCtx, "Error updating event", "error", err)
			producerErrorUpdateCounter.Inc()
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		p.logger.ErrorContext(ctx, "Error committing transaction", "error", err)
		producerErrorUpdateCounter.Inc()
	} else {
		producerSuccessCounter.Inc()
	}

	producerProcessDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
}

func toKafkaMessages(events []*db.SubmissionEventEntity) []kafka.Message {
	messages := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		messages = append(messages, kafka.Message{
			// Submission ID as key keeps one submission's events in order.
			Key:     []byte(e.SubmissionID.String()),
			Value:   []byte(e.Payload),
			Headers: []kafka.Header{{Key: "event", Value: []byte(e.EventType)}},
		})
	}
	return messages
}
