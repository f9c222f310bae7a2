package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const eventColumns = `id, submission_id, event_type, payload::text, created_at, scheduled_at, published_at, publish_attempts, error`

// GetUnpublishedEvents locks due outbox rows; concurrent relays skip rows
// another relay already holds.
func (r *SubmissionRepository) GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*SubmissionEventEntity, error) {
	query := `SELECT ` + eventColumns + ` FROM submission_event
	          WHERE scheduled_at <= now()
	          ORDER BY scheduled_at, created_at
	          LIMIT $1
	          FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*SubmissionEventEntity
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *SubmissionRepository) UpdateEvent(ctx context.Context, tx pgx.Tx, e *SubmissionEventEntity) error {
	query := `UPDATE submission_event
	          SET scheduled_at = $2, published_at = $3, publish_attempts = $4, error = $5
	          WHERE id = $1`
	_, err := tx.Exec(ctx, query, e.ID, e.ScheduledAt, e.PublishedAt, e.PublishAttempts, e.Error)
	return err
}

func (r *SubmissionRepository) GetEventsBySubmissionID(ctx context.Context, submissionID uuid.UUID) ([]*SubmissionEventEntity, error) {
	query := `SELECT ` + eventColumns + ` FROM submission_event WHERE submission_id = $1 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*SubmissionEventEntity
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(row pgx.Row) (*SubmissionEventEntity, error) {
	var e SubmissionEventEntity
	err := row.Scan(&e.ID, &e.SubmissionID, &e.EventType, &e.Payload, &e.CreatedAt,
		&e.ScheduledAt, &e.PublishedAt, &e.PublishAttempts, &e.Error)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
