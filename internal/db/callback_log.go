package db

import (
	"context"
	"time"
)

// Outcomes recorded for a received callback.
const (
	CallbackApplied   = "applied"
	CallbackDuplicate = "duplicate"
	CallbackConflict  = "conflict"
	CallbackUnmatched = "unmatched"
	CallbackIgnored   = "ignored"
)

func (r *SubmissionRepository) InsertCallbackLog(ctx context.Context, e *CallbackLogEntity) (int64, error) {
	query := `INSERT INTO gateway_callback (checkout_reference, merchant_reference, result_code, payload, outcome)
	          VALUES ($1, $2, $3, $4, $5) RETURNING id, received_at`
	err := r.pool.QueryRow(ctx, query, e.CheckoutReference, e.MerchantReference, e.ResultCode, e.Payload, e.Outcome).
		Scan(&e.ID, &e.ReceivedAt)
	if err != nil {
		return 0, err
	}
	return e.ID, nil
}

// ParkedCallbacks returns callbacks that arrived before their checkout
// reference was stored, oldest first.
func (r *SubmissionRepository) ParkedCallbacks(ctx context.Context, checkoutRef string) ([]*CallbackLogEntity, error) {
	query := `SELECT id, checkout_reference, merchant_reference, result_code, payload, outcome, received_at
	          FROM gateway_callback
	          WHERE checkout_reference = $1 AND outcome = $2
	          ORDER BY id`
	rows, err := r.pool.Query(ctx, query, checkoutRef, CallbackUnmatched)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*CallbackLogEntity
	for rows.Next() {
		var e CallbackLogEntity
		if err := rows.Scan(&e.ID, &e.CheckoutReference, &e.MerchantReference, &e.ResultCode, &e.Payload, &e.Outcome, &e.ReceivedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// ParkedReferences lists checkout references that still have parked
// callbacks received since the given time, oldest first.
func (r *SubmissionRepository) ParkedReferences(ctx context.Context, since time.Time, limit int) ([]string, error) {
	query := `SELECT checkout_reference
	          FROM gateway_callback
	          WHERE outcome = $1 AND received_at >= $2
	          GROUP BY checkout_reference
	          ORDER BY min(id)
	          LIMIT $3`
	rows, err := r.pool.Query(ctx, query, CallbackUnmatched, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// UpdateCallbackOutcome resolves a parked callback. A row that was already
// resolved keeps its outcome.
func (r *SubmissionRepository) UpdateCallbackOutcome(ctx context.Context, id int64, outcome string) error {
	_, err := r.pool.Exec(ctx, `UPDATE gateway_callback SET outcome = $2 WHERE id = $1 AND outcome = $3`,
		id, outcome, CallbackUnmatched)
	return err
}
