package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"docpay-service/internal/message"
	"docpay-service/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const submissionColumns = `id, document_type, form_schema_version, form_data, amount, phone_number, status,
	checkout_reference, merchant_reference, gateway_receipt_id, failure_category, failure_reason, failure_detail,
	paid_amount::text, paid_at, created_at, updated_at`

const uniqueViolation = "23505"

type SubmissionRepository struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

func (r *SubmissionRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *SubmissionRepository) Create(ctx context.Context, s *model.Submission) error {
	formData := []byte(s.FormData.Payload)
	if len(formData) == 0 {
		formData = []byte("null")
	}

	query := `INSERT INTO submission (id, document_type, form_schema_version, form_data, amount, phone_number, status, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`
	_, err := r.pool.Exec(ctx, query, s.ID, string(s.DocumentType), s.FormData.SchemaVersion, formData,
		s.Amount, s.PhoneNumber, string(s.Status), s.CreatedAt)
	return err
}

func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submission WHERE id = $1`
	return scanSubmission(r.pool.QueryRow(ctx, query, id))
}

func (r *SubmissionRepository) GetByCheckoutReference(ctx context.Context, ref string) (*model.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submission WHERE checkout_reference = $1`
	return scanSubmission(r.pool.QueryRow(ctx, query, ref))
}

// SetCheckoutReference stores the gateway correlation identifiers. They can
// be written once, and only while the submission awaits payment.
func (r *SubmissionRepository) SetCheckoutReference(ctx context.Context, id uuid.UUID, checkoutRef, merchantRef string) error {
	query := `UPDATE submission SET checkout_reference = $2, merchant_reference = $3, updated_at = now()
	          WHERE id = $1 AND status = $4 AND checkout_reference IS NULL`
	tag, err := r.pool.Exec(ctx, query, id, checkoutRef, merchantRef, string(model.StatusPendingPayment))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: checkout reference %s already in use", ErrConflict, checkoutRef)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// UpdateByID locks the submission, lets fn decide a change and applies it
// together with its outbox event in one transaction.
func (r *SubmissionRepository) UpdateByID(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*model.Submission, bool, error) {
	return r.updateLocked(ctx, "id = $1", id, fn)
}

// UpdateByCheckoutReference is UpdateByID keyed by the gateway reference.
func (r *SubmissionRepository) UpdateByCheckoutReference(ctx context.Context, ref string, fn UpdateFunc) (*model.Submission, bool, error) {
	return r.updateLocked(ctx, "checkout_reference = $1", ref, fn)
}

func (r *SubmissionRepository) updateLocked(ctx context.Context, where string, arg any, fn UpdateFunc) (*model.Submission, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	current, err := scanSubmission(tx.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submission WHERE `+where+` FOR UPDATE`, arg))
	if err != nil {
		return nil, false, err
	}

	change, err := fn(current)
	if err != nil {
		return current, false, err
	}
	if change == nil {
		return current, false, nil
	}
	if !model.CanTransition(current.Status, change.To) {
		return current, false, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, current.Status, change.To)
	}

	updated, err := applyChange(ctx, tx, current, change)
	if err != nil {
		return current, false, err
	}

	if err := insertEvent(ctx, tx, updated); err != nil {
		return current, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return current, false, err
	}
	return updated, true, nil
}

func applyChange(ctx context.Context, tx pgx.Tx, current *model.Submission, change *Change) (*model.Submission, error) {
	var category, reason, detail, receipt, paidAmount *string
	if f := change.Failure; f != nil {
		c := string(f.Category)
		category, reason, detail = &c, &f.Reason, &f.Detail
	}
	if change.ReceiptID != "" {
		receipt = &change.ReceiptID
	}
	if change.PaidAmount != nil {
		s := change.PaidAmount.String()
		paidAmount = &s
	}

	query := `UPDATE submission SET
	              status = $2,
	              gateway_receipt_id = COALESCE($3, gateway_receipt_id),
	              failure_category = COALESCE($4, failure_category),
	              failure_reason = COALESCE($5, failure_reason),
	              failure_detail = COALESCE($6, failure_detail),
	              paid_amount = COALESCE($7::numeric, paid_amount),
	              paid_at = COALESCE($8, paid_at),
	              updated_at = now()
	          WHERE id = $1 AND status = $9
	          RETURNING ` + submissionColumns
	updated, err := scanSubmission(tx.QueryRow(ctx, query, current.ID, string(change.To), receipt,
		category, reason, detail, paidAmount, change.PaidAt, string(current.Status)))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConflict
	}
	return updated, err
}

func insertEvent(ctx context.Context, tx pgx.Tx, s *model.Submission) error {
	event := message.SubmissionEvent{
		ID:      uuid.New(),
		Event:   message.EventType(s.Status),
		Payload: message.NewSubmission(s),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	query := `INSERT INTO submission_event (id, submission_id, event_type, payload, created_at, scheduled_at)
	          VALUES ($1, $2, $3, $4, now(), now())`
	_, err = tx.Exec(ctx, query, event.ID, s.ID, event.Event, payload)
	return err
}

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	var (
		s                                    model.Submission
		docType, status                      string
		formData                             []byte
		category, reason, detail, paidAmount *string
	)

	err := row.Scan(&s.ID, &docType, &s.FormData.SchemaVersion, &formData, &s.Amount, &s.PhoneNumber, &status,
		&s.CheckoutReference, &s.MerchantReference, &s.GatewayReceiptID, &category, &reason, &detail,
		&paidAmount, &s.PaidAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.DocumentType = model.DocumentType(docType)
	s.Status = model.Status(status)
	s.FormData.Payload = formData
	if category != nil {
		s.FailureCategory = model.Category(*category)
	}
	if reason != nil {
		s.FailureReason = *reason
	}
	if detail != nil {
		s.FailureDetail = *detail
	}
	if paidAmount != nil {
		d, err := decimal.NewFromString(*paidAmount)
		if err != nil {
			return nil, fmt.Errorf("parse paid amount %q: %w", *paidAmount, err)
		}
		s.PaidAmount = &d
	}
	return &s, nil
}
