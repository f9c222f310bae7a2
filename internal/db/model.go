package db

import (
	"time"

	"docpay-service/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubmissionEventEntity is a transactional outbox row written together with
// every status transition.
type SubmissionEventEntity struct {
	ID              uuid.UUID
	SubmissionID    uuid.UUID
	EventType       string
	Payload         string
	CreatedAt       time.Time
	ScheduledAt     *time.Time
	PublishedAt     *time.Time
	PublishAttempts int
	Error           *string
}

// CallbackLogEntity is a raw gateway callback as received.
type CallbackLogEntity struct {
	ID                int64
	CheckoutReference string
	MerchantReference string
	ResultCode        int
	Payload           []byte
	Outcome           string
	ReceivedAt        time.Time
}

// Change is the transition a locked update applies. A nil Change from an
// update function leaves the submission untouched.
type Change struct {
	To         model.Status
	Failure    *model.Failure
	ReceiptID  string
	PaidAmount *decimal.Decimal
	PaidAt     *time.Time
}

// UpdateFunc inspects the locked submission and decides the change.
type UpdateFunc func(current *model.Submission) (*Change, error)
