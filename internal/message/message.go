package message

import (
	"time"

	"docpay-service/internal/model"
	"github.com/google/uuid"
)

// Submission is the submission snapshot carried by lifecycle events. It
// excludes form data and raw provider detail.
type Submission struct {
	ID                uuid.UUID          `json:"id"`
	DocumentType      model.DocumentType `json:"documentType"`
	Amount            int                `json:"amount"`
	Status            model.Status       `json:"status"`
	CheckoutReference string             `json:"checkoutReference,omitempty"`
	GatewayReceiptID  string             `json:"gatewayReceiptId,omitempty"`
	FailureCategory   model.Category     `json:"failureCategory,omitempty"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

// SubmissionEvent is published to the submission-events topic for every
// status transition. The document pipeline starts on submission.paid.
type SubmissionEvent struct {
	ID      uuid.UUID  `json:"id"`
	Event   string     `json:"event"`
	Payload Submission `json:"payload"`
}

// DocumentEvent is consumed from the document-events topic; the external
// pipeline reports generation and delivery progress with it.
type DocumentEvent struct {
	ID           uuid.UUID    `json:"id"`
	SubmissionID uuid.UUID    `json:"submissionId"`
	Status       model.Status `json:"status"`
	Reason       string       `json:"reason,omitempty"`
	OccurredAt   time.Time    `json:"occurredAt"`
}

func EventType(status model.Status) string {
	return "submission." + string(status)
}

func NewSubmission(s *model.Submission) Submission {
	out := Submission{
		ID:              s.ID,
		DocumentType:    s.DocumentType,
		Amount:          s.Amount,
		Status:          s.Status,
		FailureCategory: s.FailureCategory,
		UpdatedAt:       s.UpdatedAt,
	}
	if s.CheckoutReference != nil {
		out.CheckoutReference = *s.CheckoutReference
	}
	if s.GatewayReceiptID != nil {
		out.GatewayReceiptID = *s.GatewayReceiptID
	}
	return out
}
