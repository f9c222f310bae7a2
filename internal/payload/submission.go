package payload

import (
	"time"

	"docpay-service/internal/model"
	"github.com/google/uuid"
)

// SubmissionView is what API clients see of a submission. Provider result
// codes and descriptions stay in the logs.
type SubmissionView struct {
	ID                uuid.UUID          `json:"id"`
	DocumentType      model.DocumentType `json:"documentType"`
	Amount            int                `json:"amount"`
	Status            model.Status       `json:"status"`
	FailureCategory   model.Category     `json:"failureCategory,omitempty"`
	Message           string             `json:"message,omitempty"`
	CheckoutReference string             `json:"checkoutReference,omitempty"`
	SupportReference  string             `json:"supportReference"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}
