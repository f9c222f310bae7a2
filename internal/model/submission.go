package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Submission struct {
	ID                uuid.UUID
	DocumentType      DocumentType
	FormData          FormData
	Amount            int
	PhoneNumber       string
	Status            Status
	CheckoutReference *string
	MerchantReference *string
	GatewayReceiptID  *string
	FailureCategory   Category
	FailureReason     string
	FailureDetail     string
	PaidAmount        *decimal.Decimal
	PaidAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SupportReference is what a user quotes to support: the checkout reference
// when the gateway issued one, the submission ID otherwise.
func (s *Submission) SupportReference() string {
	if s.CheckoutReference != nil && *s.CheckoutReference != "" {
		return *s.CheckoutReference
	}
	return s.ID.String()
}

// PaymentResult is a gateway verdict for one checkout reference.
type PaymentResult struct {
	CheckoutReference string
	MerchantReference string
	Success           bool
	ResultCode        int
	ResultDesc        string
	Category          Category
	ReceiptID         string
	Amount            *decimal.Decimal
	PaidAt            *time.Time
	PhoneNumber       string
}

// Failure is recorded on a submission that moves to failed.
type Failure struct {
	Category Category
	Reason   string
	Detail   string
}
