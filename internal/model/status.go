package model

import "errors"

var ErrInvalidTransition = errors.New("invalid status transition")

// Status is the lifecycle state of a Submission. The stored value is the
// authoritative record; clients never infer it from anything else.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusPDFGenerated   Status = "pdf_generated"
	StatusEmailSent      Status = "email_sent"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
)

// rank orders the forward path. failed is outside it.
var rank = map[Status]int{
	StatusPendingPayment: 0,
	StatusPaid:           1,
	StatusPDFGenerated:   2,
	StatusEmailSent:      3,
	StatusCompleted:      4,
}

func (s Status) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := rank[s]
	return ok
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Delivered reports whether the document reached the user.
func (s Status) Delivered() bool {
	return s == StatusEmailSent || s == StatusCompleted
}

// PaymentConfirmed reports whether a payment was accepted for the submission.
func (s Status) PaymentConfirmed() bool {
	r, ok := rank[s]
	return ok && r >= rank[StatusPaid]
}

// CanTransition allows exactly one step forward, or failed from
// pending_payment and paid.
func CanTransition(from, to Status) bool {
	if to == StatusFailed {
		return from == StatusPendingPayment || from == StatusPaid
	}
	fr, ok := rank[from]
	if !ok {
		return false
	}
	tr, ok := rank[to]
	if !ok {
		return false
	}
	return tr == fr+1
}
