package poller

import (
	"time"

	"docpay-service/internal/model"
	"github.com/google/uuid"
)

// State is what the user sees. A session emits processing zero or more
// times and then exactly one terminal state.
type State string

const (
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

type Snapshot struct {
	SubmissionID     uuid.UUID
	State            State
	Status           model.Status
	Category         model.Category
	Message          string
	Attempt          int
	MaxAttempts      int
	Elapsed          time.Duration
	SupportReference string
	Err              error
}

const (
	messageWaiting    = "Waiting for you to confirm the payment on your phone."
	messagePreparing  = "Payment received. Your document is being prepared."
	messageCompleted  = "Payment complete. Your document is ready."
	messageNotFound   = "We could not find this submission. Contact support with your reference."
	messageCheckAgain = "Still waiting for the payment provider."
	messageSlowDoc    = "Payment received. Your document is taking longer than expected. You can check again."
)

// processingMessage is the text for a non-terminal snapshot.
func processingMessage(status model.Status) string {
	if status.PaymentConfirmed() {
		return messagePreparing
	}
	if status == "" {
		return messageCheckAgain
	}
	return messageWaiting
}
