package gateway

import (
	"context"
	"errors"
	"fmt"

	"docpay-service/internal/model"
)

var (
	// ErrUnreachable covers transport failures, timeouts and 5xx answers.
	// The charge may be retried.
	ErrUnreachable = errors.New("payment gateway unreachable")

	// ErrAuth means the gateway refused our credentials.
	ErrAuth = errors.New("payment gateway refused credentials")
)

// RejectedError is a charge request the gateway answered and refused, for
// example because of a malformed phone number.
type RejectedError struct {
	HTTPStatus int
	Code       string
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("payment gateway rejected request: status=%d code=%s: %s", e.HTTPStatus, e.Code, e.Message)
}

// FailureOf maps a client error onto the failure recorded for the submission.
func FailureOf(err error) model.Failure {
	var rejected *RejectedError

	switch {
	case errors.Is(err, ErrUnreachable), errors.Is(err, context.DeadlineExceeded):
		return model.Failure{Category: model.CategoryTechnicalIssue, Reason: model.ReasonGatewayUnreachable, Detail: err.Error()}
	case errors.As(err, &rejected):
		return model.Failure{Category: model.CategoryPaymentIssue, Reason: model.ReasonGatewayRejected, Detail: rejected.Error()}
	case errors.Is(err, ErrAuth):
		return model.Failure{Category: model.CategorySystemError, Reason: model.ReasonGatewayAuth, Detail: err.Error()}
	default:
		return model.Failure{Category: model.CategorySystemError, Reason: model.ReasonGatewayUnexpected, Detail: err.Error()}
	}
}
