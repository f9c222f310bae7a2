package callback

import "docpay-service/internal/model"

// Provider result codes seen on STK callbacks.
const (
	ResultSuccess            = 0
	ResultInsufficientFunds  = 1
	ResultUnableToLockSub    = 1001
	ResultNoResponse         = 1019
	ResultSystemError        = 1025
	ResultCancelledByUser    = 1032
	ResultUserUnreachable    = 1037
	ResultWrongPIN           = 2001
	ResultTransientOperation = 9999
	ResultDuplicateRequest   = 17
	ResultTransactionExpired = 26
)

// Categorize maps a provider result code onto the client-visible taxonomy.
// Unknown codes are system errors so that support looks at them.
func Categorize(code int) model.Category {
	switch code {
	case ResultSuccess:
		return model.CategoryNone
	case ResultInsufficientFunds, ResultCancelledByUser, ResultWrongPIN:
		return model.CategoryPaymentIssue
	case ResultUserUnreachable, ResultNoResponse, ResultUnableToLockSub:
		return model.CategoryUserActionRequired
	case ResultSystemError, ResultTransientOperation, ResultDuplicateRequest, ResultTransactionExpired:
		return model.CategoryTechnicalIssue
	default:
		return model.CategorySystemError
	}
}
