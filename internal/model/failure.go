package model

// Category is the client-visible failure class. Each one has its own user
// message and recovery action.
type Category string

const (
	CategoryNone               Category = ""
	CategoryUserActionRequired Category = "user_action_required"
	CategoryPaymentIssue       Category = "payment_issue"
	CategoryTechnicalIssue     Category = "technical_issue"
	CategorySystemError        Category = "system_error"
	CategoryTimeout            Category = "timeout"
)

// Failure reasons recorded on a submission next to its category.
const (
	ReasonGatewayUnreachable = "gateway_unreachable"
	ReasonGatewayRejected    = "gateway_rejected"
	ReasonGatewayAuth        = "gateway_auth"
	ReasonGatewayUnexpected  = "gateway_unexpected"
	ReasonDocumentPipeline   = "document_pipeline"
)

func (c Category) Message() string {
	switch c {
	case CategoryUserActionRequired:
		return "Check your phone and complete the payment prompt, then try again."
	case CategoryPaymentIssue:
		return "The payment was not completed. Check your balance and PIN and try again."
	case CategoryTechnicalIssue:
		return "We could not reach the payment provider. Please try again shortly."
	case CategorySystemError:
		return "Something went wrong. Contact support with your reference."
	case CategoryTimeout:
		return "We have not received a payment confirmation yet. You can check again."
	default:
		return ""
	}
}

// Retryable reports whether the user may retry on their own.
func (c Category) Retryable() bool {
	switch c {
	case CategoryUserActionRequired, CategoryPaymentIssue, CategoryTechnicalIssue, CategoryTimeout:
		return true
	default:
		return false
	}
}
