package main

import (
	"strconv"
	"time"

	"docpay-service/internal/callback"
	"docpay-service/internal/payload"
)

// scenario is picked from the last digit of the payer's phone number.
type scenario string

const (
	scenarioSuccess           scenario = "success"
	scenarioCancelled         scenario = "cancelled"
	scenarioInsufficientFunds scenario = "insufficient_funds"
	scenarioUnreachable       scenario = "unreachable"
	scenarioLost              scenario = "lost"
	scenarioDuplicate         scenario = "duplicate"
	scenarioRejected          scenario = "rejected"
)

func scenarioFor(phone string) scenario {
	if phone == "" {
		return scenarioSuccess
	}
	switch phone[len(phone)-1] {
	case '5':
		return scenarioCancelled
	case '6':
		return scenarioInsufficientFunds
	case '7':
		return scenarioUnreachable
	case '8':
		return scenarioLost
	case '9':
		return scenarioDuplicate
	case '4':
		return scenarioRejected
	default:
		return scenarioSuccess
	}
}

// callbacks returns what the provider would post for a scenario, in order.
func (s scenario) callbacks(req payload.STKPushRequest, merchantID, checkoutID, receipt string, at time.Time) []payload.STKCallbackEnvelope {
	switch s {
	case scenarioSuccess:
		return []payload.STKCallbackEnvelope{success(req, merchantID, checkoutID, receipt, at)}
	case scenarioDuplicate:
		cb := success(req, merchantID, checkoutID, receipt, at)
		return []payload.STKCallbackEnvelope{cb, cb}
	case scenarioCancelled:
		return []payload.STKCallbackEnvelope{failure(merchantID, checkoutID, callback.ResultCancelledByUser, "Request cancelled by user")}
	case scenarioInsufficientFunds:
		return []payload.STKCallbackEnvelope{failure(merchantID, checkoutID, callback.ResultInsufficientFunds, "The balance is insufficient for the transaction")}
	case scenarioUnreachable:
		return []payload.STKCallbackEnvelope{failure(merchantID, checkoutID, callback.ResultUserUnreachable, "DS timeout user cannot be reached")}
	default:
		return nil
	}
}

func success(req payload.STKPushRequest, merchantID, checkoutID, receipt string, at time.Time) payload.STKCallbackEnvelope {
	items := []payload.MetadataItem{
		{Name: payload.ItemAmount, Value: []byte(strconv.Itoa(req.Amount))},
		{Name: payload.ItemReceiptNumber, Value: []byte(strconv.Quote(receipt))},
		{Name: "Balance"},
		{Name: payload.ItemTransactionDate, Value: []byte(at.In(payload.ProviderZone).Format("20060102150405"))},
		{Name: payload.ItemPhoneNumber, Value: number(req.PhoneNumber)},
	}
	return payload.STKCallbackEnvelope{Body: payload.STKCallbackBody{STKCallback: payload.STKCallback{
		MerchantRequestID: merchantID,
		CheckoutRequestID: checkoutID,
		ResultCode:        callback.ResultSuccess,
		ResultDesc:        "The service request is processed successfully.",
		CallbackMetadata:  &payload.CallbackMetadata{Item: items},
	}}}
}

func failure(merchantID, checkoutID string, code int, desc string) payload.STKCallbackEnvelope {
	return payload.STKCallbackEnvelope{Body: payload.STKCallbackBody{STKCallback: payload.STKCallback{
		MerchantRequestID: merchantID,
		CheckoutRequestID: checkoutID,
		ResultCode:        code,
		ResultDesc:        desc,
	}}}
}

// number renders digits as a JSON number, the way the provider does, and
// anything else as a string.
func number(s string) []byte {
	if _, err := strconv.ParseUint(s, 10, 64); err != nil {
		return []byte(strconv.Quote(s))
	}
	return []byte(s)
}
