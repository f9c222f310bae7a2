package payload

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Metadata item names sent with a successful STK callback.
const (
	ItemAmount          = "Amount"
	ItemReceiptNumber   = "MpesaReceiptNumber"
	ItemTransactionDate = "TransactionDate"
	ItemPhoneNumber     = "PhoneNumber"
)

const transactionDateLayout = "20060102150405"

// ProviderZone is the provider's local time, used for TransactionDate.
var ProviderZone = time.FixedZone("EAT", 3*60*60)

type STKCallbackEnvelope struct {
	Body STKCallbackBody `json:"Body"`
}

type STKCallbackBody struct {
	STKCallback STKCallback `json:"stkCallback"`
}

type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

// MetadataItem values arrive as numbers or strings, and some items carry no
// value at all.
type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// CallbackAck is the only response the provider gets from the webhook.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func Accepted() CallbackAck {
	return CallbackAck{ResultCode: 0, ResultDesc: "Accepted"}
}

// Metadata is the parsed metadata of a successful callback. Missing or
// unparsable items are left zero.
type Metadata struct {
	Amount          *decimal.Decimal
	ReceiptNumber   string
	TransactionDate *time.Time
	PhoneNumber     string
}

func (c STKCallback) Metadata() Metadata {
	var m Metadata
	if c.CallbackMetadata == nil {
		return m
	}

	for _, item := range c.CallbackMetadata.Item {
		raw, ok := item.text()
		if !ok {
			continue
		}
		switch item.Name {
		case ItemAmount:
			if d, err := decimal.NewFromString(raw); err == nil {
				m.Amount = &d
			}
		case ItemReceiptNumber:
			m.ReceiptNumber = raw
		case ItemTransactionDate:
			if t, err := time.ParseInLocation(transactionDateLayout, raw, ProviderZone); err == nil {
				m.TransactionDate = &t
			}
		case ItemPhoneNumber:
			m.PhoneNumber = raw
		}
	}
	return m
}

// text returns the item value as its literal text, unquoting strings.
func (i MetadataItem) text() (string, bool) {
	v := bytes.TrimSpace(i.Value)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", false
	}

	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}

	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return "", false
	}
	// json.Number keeps the literal so dates and phone numbers are not
	// reformatted as floats.
	return n.String(), true
}
