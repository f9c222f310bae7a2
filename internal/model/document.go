package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownDocumentType = errors.New("unknown document type")

type DocumentType string

const (
	DocumentResume      DocumentType = "resume"
	DocumentCoverLetter DocumentType = "cover_letter"
)

var documentTypes = []DocumentType{DocumentResume, DocumentCoverLetter}

func ParseDocumentType(s string) (DocumentType, error) {
	for _, t := range documentTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDocumentType, s)
}

// PriceTable maps a document type to its price in whole currency units.
type PriceTable map[DocumentType]int

func DefaultPrices() PriceTable {
	return PriceTable{
		DocumentResume:      500,
		DocumentCoverLetter: 300,
	}
}

// NewPriceTable builds a table from configuration. Unknown keys and
// non-positive amounts are rejected; missing types keep their defaults.
func NewPriceTable(overrides map[string]int) (PriceTable, error) {
	table := DefaultPrices()
	for k, amount := range overrides {
		t, err := ParseDocumentType(k)
		if err != nil {
			return nil, err
		}
		if amount <= 0 {
			return nil, fmt.Errorf("price for %s must be positive, got %d", t, amount)
		}
		table[t] = amount
	}
	return table, nil
}

func (p PriceTable) Amount(t DocumentType) (int, error) {
	amount, ok := p[t]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDocumentType, t)
	}
	return amount, nil
}

// FormData is the captured form payload. Its shape belongs to the form and
// document layer; this service stores it verbatim next to its schema tag.
type FormData struct {
	SchemaVersion string          `json:"schemaVersion"`
	Payload       json.RawMessage `json:"payload"`
}
