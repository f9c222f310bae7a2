package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"docpay-service/internal/gateway"
	"docpay-service/internal/model"
	"docpay-service/internal/payment"
	"docpay-service/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCharger struct {
	mu       sync.Mutex
	requests []gateway.ChargeRequest
	err      error
	block    time.Duration
}

func (f *fakeCharger) InitiateCharge(ctx context.Context, charge gateway.ChargeRequest) (*gateway.ChargeResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, charge)
	n := len(f.requests)
	f.mu.Unlock()

	if f.block > 0 {
		select {
		case <-time.After(f.block):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.ChargeResponse{
		CheckoutReference: fmt.Sprintf("ws_CO_%d", n),
		MerchantReference: fmt.Sprintf("m-%d", n),
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

type fakeReplayer struct {
	refs []string
}

func (f *fakeReplayer) ReplayParked(_ context.Context, ref string) error {
	f.refs = append(f.refs, ref)
	return nil
}

func newOrchestrator(store payment.Store, charger payment.Charger, replayer payment.Replayer) *payment.Orchestrator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return payment.NewOrchestrator(store, charger, replayer, model.DefaultPrices(), 100*time.Millisecond, logger)
}

func coverLetter(phone string) payment.Input {
	return payment.Input{
		DocumentType: "cover_letter",
		PhoneNumber:  phone,
		FormData:     model.FormData{SchemaVersion: "v1", Payload: json.RawMessage(`{"name":"Jane"}`)},
	}
}

func TestRequestPayment_HappyPath(t *testing.T) {
	store := testhelpers.NewMemoryStore()
	charger := &fakeCharger{}
	replayer := &fakeReplayer{}

	result, err := newOrchestrator(store, charger, replayer).RequestPayment(context.Background(), coverLetter("0712345678"))
	require.NoError(t, err)

	assert.Equal(t, 300, result.Amount)
	assert.Equal(t, "ws_CO_1", result.CheckoutReference)

	submission, err := store.GetByID(context.Background(), result.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingPayment, submission.Status)
	assert.Equal(t, 300, submission.Amount)
	assert.Equal(t, "254712345678", submission.PhoneNumber)
	assert.Equal(t, "ws_CO_1", *submission.CheckoutReference)
	assert.Nil(t, submission.GatewayReceiptID)

	require.Len(t, charger.requests, 1)
	assert.Equal(t, "254712345678", charger.requests[0].PhoneNumber)
	assert.Equal(t, 300, charger.requests[0].Amount)
	assert.Equal(t, []string{"ws_CO_1"}, replayer.refs)
}

func TestRequestPayment_UnknownDocumentType(t *testing.T) {
	store := testhelpers.NewMemoryStore()
	charger := &fakeCharger{}

	in := coverLetter("0712345678")
	in.DocumentType = "invoice"

	_, err := newOrchestrator(store, charger, nil).RequestPayment(context.Background(), in)
	assert.ErrorIs(t, err, model.ErrUnknownDocumentType)
	assert.Empty(t, store.All())
	assert.Empty(t, charger.requests)
}

func TestRequestPayment_GatewayFailures(t *testing.T) {
	tests := []struct {
		name     string
		charger  *fakeCharger
		category model.Category
		reason   string
	}{
		{
			name:     "Unreachable",
			charger:  &fakeCharger{err: fmt.Errorf("dial tcp: %w", gateway.ErrUnreachable)},
			category: model.CategoryTechnicalIssue,
			reason:   model.ReasonGatewayUnreachable,
		},
		{
			name:     "Timeout",
			charger:  &fakeCharger{block: time.Second},
			category: model.CategoryTechnicalIssue,
			reason:   model.ReasonGatewayUnreachable,
		},
		{
			name:     "Rejected",
			charger:  &fakeCharger{err: &gateway.RejectedError{HTTPStatus: 400, Code: "400.002.02", Message: "Invalid PhoneNumber"}},
			category: model.CategoryPaymentIssue,
			reason:   model.ReasonGatewayRejected,
		},
		{
			name:     "Auth",
			charger:  &fakeCharger{err: gateway.ErrAuth},
			category: model.CategorySystemError,
			reason:   model.ReasonGatewayAuth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testhelpers.NewMemoryStore()

			_, err := newOrchestrator(store, tt.charger, nil).RequestPayment(context.Background(), coverLetter("12345"))
			require.Error(t, err)

			var payErr *payment.Error
			require.True(t, errors.As(err, &payErr))
			assert.Equal(t, tt.category, payErr.Category)
			assert.Equal(t, tt.reason, payErr.Reason)
			assert.Equal(t, payErr.SubmissionID.String(), payErr.SupportReference)

			submission, err := store.GetByID(context.Background(), payErr.SubmissionID)
			require.NoError(t, err)
			assert.Equal(t, model.StatusFailed, submission.Status)
			assert.Equal(t, tt.category, submission.FailureCategory)
			assert.Equal(t, tt.reason, submission.FailureReason)
			assert.Equal(t, "12345", submission.PhoneNumber)
			assert.Len(t, tt.charger.requests, 1)
		})
	}
}

func TestRequestPayment_RetryCreatesNewSubmission(t *testing.T) {
	store := testhelpers.NewMemoryStore()

	failing := newOrchestrator(store, &fakeCharger{err: &gateway.RejectedError{HTTPStatus: 400}}, nil)
	_, err := failing.RequestPayment(context.Background(), coverLetter("0712345678"))
	var payErr *payment.Error
	require.True(t, errors.As(err, &payErr))

	old, err := store.GetByID(context.Background(), payErr.SubmissionID)
	require.NoError(t, err)

	working := newOrchestrator(store, &fakeCharger{}, nil)
	first, err := working.RequestPayment(context.Background(), coverLetter("0712345678"))
	require.NoError(t, err)
	second, err := working.RequestPayment(context.Background(), coverLetter("0712345678"))
	require.NoError(t, err)

	assert.NotEqual(t, payErr.SubmissionID, first.SubmissionID)
	assert.NotEqual(t, first.SubmissionID, second.SubmissionID)
	assert.NotEqual(t, first.CheckoutReference, second.CheckoutReference)
	assert.Len(t, store.All(), 3)

	unchanged, err := store.GetByID(context.Background(), payErr.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, old, unchanged)
}

func TestRequestPayment_PriceFixedAtSubmission(t *testing.T) {
	store := testhelpers.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	prices, err := model.NewPriceTable(map[string]int{"resume": 900})
	require.NoError(t, err)

	result, err := payment.NewOrchestrator(store, &fakeCharger{}, nil, prices, time.Second, logger).
		RequestPayment(context.Background(), payment.Input{DocumentType: "resume", PhoneNumber: "712345678"})
	require.NoError(t, err)
	assert.Equal(t, 900, result.Amount)

	submission, err := store.GetByID(context.Background(), result.SubmissionID)
	require.NoError(t, err)
	assert.Equal(t, "254712345678", submission.PhoneNumber)
	assert.Equal(t, 900, submission.Amount)
}
