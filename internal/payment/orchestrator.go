package payment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docpay-service/internal/db"
	"docpay-service/internal/gateway"
	"docpay-service/internal/logcontext"
	"docpay-service/internal/model"
	"docpay-service/internal/phone"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

var (
	requestsCreatedCounter = metrics.GetOrCreateCounter(`payment_requests_total{result="created"}`)
	requestsFailedCounter  = metrics.GetOrCreateCounter(`payment_requests_total{result="failed"}`)
	requestsInvalidCounter = metrics.GetOrCreateCounter(`payment_requests_total{result="invalid"}`)
)

type Store interface {
	Create(ctx context.Context, s *model.Submission) error
	SetCheckoutReference(ctx context.Context, id uuid.UUID, checkoutRef, merchantRef string) error
	UpdateByID(ctx context.Context, id uuid.UUID, fn db.UpdateFunc) (*model.Submission, bool, error)
}

type Charger interface {
	InitiateCharge(ctx context.Context, charge gateway.ChargeRequest) (*gateway.ChargeResponse, error)
}

// Replayer applies callbacks that arrived before their checkout reference
// was stored.
type Replayer interface {
	ReplayParked(ctx context.Context, checkoutRef string) error
}

type Input struct {
	DocumentType string
	PhoneNumber  string
	FormData     model.FormData
}

type Result struct {
	SubmissionID      uuid.UUID
	CheckoutReference string
	MerchantReference string
	Amount            int
	CustomerMessage   string
}

// Error is a payment request that failed after its submission was created.
// The submission is left in failed with the same category.
type Error struct {
	Category         model.Category
	Reason           string
	SubmissionID     uuid.UUID
	SupportReference string
	Err              error
}

func (e *Error) Error() string {
	return fmt.Sprintf("payment request %s failed: %s (%s)", e.SubmissionID, e.Category, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Orchestrator struct {
	store    Store
	charger  Charger
	replayer Replayer
	prices   model.PriceTable
	timeout  time.Duration
	logger   *slog.Logger
}

func NewOrchestrator(store Store, charger Charger, replayer Replayer, prices model.PriceTable, timeout time.Duration, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		charger:  charger,
		replayer: replayer,
		prices:   prices,
		timeout:  timeout,
		logger:   logger,
	}
}

// RequestPayment creates a submission and initiates exactly one charge for
// it. Every call creates a new submission, so retries never share a
// checkout reference.
func (o *Orchestrator) RequestPayment(ctx context.Context, in Input) (*Result, error) {
	docType, err := model.ParseDocumentType(in.DocumentType)
	if err != nil {
		requestsInvalidCounter.Inc()
		return nil, err
	}

	amount, err := o.prices.Amount(docType)
	if err != nil {
		requestsInvalidCounter.Inc()
		return nil, err
	}

	submission := &model.Submission{
		ID:           uuid.New(),
		DocumentType: docType,
		FormData:     in.FormData,
		Amount:       amount,
		PhoneNumber:  phone.Normalize(in.PhoneNumber),
		Status:       model.StatusPendingPayment,
		CreatedAt:    time.Now(),
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("submissionId", submission.ID.String()))

	if err := o.store.Create(ctx, submission); err != nil {
		o.logger.ErrorContext(ctx, "Error creating submission", "error", err)
		requestsFailedCounter.Inc()
		return nil, err
	}
	o.logger.InfoContext(ctx, "Created submission", "documentType", docType, "amount", amount)

	chargeCtx, cancel := context.WithTimeout(ctx, o.timeout)
	resp, err := o.charger.InitiateCharge(chargeCtx, gateway.ChargeRequest{
		PhoneNumber:      submission.PhoneNumber,
		Amount:           amount,
		AccountReference: accountReference(submission.ID),
		Description:      string(docType),
	})
	cancel()

	if err != nil {
		o.logger.ErrorContext(ctx, "Error initiating charge", "error", err)
		return nil, o.fail(ctx, submission, gateway.FailureOf(err), submission.ID.String(), err)
	}

	ctx = logcontext.AppendCtx(ctx, slog.String("checkoutReference", resp.CheckoutReference))

	if err := o.store.SetCheckoutReference(ctx, submission.ID, resp.CheckoutReference, resp.MerchantReference); err != nil {
		o.logger.ErrorContext(ctx, "Error storing checkout reference", "error", err)
		failure := model.Failure{Category: model.CategorySystemError, Reason: "checkout_reference_not_stored", Detail: err.Error()}
		return nil, o.fail(ctx, submission, failure, resp.CheckoutReference, err)
	}

	if o.replayer != nil {
		if err := o.replayer.ReplayParked(ctx, resp.CheckoutReference); err != nil {
			o.logger.ErrorContext(ctx, "Error replaying parked callbacks", "error", err)
		}
	}

	requestsCreatedCounter.Inc()
	o.logger.InfoContext(ctx, "Charge initiated")

	return &Result{
		SubmissionID:      submission.ID,
		CheckoutReference: resp.CheckoutReference,
		MerchantReference: resp.MerchantReference,
		Amount:            amount,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// fail moves the submission to failed. It runs even when the caller has
// gone away so that no submission is left pending without a charge.
func (o *Orchestrator) fail(ctx context.Context, s *model.Submission, failure model.Failure, supportRef string, cause error) error {
	requestsFailedCounter.Inc()

	_, _, err := o.store.UpdateByID(context.WithoutCancel(ctx), s.ID, func(current *model.Submission) (*db.Change, error) {
		if current.Status != model.StatusPendingPayment {
			return nil, nil
		}
		return &db.Change{To: model.StatusFailed, Failure: &failure}, nil
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "Error marking submission failed", "error", err)
	}

	return &Error{
		Category:         failure.Category,
		Reason:           failure.Reason,
		SubmissionID:     s.ID,
		SupportReference: supportRef,
		Err:              cause,
	}
}

func accountReference(id uuid.UUID) string {
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12])
}
