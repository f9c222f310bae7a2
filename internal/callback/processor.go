package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docpay-service/internal/config"
	"docpay-service/internal/db"
	"docpay-service/internal/logcontext"
	"docpay-service/internal/model"
	"docpay-service/internal/payload"
	"github.com/VictoriaMetrics/metrics"
	"github.com/shopspring/decimal"
)

type Outcome string

const (
	OutcomeApplied   Outcome = db.CallbackApplied
	OutcomeDuplicate Outcome = db.CallbackDuplicate
	OutcomeConflict  Outcome = db.CallbackConflict
	OutcomeUnmatched Outcome = db.CallbackUnmatched
	OutcomeIgnored   Outcome = db.CallbackIgnored
	OutcomeInvalid   Outcome = "invalid"
)

var (
	appliedCounter   = metrics.GetOrCreateCounter(`callbacks_total{result="applied"}`)
	duplicateCounter = metrics.GetOrCreateCounter(`callbacks_total{result="duplicate"}`)
	conflictCounter  = metrics.GetOrCreateCounter(`callbacks_total{result="conflict"}`)
	unmatchedCounter = metrics.GetOrCreateCounter(`callbacks_total{result="unmatched"}`)
	ignoredCounter   = metrics.GetOrCreateCounter(`callbacks_total{result="ignored"}`)
	invalidCounter   = metrics.GetOrCreateCounter(`callbacks_total{result="invalid"}`)
	errorCounter     = metrics.GetOrCreateCounter(`callbacks_total{result="error"}`)

	amountMismatchCounter = metrics.GetOrCreateCounter(`callbacks_amount_mismatch_total`)

	sweepErrorCounter = metrics.GetOrCreateCounter(`callbacks_replay_sweeps_total{result="error"}`)
	sweepDoneCounter  = metrics.GetOrCreateCounter(`callbacks_replay_sweeps_total{result="success"}`)
)

type Store interface {
	UpdateByCheckoutReference(ctx context.Context, ref string, fn db.UpdateFunc) (*model.Submission, bool, error)
	InsertCallbackLog(ctx context.Context, e *db.CallbackLogEntity) (int64, error)
	ParkedCallbacks(ctx context.Context, ref string) ([]*db.CallbackLogEntity, error)
	UpdateCallbackOutcome(ctx context.Context, id int64, outcome string) error
	ParkedReferences(ctx context.Context, since time.Time, limit int) ([]string, error)
}

// Processor applies gateway results to submissions. Only a submission in
// pending_payment is ever changed; anything else is classified and logged.
type Processor struct {
	store  Store
	logger *slog.Logger
}

func NewProcessor(store Store, logger *slog.Logger) *Processor {
	return &Processor{store: store, logger: logger}
}

// Receive decodes a raw webhook body and processes it. The body is kept
// verbatim in the callback log.
func (p *Processor) Receive(ctx context.Context, body []byte) (Outcome, error) {
	var envelope payload.STKCallbackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		p.logger.WarnContext(ctx, "Error decoding gateway callback", "error", err, "body", string(body))
		invalidCounter.Inc()
		return OutcomeInvalid, nil
	}
	return p.process(ctx, envelope, body)
}

func (p *Processor) Process(ctx context.Context, envelope payload.STKCallbackEnvelope) (Outcome, error) {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return OutcomeInvalid, err
	}
	return p.process(ctx, envelope, raw)
}

func (p *Processor) process(ctx context.Context, envelope payload.STKCallbackEnvelope, raw []byte) (Outcome, error) {
	cb := envelope.Body.STKCallback
	ctx = logcontext.AppendCtx(ctx,
		slog.String("checkoutReference", cb.CheckoutRequestID),
		slog.String("merchantReference", cb.MerchantRequestID))

	p.logger.InfoContext(ctx, "Received gateway callback", "resultCode", cb.ResultCode, "resultDesc", cb.ResultDesc)

	if cb.CheckoutRequestID == "" {
		p.logger.WarnContext(ctx, "Ignoring callback without checkout reference", "body", string(raw))
		p.record(ctx, cb, raw, OutcomeIgnored)
		return p.count(OutcomeIgnored), nil
	}

	result := toResult(cb)

	outcome, err := p.apply(ctx, result)
	if err != nil {
		// Parked so that the replay sweep applies it once the store recovers.
		p.logger.ErrorContext(ctx, "Error applying callback, parking it", "error", err)
		errorCounter.Inc()
		p.record(ctx, cb, raw, OutcomeUnmatched)
		return OutcomeUnmatched, err
	}

	id := p.record(ctx, cb, raw, outcome)

	// The reference may have been stored between the lookup and the insert
	// above; a replay that ran in that window could not see this row.
	if outcome == OutcomeUnmatched {
		retried, err := p.apply(ctx, result)
		if err == nil && retried != OutcomeUnmatched {
			outcome = retried
			if id > 0 {
				if err := p.store.UpdateCallbackOutcome(ctx, id, string(outcome)); err != nil {
					p.logger.ErrorContext(ctx, "Error updating callback outcome", "error", err)
				}
			}
		}
	}

	return p.count(outcome), nil
}

// ReplayParked applies callbacks that arrived before ref was stored.
func (p *Processor) ReplayParked(ctx context.Context, ref string) error {
	parked, err := p.store.ParkedCallbacks(ctx, ref)
	if err != nil {
		return err
	}

	for _, entry := range parked {
		var envelope payload.STKCallbackEnvelope
		if err := json.Unmarshal(entry.Payload, &envelope); err != nil {
			p.logger.ErrorContext(ctx, "Error decoding parked callback", "id", entry.ID, "error", err)
			continue
		}

		outcome, err := p.apply(ctx, toResult(envelope.Body.STKCallback))
		if err != nil {
			return err
		}
		if outcome == OutcomeUnmatched {
			continue
		}

		p.logger.InfoContext(ctx, "Replayed parked callback", "id", entry.ID, "outcome", outcome)
		p.count(outcome)
		if err := p.store.UpdateCallbackOutcome(ctx, entry.ID, string(outcome)); err != nil {
			return err
		}
	}
	return nil
}

// Sweep replays parked callbacks received since the given time.
func (p *Processor) Sweep(ctx context.Context, since time.Time, limit int) error {
	refs, err := p.store.ParkedReferences(ctx, since, limit)
	if err != nil {
		return err
	}

	var failed error
	for _, ref := range refs {
		if err := p.ReplayParked(ctx, ref); err != nil {
			p.logger.ErrorContext(ctx, "Error replaying parked callbacks", "checkoutReference", ref, "error", err)
			failed = err
		}
	}
	return failed
}

// RunReplayer sweeps parked callbacks on a fixed interval until ctx is done.
func (p *Processor) RunReplayer(ctx context.Context, cfg config.Callback) error {
	ticker := time.NewTicker(cfg.ReplayInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.Sweep(ctx, time.Now().Add(-cfg.ReplayWindow()), cfg.ReplayBatchSize); err != nil {
				sweepErrorCounter.Inc()
				continue
			}
			sweepDoneCounter.Inc()
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Context done, stopping callback replayer")
			return nil
		}
	}
}

func (p *Processor) apply(ctx context.Context, result model.PaymentResult) (Outcome, error) {
	var outcome Outcome

	_, _, err := p.store.UpdateByCheckoutReference(ctx, result.CheckoutReference, func(current *model.Submission) (*db.Change, error) {
		outcome = classify(current, result)

		switch outcome {
		case OutcomeApplied:
			if result.Success {
				p.checkAmount(ctx, current, result)
				return &db.Change{
					To:         model.StatusPaid,
					ReceiptID:  result.ReceiptID,
					PaidAmount: result.Amount,
					PaidAt:     result.PaidAt,
				}, nil
			}
			return &db.Change{To: model.StatusFailed, Failure: &model.Failure{
				Category: result.Category,
				Reason:   fmt.Sprintf("result_code_%d", result.ResultCode),
				Detail:   result.ResultDesc,
			}}, nil
		case OutcomeDuplicate:
			p.logger.InfoContext(ctx, "Duplicate callback, submission unchanged", "status", current.Status)
		case OutcomeConflict:
			p.logger.ErrorContext(ctx, "Callback conflicts with recorded outcome",
				"status", current.Status,
				"recordedReceipt", deref(current.GatewayReceiptID),
				"recordedCategory", current.FailureCategory,
				"callbackSuccess", result.Success,
				"callbackReceipt", result.ReceiptID,
				"callbackResultCode", result.ResultCode)
		}
		return nil, nil
	})

	if errors.Is(err, db.ErrNotFound) {
		p.logger.WarnContext(ctx, "No submission for callback, parking it")
		return OutcomeUnmatched, nil
	}
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

// classify decides what a callback means for the current submission.
func classify(current *model.Submission, result model.PaymentResult) Outcome {
	if current.Status == model.StatusPendingPayment {
		return OutcomeApplied
	}

	if result.Success {
		if current.Status.PaymentConfirmed() &&
			(result.ReceiptID == "" || result.ReceiptID == deref(current.GatewayReceiptID)) {
			return OutcomeDuplicate
		}
		return OutcomeConflict
	}

	if current.Status == model.StatusFailed {
		return OutcomeDuplicate
	}
	return OutcomeConflict
}

func (p *Processor) checkAmount(ctx context.Context, current *model.Submission, result model.PaymentResult) {
	if result.Amount == nil {
		return
	}
	expected := decimal.NewFromInt(int64(current.Amount))
	if !result.Amount.Equal(expected) {
		amountMismatchCounter.Inc()
		p.logger.WarnContext(ctx, "Paid amount differs from submission amount",
			"expected", expected.String(), "paid", result.Amount.String())
	}
}

func (p *Processor) record(ctx context.Context, cb payload.STKCallback, raw []byte, outcome Outcome) int64 {
	id, err := p.store.InsertCallbackLog(ctx, &db.CallbackLogEntity{
		CheckoutReference: cb.CheckoutRequestID,
		MerchantReference: cb.MerchantRequestID,
		ResultCode:        cb.ResultCode,
		Payload:           raw,
		Outcome:           string(outcome),
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "Error recording callback", "error", err, "outcome", outcome, "body", string(raw))
		return 0
	}
	return id
}

func (p *Processor) count(outcome Outcome) Outcome {
	switch outcome {
	case OutcomeApplied:
		appliedCounter.Inc()
	case OutcomeDuplicate:
		duplicateCounter.Inc()
	case OutcomeConflict:
		conflictCounter.Inc()
	case OutcomeUnmatched:
		unmatchedCounter.Inc()
	case OutcomeIgnored:
		ignoredCounter.Inc()
	}
	return outcome
}

func toResult(cb payload.STKCallback) model.PaymentResult {
	result := model.PaymentResult{
		CheckoutReference: cb.CheckoutRequestID,
		MerchantReference: cb.MerchantRequestID,
		Success:           cb.ResultCode == ResultSuccess,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
		Category:          Categorize(cb.ResultCode),
	}

	if result.Success {
		m := cb.Metadata()
		result.ReceiptID = m.ReceiptNumber
		result.Amount = m.Amount
		result.PhoneNumber = m.PhoneNumber
		result.PaidAt = m.TransactionDate
		if result.PaidAt == nil {
			now := time.Now()
			result.PaidAt = &now
		}
	}
	return result
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
