package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"docpay-service/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// scriptedSource answers the n-th query (1-based) with script(n).
type scriptedSource struct {
	mu     sync.Mutex
	calls  int
	script func(ctx context.Context, n int) (*model.Submission, error)
}

func (s *scriptedSource) GetSubmission(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	return s.script(ctx, n)
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func statuses(id uuid.UUID, seq ...model.Status) func(context.Context, int) (*model.Submission, error) {
	return func(_ context.Context, n int) (*model.Submission, error) {
		status := seq[len(seq)-1]
		if n <= len(seq) {
			status = seq[n-1]
		}
		return &model.Submission{ID: id, Status: status}, nil
	}
}

func testConfig(maxAttempts int) Config {
	return Config{
		Interval:      10 * time.Millisecond,
		MaxAttempts:   maxAttempts,
		GraceAttempts: 3,
		QueryTimeout:  20 * time.Millisecond,
	}
}

func collect(t *testing.T, s *Session) []Snapshot {
	t.Helper()

	var out []Snapshot
	timeout := time.After(5 * time.Second)
	for {
		select {
		case snapshot, ok := <-s.Updates():
			if !ok {
				return out
			}
			out = append(out, snapshot)
		case <-timeout:
			t.Fatal("session did not end")
			return out
		}
	}
}

func states(snapshots []Snapshot) []State {
	out := make([]State, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, s.State)
	}
	return out
}

func assertMonotonic(t *testing.T, snapshots []Snapshot) {
	t.Helper()
	for i, s := range snapshots {
		if s.State.Terminal() {
			assert.Equal(t, len(snapshots)-1, i, "terminal snapshot must be last")
		}
		assert.Equal(t, i+1, s.Attempt)
	}
}

func TestSession_HappyPath(t *testing.T) {
	id := uuid.New()
	source := &scriptedSource{script: statuses(id,
		model.StatusPendingPayment, model.StatusPendingPayment,
		model.StatusPaid, model.StatusPDFGenerated, model.StatusEmailSent)}

	snapshots := collect(t, Start(context.Background(), id, testConfig(10), source, discard))

	assert.Equal(t, []State{StateProcessing, StateProcessing, StateProcessing, StateProcessing, StateCompleted}, states(snapshots))
	assertMonotonic(t, snapshots)
	assert.Equal(t, messageWaiting, snapshots[0].Message)
	assert.Equal(t, messagePreparing, snapshots[2].Message)
	assert.Equal(t, messagePreparing, snapshots[3].Message)
	assert.Equal(t, model.StatusEmailSent, snapshots[4].Status)
	assert.Equal(t, 10, snapshots[0].MaxAttempts)
}

func TestSession_CompletedStatusIsTerminal(t *testing.T) {
	id := uuid.New()
	source := &scriptedSource{script: statuses(id, model.StatusCompleted)}

	s := Start(context.Background(), id, testConfig(10), source, discard)
	snapshots := collect(t, s)

	assert.Equal(t, []State{StateCompleted}, states(snapshots))
	assert.NoError(t, s.Err())
}

func TestSession_BoundedTimeout(t *testing.T) {
	id := uuid.New()
	cfg := testConfig(5)
	source := &scriptedSource{script: statuses(id, model.StatusPendingPayment)}

	s := Start(context.Background(), id, cfg, source, discard)
	snapshots := collect(t, s)

	require.Len(t, snapshots, 5)
	assertMonotonic(t, snapshots)
	for _, snapshot := range snapshots[:4] {
		assert.Equal(t, StateProcessing, snapshot.State)
		assert.Less(t, snapshot.Attempt, snapshot.MaxAttempts)
	}

	last := snapshots[4]
	assert.Equal(t, StateFailed, last.State)
	assert.Equal(t, model.CategoryTimeout, last.Category)
	assert.GreaterOrEqual(t, last.Elapsed, time.Duration(cfg.MaxAttempts)*cfg.Interval)
	assert.NoError(t, s.Err())

	time.Sleep(5 * cfg.Interval)
	assert.Equal(t, 5, source.Calls())
}

func TestSession_FailedSubmission(t *testing.T) {
	id := uuid.New()
	ref := "ws_CO_1"
	source := &scriptedSource{script: func(_ context.Context, n int) (*model.Submission, error) {
		if n < 3 {
			return &model.Submission{ID: id, Status: model.StatusPendingPayment, CheckoutReference: &ref}, nil
		}
		return &model.Submission{ID: id, Status: model.StatusFailed, FailureCategory: model.CategoryPaymentIssue, CheckoutReference: &ref}, nil
	}}

	snapshots := collect(t, Start(context.Background(), id, testConfig(10), source, discard))

	assert.Equal(t, []State{StateProcessing, StateProcessing, StateFailed}, states(snapshots))
	last := snapshots[2]
	assert.Equal(t, model.CategoryPaymentIssue, last.Category)
	assert.Equal(t, model.CategoryPaymentIssue.Message(), last.Message)
	assert.Equal(t, ref, last.SupportReference)
}

func TestSession_PaymentConfirmedNeverReportsPaymentIssue(t *testing.T) {
	id := uuid.New()
	cfg := testConfig(2)
	cfg.GraceAttempts = 3
	source := &scriptedSource{script: statuses(id, model.StatusPendingPayment, model.StatusPaid)}

	snapshots := collect(t, Start(context.Background(), id, cfg, source, discard))

	// Paid is first seen on the last pending attempt; the grace budget
	// takes over from there.
	require.Len(t, snapshots, 5)
	assertMonotonic(t, snapshots)
	assert.Equal(t, []State{StateProcessing, StateProcessing, StateProcessing, StateProcessing, StateFailed}, states(snapshots))
	assert.Equal(t, 5, snapshots[1].MaxAttempts)
	for _, snapshot := range snapshots {
		assert.NotEqual(t, model.CategoryPaymentIssue, snapshot.Category)
	}
	assert.Equal(t, model.CategoryTimeout, snapshots[4].Category)
	assert.Equal(t, messageSlowDoc, snapshots[4].Message)
	assert.NotEqual(t, model.CategoryTimeout.Message(), snapshots[4].Message)
	for _, snapshot := range snapshots[2:4] {
		assert.Equal(t, messagePreparing, snapshot.Message)
	}
}

func TestSession_GraceTimeoutAfterQueryErrorsKeepsPaidMessage(t *testing.T) {
	id := uuid.New()
	cfg := testConfig(2)
	cfg.GraceAttempts = 2
	source := &scriptedSource{script: func(_ context.Context, attempt int) (*model.Submission, error) {
		if attempt == 1 {
			return &model.Submission{ID: id, Status: model.StatusPaid}, nil
		}
		return nil, errors.New("connection reset")
	}}

	snapshots := collect(t, Start(context.Background(), id, cfg, source, discard))

	require.Len(t, snapshots, 3)
	last := snapshots[2]
	assert.Equal(t, StateFailed, last.State)
	assert.Equal(t, model.CategoryTimeout, last.Category)
	assert.Equal(t, model.StatusPaid, last.Status)
	assert.Equal(t, messageSlowDoc, last.Message)
}

func TestSession_NotFound(t *testing.T) {
	id := uuid.New()
	source := &scriptedSource{script: func(context.Context, int) (*model.Submission, error) {
		return nil, ErrNotFound
	}}

	snapshots := collect(t, Start(context.Background(), id, testConfig(10), source, discard))

	require.Len(t, snapshots, 1)
	assert.Equal(t, StateFailed, snapshots[0].State)
	assert.Equal(t, model.CategorySystemError, snapshots[0].Category)
	assert.ErrorIs(t, snapshots[0].Err, ErrNotFound)
	assert.Equal(t, id.String(), snapshots[0].SupportReference)
}

func TestSession_QueryTimeoutConsumesAttempt(t *testing.T) {
	id := uuid.New()
	cfg := testConfig(3)
	source := &scriptedSource{script: func(ctx context.Context, _ int) (*model.Submission, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	snapshots := collect(t, Start(context.Background(), id, cfg, source, discard))

	require.Len(t, snapshots, 3)
	assert.Equal(t, []State{StateProcessing, StateProcessing, StateFailed}, states(snapshots))
	for _, snapshot := range snapshots {
		assert.ErrorIs(t, snapshot.Err, context.DeadlineExceeded)
	}
	assert.Equal(t, model.CategoryTimeout, snapshots[2].Category)
	assert.Equal(t, 3, source.Calls())
}

func TestSession_TransientErrorKeepsLastStatus(t *testing.T) {
	id := uuid.New()
	source := &scriptedSource{script: func(_ context.Context, n int) (*model.Submission, error) {
		switch n {
		case 1:
			return &model.Submission{ID: id, Status: model.StatusPaid}, nil
		case 2:
			return nil, errors.New("connection reset")
		default:
			return &model.Submission{ID: id, Status: model.StatusCompleted}, nil
		}
	}}

	snapshots := collect(t, Start(context.Background(), id, testConfig(10), source, discard))

	require.Len(t, snapshots, 3)
	assert.Equal(t, model.StatusPaid, snapshots[1].Status)
	assert.Equal(t, messagePreparing, snapshots[1].Message)
	assert.Error(t, snapshots[1].Err)
	assert.Equal(t, StateCompleted, snapshots[2].State)
}

func TestSession_CancelStopsTicks(t *testing.T) {
	id := uuid.New()
	source := &scriptedSource{script: statuses(id, model.StatusPendingPayment)}

	s := Start(context.Background(), id, testConfig(100), source, discard)

	first := <-s.Updates()
	assert.Equal(t, StateProcessing, first.State)

	s.Cancel()
	<-s.Done()
	assert.ErrorIs(t, s.Err(), context.Canceled)

	calls := source.Calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, source.Calls())

	_, open := <-s.Updates()
	for open {
		_, open = <-s.Updates()
	}
}

func TestSession_ParentContextEndsSession(t *testing.T) {
	id := uuid.New()
	source := &scriptedSource{script: statuses(id, model.StatusPendingPayment)}

	ctx, cancel := context.WithCancel(context.Background())
	s := Start(ctx, id, testConfig(100), source, discard)
	cancel()

	collect(t, s)
	assert.ErrorIs(t, s.Err(), context.Canceled)
}

func TestSession_InFlightResultDiscardedAfterCancel(t *testing.T) {
	id := uuid.New()
	cfg := testConfig(10)
	cfg.QueryTimeout = time.Second

	started := make(chan struct{})
	release := make(chan struct{})
	source := &scriptedSource{script: func(context.Context, int) (*model.Submission, error) {
		close(started)
		<-release
		return &model.Submission{ID: id, Status: model.StatusCompleted}, nil
	}}

	s := Start(context.Background(), id, cfg, source, discard)

	<-started
	s.Cancel()
	close(release)

	snapshots := collect(t, s)
	assert.Empty(t, snapshots)
	assert.ErrorIs(t, s.Err(), context.Canceled)
}

func TestSession_RestartResumesFromCurrentStatus(t *testing.T) {
	id := uuid.New()
	source := &scriptedSource{script: statuses(id, model.StatusPaid, model.StatusEmailSent)}

	first := Start(context.Background(), id, testConfig(10), source, discard)
	first.Cancel()
	collect(t, first)

	resumed := &scriptedSource{script: statuses(id, model.StatusPDFGenerated, model.StatusEmailSent)}
	snapshots := collect(t, Start(context.Background(), id, testConfig(10), resumed, discard))

	require.Len(t, snapshots, 2)
	assert.Equal(t, model.StatusPDFGenerated, snapshots[0].Status)
	assert.Equal(t, messagePreparing, snapshots[0].Message)
	assert.Equal(t, StateCompleted, snapshots[1].State)
}
