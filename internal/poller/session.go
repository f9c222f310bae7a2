package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docpay-service/internal/config"
	"docpay-service/internal/logcontext"
	"docpay-service/internal/model"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

// ErrSessionReplaced ends a session when a newer one starts for the same
// submission.
var ErrSessionReplaced = errors.New("poll session replaced")

var (
	sessionsCompletedCounter = metrics.GetOrCreateCounter(`poll_sessions_total{result="completed"}`)
	sessionsFailedCounter    = metrics.GetOrCreateCounter(`poll_sessions_total{result="failed"}`)
	sessionsTimeoutCounter   = metrics.GetOrCreateCounter(`poll_sessions_total{result="timeout"}`)
	sessionsCancelledCounter = metrics.GetOrCreateCounter(`poll_sessions_total{result="cancelled"}`)
	sessionsReplacedCounter  = metrics.GetOrCreateCounter(`poll_sessions_total{result="replaced"}`)

	queryErrorCounter = metrics.GetOrCreateCounter(`poll_queries_total{result="error"}`)
)

type Config struct {
	Interval      time.Duration
	MaxAttempts   int
	GraceAttempts int
	QueryTimeout  time.Duration
}

func ConfigFrom(cfg config.Poller) Config {
	return Config{
		Interval:      time.Duration(cfg.IntervalMs) * time.Millisecond,
		MaxAttempts:   cfg.MaxAttempts,
		GraceAttempts: cfg.ProcessingGraceAttempts,
		QueryTimeout:  time.Duration(cfg.QueryTimeoutMs) * time.Millisecond,
	}
}

func (c Config) graceAttempts() int {
	if c.GraceAttempts <= 0 {
		return c.MaxAttempts
	}
	return c.GraceAttempts
}

// Session polls one submission on a fixed interval until it reaches a
// terminal state, runs out of attempts or is cancelled. The first query
// happens one interval after the start.
type Session struct {
	submissionID uuid.UUID
	cfg          Config
	source       Source
	logger       *slog.Logger

	updates chan Snapshot
	cancel  context.CancelCauseFunc
	done    chan struct{}
	err     error

	start     time.Time
	lastState model.Status
	paidAt    int
}

func newSession(ctx context.Context, submissionID uuid.UUID, cfg Config, source Source, logger *slog.Logger) (*Session, context.Context) {
	ctx, cancel := context.WithCancelCause(ctx)
	s := &Session{
		submissionID: submissionID,
		cfg:          cfg,
		source:       source,
		logger:       logger,
		updates:      make(chan Snapshot, 1),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	return s, ctx
}

// Start runs a standalone session. Use Manager.Start to keep one session per
// submission.
func Start(ctx context.Context, submissionID uuid.UUID, cfg Config, source Source, logger *slog.Logger) *Session {
	s, ctx := newSession(ctx, submissionID, cfg, source, logger)
	go s.run(ctx, nil)
	return s
}

// Updates yields snapshots in order and is closed when the session ends.
func (s *Session) Updates() <-chan Snapshot {
	return s.updates
}

// Cancel stops future ticks. It never changes the submission.
func (s *Session) Cancel() {
	s.cancel(context.Canceled)
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the session ended: nil after a terminal snapshot,
// context.Canceled or ErrSessionReplaced otherwise. Valid after Done.
func (s *Session) Err() error {
	<-s.done
	return s.err
}

func (s *Session) SubmissionID() uuid.UUID {
	return s.submissionID
}

func (s *Session) run(ctx context.Context, release func()) {
	ctx = logcontext.AppendCtx(ctx,
		slog.String("submissionId", s.submissionID.String()),
		slog.String("sessionId", uuid.New().String()))

	defer close(s.done)
	defer close(s.updates)
	if release != nil {
		defer release()
	}

	s.start = time.Now()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.DebugContext(ctx, "Poll session started", "interval", s.cfg.Interval.String(), "maxAttempts", s.cfg.MaxAttempts)

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			s.stopped(ctx)
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			s.stopped(ctx)
			return
		}

		snapshot := s.tick(ctx, attempt)

		// A query that completes after cancellation is discarded.
		if ctx.Err() != nil {
			s.stopped(ctx)
			return
		}

		select {
		case s.updates <- snapshot:
		case <-ctx.Done():
			s.stopped(ctx)
			return
		}

		if snapshot.State.Terminal() {
			s.finished(ctx, snapshot)
			return
		}
	}
}

func (s *Session) tick(ctx context.Context, attempt int) Snapshot {
	queryCtx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	submission, err := s.source.GetSubmission(queryCtx, s.submissionID)
	cancel()

	snapshot := Snapshot{
		SubmissionID:     s.submissionID,
		Attempt:          attempt,
		MaxAttempts:      s.budget(),
		Elapsed:          time.Since(s.start),
		SupportReference: s.submissionID.String(),
	}

	switch {
	case errors.Is(err, ErrNotFound):
		snapshot.State = StateFailed
		snapshot.Category = model.CategorySystemError
		snapshot.Message = messageNotFound
		snapshot.Err = err
		return snapshot
	case err != nil:
		// A failed or timed out query still uses up the attempt.
		queryErrorCounter.Inc()
		s.logger.WarnContext(ctx, "Error querying submission status", "attempt", attempt, "error", err)
		snapshot.Status = s.lastState
		snapshot.Err = err
		return s.pending(snapshot)
	}

	snapshot.Status = submission.Status
	snapshot.SupportReference = submission.SupportReference()
	s.lastState = submission.Status

	switch submission.Status {
	case model.StatusEmailSent, model.StatusCompleted:
		snapshot.State = StateCompleted
		snapshot.Message = messageCompleted
	case model.StatusFailed:
		snapshot.State = StateFailed
		snapshot.Category = submission.FailureCategory
		if snapshot.Category == model.CategoryNone {
			snapshot.Category = model.CategorySystemError
		}
		snapshot.Message = snapshot.Category.Message()
	case model.StatusPaid, model.StatusPDFGenerated:
		if s.paidAt == 0 {
			s.paidAt = attempt
			snapshot.MaxAttempts = s.budget()
		}
		return s.pending(snapshot)
	default:
		return s.pending(snapshot)
	}
	return snapshot
}

// pending emits processing while the applicable budget lasts and a
// client-side timeout once it is spent. The submission itself is not
// touched. A timeout after payment was confirmed keeps telling the user the
// payment went through.
func (s *Session) pending(snapshot Snapshot) Snapshot {
	if snapshot.Attempt >= snapshot.MaxAttempts {
		snapshot.State = StateFailed
		snapshot.Category = model.CategoryTimeout
		snapshot.Message = model.CategoryTimeout.Message()
		if s.paidAt > 0 {
			snapshot.Message = messageSlowDoc
		}
		return snapshot
	}
	snapshot.State = StateProcessing
	snapshot.Message = processingMessage(snapshot.Status)
	return snapshot
}

// budget is the attempt number at which the session gives up: MaxAttempts
// while payment is pending, and GraceAttempts past the attempt that first
// saw the payment confirmed.
func (s *Session) budget() int {
	if s.paidAt > 0 {
		return s.paidAt + s.cfg.graceAttempts()
	}
	return s.cfg.MaxAttempts
}

func (s *Session) finished(ctx context.Context, snapshot Snapshot) {
	switch {
	case snapshot.State == StateCompleted:
		sessionsCompletedCounter.Inc()
	case snapshot.Category == model.CategoryTimeout:
		sessionsTimeoutCounter.Inc()
	default:
		sessionsFailedCounter.Inc()
	}
	s.logger.InfoContext(ctx, "Poll session finished",
		"state", snapshot.State, "category", snapshot.Category,
		"attempt", snapshot.Attempt, "elapsed", snapshot.Elapsed.String())
}

func (s *Session) stopped(ctx context.Context) {
	s.err = context.Cause(ctx)
	if errors.Is(s.err, ErrSessionReplaced) {
		sessionsReplacedCounter.Inc()
	} else {
		sessionsCancelledCounter.Inc()
	}
	s.logger.DebugContext(ctx, "Poll session stopped", "cause", s.err)
}
