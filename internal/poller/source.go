package poller

import (
	"context"
	"errors"
	"time"

	"docpay-service/internal/coalesce"
	"docpay-service/internal/db"
	"docpay-service/internal/model"
	"github.com/google/uuid"
)

// ErrNotFound is returned by a Source for an unknown submission.
var ErrNotFound = errors.New("submission not found")

// Source reads the authoritative submission. Every call is a fresh read.
type Source interface {
	GetSubmission(ctx context.Context, id uuid.UUID) (*model.Submission, error)
}

type SubmissionReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error)
}

// RepositorySource reads submissions from the store. Readers of the same
// submission that overlap share one query.
type RepositorySource struct {
	reader  SubmissionReader
	flight  *coalesce.Group[*model.Submission]
	timeout time.Duration
}

func NewRepositorySource(reader SubmissionReader, timeout time.Duration) *RepositorySource {
	return &RepositorySource{
		reader:  reader,
		flight:  coalesce.New[*model.Submission](0),
		timeout: timeout,
	}
}

func (r *RepositorySource) GetSubmission(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	s, _, err := r.flight.Do(ctx, id.String(), func(ctx context.Context) (*model.Submission, error) {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		return r.reader.GetByID(ctx, id)
	})
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c := *s
	return &c, nil
}
