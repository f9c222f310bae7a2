package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docpay-service/internal/db"
	"docpay-service/internal/model"
	"github.com/google/uuid"
)

// MemoryStore is an in-memory submission store with the same transition
// rules as the Postgres repository.
type MemoryStore struct {
	mu          sync.Mutex
	submissions map[uuid.UUID]*model.Submission
	byCheckout  map[string]uuid.UUID
	callbacks   []*db.CallbackLogEntity
	transitions map[uuid.UUID][]model.Status
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		submissions: map[uuid.UUID]*model.Submission{},
		byCheckout:  map[string]uuid.UUID{},
		transitions: map[uuid.UUID][]model.Status{},
	}
}

func (m *MemoryStore) Create(_ context.Context, s *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.submissions[s.ID]; ok {
		return db.ErrConflict
	}
	c := *s
	c.UpdatedAt = c.CreatedAt
	m.submissions[s.ID] = &c
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.submissions[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	c := *s
	return &c, nil
}

func (m *MemoryStore) GetByCheckoutReference(ctx context.Context, ref string) (*model.Submission, error) {
	m.mu.Lock()
	id, ok := m.byCheckout[ref]
	m.mu.Unlock()
	if !ok {
		return nil, db.ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *MemoryStore) SetCheckoutReference(_ context.Context, id uuid.UUID, checkoutRef, merchantRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.submissions[id]
	if !ok || s.CheckoutReference != nil {
		return db.ErrConflict
	}
	if _, taken := m.byCheckout[checkoutRef]; taken {
		return db.ErrConflict
	}
	s.CheckoutReference = &checkoutRef
	s.MerchantReference = &merchantRef
	m.byCheckout[checkoutRef] = id
	return nil
}

func (m *MemoryStore) UpdateByID(_ context.Context, id uuid.UUID, fn db.UpdateFunc) (*model.Submission, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(id, fn)
}

func (m *MemoryStore) UpdateByCheckoutReference(_ context.Context, ref string, fn db.UpdateFunc) (*model.Submission, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byCheckout[ref]
	if !ok {
		return nil, false, db.ErrNotFound
	}
	return m.update(id, fn)
}

func (m *MemoryStore) update(id uuid.UUID, fn db.UpdateFunc) (*model.Submission, bool, error) {
	s, ok := m.submissions[id]
	if !ok {
		return nil, false, db.ErrNotFound
	}
	current := *s

	change, err := fn(&current)
	if err != nil || change == nil {
		return &current, false, err
	}
	if !model.CanTransition(s.Status, change.To) {
		return &current, false, fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, s.Status, change.To)
	}

	s.Status = change.To
	if change.ReceiptID != "" {
		receipt := change.ReceiptID
		s.GatewayReceiptID = &receipt
	}
	if f := change.Failure; f != nil {
		s.FailureCategory, s.FailureReason, s.FailureDetail = f.Category, f.Reason, f.Detail
	}
	if change.PaidAmount != nil {
		s.PaidAmount = change.PaidAmount
	}
	if change.PaidAt != nil {
		s.PaidAt = change.PaidAt
	}
	s.UpdatedAt = time.Now()
	m.transitions[id] = append(m.transitions[id], change.To)

	updated := *s
	return &updated, true, nil
}

// SetStatus forces a status, bypassing transition rules.
func (m *MemoryStore) SetStatus(id uuid.UUID, status model.Status, category model.Category) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.submissions[id]; ok {
		s.Status = status
		s.FailureCategory = category
		s.UpdatedAt = time.Now()
	}
}

// Transitions lists the statuses a submission moved to, in order.
func (m *MemoryStore) Transitions(id uuid.UUID) []model.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Status(nil), m.transitions[id]...)
}

func (m *MemoryStore) All() []*model.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*model.Submission, 0, len(m.submissions))
	for _, s := range m.submissions {
		c := *s
		out = append(out, &c)
	}
	return out
}

func (m *MemoryStore) InsertCallbackLog(_ context.Context, e *db.CallbackLogEntity) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *e
	c.ID = int64(len(m.callbacks) + 1)
	c.ReceivedAt = time.Now()
	m.callbacks = append(m.callbacks, &c)
	return c.ID, nil
}

func (m *MemoryStore) ParkedCallbacks(_ context.Context, ref string) ([]*db.CallbackLogEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*db.CallbackLogEntity
	for _, c := range m.callbacks {
		if c.CheckoutReference == ref && c.Outcome == db.CallbackUnmatched {
			cc := *c
			out = append(out, &cc)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateCallbackOutcome(_ context.Context, id int64, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.callbacks {
		if c.ID == id {
			if c.Outcome == db.CallbackUnmatched {
				c.Outcome = outcome
			}
			return nil
		}
	}
	return db.ErrNotFound
}

func (m *MemoryStore) ParkedReferences(_ context.Context, since time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[string]bool{}
	var refs []string
	for _, c := range m.callbacks {
		if c.Outcome != db.CallbackUnmatched || c.ReceivedAt.Before(since) || seen[c.CheckoutReference] {
			continue
		}
		if len(refs) == limit {
			break
		}
		seen[c.CheckoutReference] = true
		refs = append(refs, c.CheckoutReference)
	}
	return refs, nil
}

// CallbackOutcomes lists the recorded outcome of every logged callback.
func (m *MemoryStore) CallbackOutcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.callbacks))
	for _, c := range m.callbacks {
		out = append(out, c.Outcome)
	}
	return out
}
