// Package coalesce runs at most one request per key at a time and lets every
// concurrent caller share its result. An optional cooldown keeps serving the
// last result, success or error, so a burst of callers arriving right after a
// request finished does not start another one.
package coalesce

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const defaultSize = 1024

type result[V any] struct {
	value V
	err   error
}

type Group[V any] struct {
	flight singleflight.Group
	recent *expirable.LRU[string, result[V]]
}

// New returns a Group remembering results for cooldown. A zero cooldown
// disables remembering: only in-flight requests are shared.
func New[V any](cooldown time.Duration) *Group[V] {
	g := &Group[V]{}
	if cooldown > 0 {
		g.recent = expirable.NewLRU[string, result[V]](defaultSize, nil, cooldown)
	}
	return g
}

// Do returns the result of fn for key. fn runs detached from the caller's
// cancellation because other callers may be waiting on it; a caller whose
// ctx ends gets ctx.Err() while fn keeps running for the rest.
func (g *Group[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, bool, error) {
	if g.recent != nil {
		if r, ok := g.recent.Get(key); ok {
			return r.value, true, r.err
		}
	}

	detached := context.WithoutCancel(ctx)
	ch := g.flight.DoChan(key, func() (any, error) {
		v, err := fn(detached)
		if g.recent != nil {
			g.recent.Add(key, result[V]{value: v, err: err})
		}
		return v, err
	})

	select {
	case r := <-ch:
		v, _ := r.Val.(V)
		return v, r.Shared, r.Err
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	}
}

// Forget drops the remembered result and detaches any in-flight request for
// key, so the next Do starts fresh.
func (g *Group[V]) Forget(key string) {
	g.flight.Forget(key)
	if g.recent != nil {
		g.recent.Remove(key)
	}
}
