// Package workpool bounds concurrent storage calls with a weighted semaphore.
package workpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool limits how many calls run at once. Callers beyond the limit block
// until a slot frees or their context ends.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// New creates a Pool that allows at most limit concurrent calls.
func New(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), size: limit}
}

// Size returns the concurrency limit.
func (p *Pool) Size() int {
	if p == nil {
		return 0
	}
	return p.size
}

// Run acquires a slot, runs fn, and releases the slot.
// Returns ctx.Err() if the context is cancelled while waiting.
// A nil pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// Call is Run for functions that produce a value.
func Call[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var out T
	err := p.Run(ctx, func() error {
		v, err := fn()
		out = v
		return err
	})
	return out, err
}
