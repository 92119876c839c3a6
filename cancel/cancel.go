// Package cancel implements the single hierarchical cancellation token
// bound to one workflow (spec.md §3, §5). A Root is created once per
// Start and shared (weak) by every nested operation; triggering it fires
// context cancellation for every LLM call and worker subtask in flight.
package cancel

import (
	"context"
	"sync"
)

// Root is a hierarchical cancellation token bound to one workflow run.
// The zero value is not usable; construct with New.
type Root struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu        sync.Mutex
	cancelled bool
	cause     error
}

// ErrCancelled is the cause recorded when Cancel is called without an
// explicit reason.
var ErrCancelled = context.Canceled

// New constructs a Root derived from parent. Cancelling parent also
// cancels the Root.
func New(parent context.Context) *Root {
	ctx, cancel := context.WithCancelCause(parent)
	return &Root{ctx: ctx, cancel: cancel}
}

// Context returns the context every nested operation should derive from
// (directly, or via context.WithTimeout/WithDeadline for per-call
// compounding as in the Planner's compounded timeout, spec.md §4.1).
func (r *Root) Context() context.Context {
	return r.ctx
}

// Cancel triggers the root with the given cause. Idempotent: only the
// first call's cause is recorded.
func (r *Root) Cancel(cause error) {
	if cause == nil {
		cause = ErrCancelled
	}
	r.mu.Lock()
	if !r.cancelled {
		r.cancelled = true
		r.cause = cause
	}
	r.mu.Unlock()
	r.cancel(cause)
}

// Cancelled reports whether Cancel has been called.
func (r *Root) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Cause returns the cause passed to Cancel, or nil if not yet cancelled.
func (r *Root) Cause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cause
}

// Done returns the root's done channel, closed once Cancel is called or
// the parent context ends.
func (r *Root) Done() <-chan struct{} {
	return r.ctx.Done()
}
