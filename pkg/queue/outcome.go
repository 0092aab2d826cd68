package queue

import (
	"context"
	"time"
)

// OutcomeKind tags the result of one JobDistributor fetch attempt against
// a tenant slot.
type OutcomeKind int

const (
	// OutcomeSuccess means a job was claimed and handed to the Worker.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeEmpty means the tenant's pending list was empty.
	OutcomeEmpty
	// OutcomeWait means the backend reported a transient condition the
	// distributor should retry after a short delay (e.g. a retryable
	// store error surfaced through the circuit breaker).
	OutcomeWait
	// OutcomeRetry means the fetch failed with a persistent
	// (non-ErrTransientStore) error. The distributor treats it as fatal:
	// it reports the error, releases the slot and stops its loop, so
	// Jobs() closes and Err() returns the cause.
	OutcomeRetry
)

// Outcome is the tagged union JobDistributor's internal fetch loop
// produces for a single tenant-slot attempt.
type Outcome struct {
	Kind  OutcomeKind
	Job   *ClaimResult
	Err   error
	After time.Duration // wait/backoff hint, honored by Timer
}

// Timer is the distributor's injected sleep capability, so tests can
// supply a fake clock/timer instead of real wall time.
type Timer interface {
	// After returns a channel that fires once d has elapsed, or
	// immediately if the returned cancel func is called first.
	After(d time.Duration) (fire <-chan time.Time, cancel func())
}

// realTimer is the production Timer backed by time.NewTimer.
type realTimer struct{}

// NewRealTimer returns the wall-clock Timer implementation.
func NewRealTimer() Timer { return realTimer{} }

func (realTimer) After(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTimer(d)
	return t.C, func() { t.Stop() }
}

// TenantSource is a restartable iterator over the tenants a
// JobDistributor should fetch from, implementing the round-robin
// round-robin fairness contract. Implementations must be safe to
// call Next from a single goroutine only (the distributor's own loop).
type TenantSource interface {
	// Next returns the next tenant to try, cycling back to the start
	// once exhausted. Returns ok=false if the source currently has no
	// tenants at all.
	Next() (tenant string, ok bool)
	// Reset restarts the iterator at its first tenant, used when the
	// distributor completes a full round with no successful claims.
	Reset()
	// All returns every tenant the source currently cycles over, used
	// by the distributor to detect a full empty round and to fan out
	// wake-up listeners while backing off.
	All() []string
}

// staticTenantSource cycles through a fixed, ordered tenant list.
type staticTenantSource struct {
	tenants []string
	pos     int
}

// NewStaticTenantSource builds a TenantSource over a fixed tenant list,
// preserving the given order for round-robin fairness.
func NewStaticTenantSource(tenants []string) TenantSource {
	cp := make([]string, len(tenants))
	copy(cp, tenants)
	return &staticTenantSource{tenants: cp}
}

func (s *staticTenantSource) Next() (string, bool) {
	if len(s.tenants) == 0 {
		return "", false
	}
	t := s.tenants[s.pos]
	s.pos = (s.pos + 1) % len(s.tenants)
	return t, true
}

func (s *staticTenantSource) Reset() { s.pos = 0 }

func (s *staticTenantSource) All() []string {
	cp := make([]string, len(s.tenants))
	copy(cp, s.tenants)
	return cp
}

// ErrorSink receives fetch/processor errors the distributor or worker
// could not resolve on their own, e.g. to log, alert, or forward to an
// artifact store. Implementations must not block: the distributor calls
// Report synchronously between fetch attempts.
type ErrorSink interface {
	Report(ctx context.Context, err error)
}

// ErrorSinkFunc adapts a function to ErrorSink.
type ErrorSinkFunc func(ctx context.Context, err error)

func (f ErrorSinkFunc) Report(ctx context.Context, err error) { f(ctx, err) }

// NopErrorSink discards every error reported to it.
var NopErrorSink ErrorSink = ErrorSinkFunc(func(context.Context, error) {})
