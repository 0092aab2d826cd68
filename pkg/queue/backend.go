package queue

import (
	"context"
	"errors"
)

// Sentinel errors returned by Backend implementations. Callers match
// against these with errors.Is; wrapped context (tenant/queue/id) is
// added with fmt.Errorf("...: %w", ...) by the caller, not here.
var (
	// ErrNotFound is returned when a job identity has no live record.
	ErrNotFound = errors.New("queue: job not found")

	// ErrQueueLocked is returned by Enqueue when an exclusive job with
	// the same identity is currently in processing.
	ErrQueueLocked = errors.New("queue: job is exclusive and currently processing")

	// ErrStaleAck is returned by Acknowledge when the token's count no
	// longer matches the job's current claim generation — the job was
	// already reclaimed as stale or re-acknowledged by another holder.
	ErrStaleAck = errors.New("queue: acknowledge token is stale")

	// ErrTransientStore wraps backend errors the caller should treat as
	// retryable (connection reset, timeout, backend unavailable).
	ErrTransientStore = errors.New("queue: transient backing store error")
)

// AckPolicy carries the options an Acknowledger can set on a successful
// acknowledge.
type AckPolicy struct {
	// DontReschedule forces a repeating job to terminate instead of
	// computing its next fire time, even though it still has a
	// Schedule attached.
	DontReschedule bool
}

// AckKind tags the outcome of Acknowledge.
type AckKind int

const (
	// AckTerminated means the job record was deleted: it had no
	// schedule, or the schedule was suppressed, or it already is final.
	AckTerminated AckKind = iota
	// AckNeedsReschedule means the job has an active Schedule and the
	// caller (ScheduleEngine) must compute the next fire time and
	// finish the transition via CommitReschedule or Terminate.
	AckNeedsReschedule
)

// ScheduleState is the schedule snapshot handed back to the caller when
// Acknowledge reports AckNeedsReschedule.
type ScheduleState struct {
	Type         string
	Meta         string
	LastFireTime int64
	Count        int64
	MaxTimes     int64
}

// AckDecision is the result of Acknowledge.
type AckDecision struct {
	Kind     AckKind
	Schedule *ScheduleState // set iff Kind == AckNeedsReschedule
}

// StaleOutcome is the result of ReportStale for a single fingerprint.
type StaleOutcome struct {
	// Retried is true if the job count had retries left and was
	// rescheduled into `scheduled` using retry[count-1].
	Retried bool
	// NextRetryAt is set when Retried is true.
	NextRetryAt int64
	// Removed is true if the job had no retries left and was deleted.
	Removed bool
	// AlreadyResolved is true if the fingerprint was no longer in
	// processing by the time ReportStale ran (idempotent no-op).
	AlreadyResolved bool
	// Tenant, Queue, and ID identify the reclaimed job. Left zero-valued
	// when AlreadyResolved.
	Tenant string
	Queue  string
	ID     string
}

// EnqueueResult reports what Enqueue actually did.
type EnqueueResult struct {
	// Replaced is true if a live job at the same identity was
	// overwritten in place.
	Replaced bool
	// DeferredReplace is true if the existing job was in processing:
	// the in-flight claim is left to
	// finish and the new attributes are written for the next cycle to
	// observe.
	DeferredReplace bool
}

// ClaimResult is a successfully claimed job plus the token required to
// acknowledge it.
type ClaimResult struct {
	Job   *Job
	Token AckToken
}

// Backend is the atomic job-transition surface a JobRepository is built
// on — the durable, scripted state machine backing every transition.
// Implementations must make every method here atomic with respect to
// concurrent callers; redisstore does this with Lua scripts, the
// in-memory test backend with a mutex.
type Backend interface {
	// Enqueue creates or replaces the job at (job.Tenant, job.Queue,
	// job.ID). Placement (scheduled vs pending) is decided from RunAt
	// versus the backend's own clock.
	Enqueue(ctx context.Context, job *Job) (EnqueueResult, error)

	// PromoteDue moves up to limit due jobs from scheduled into
	// pending. Returns the number promoted.
	PromoteDue(ctx context.Context, limit int) (int, error)

	// Claim pops the oldest pending job for tenant into processing,
	// stamping a deadline of now+staleAfter. Returns nil, nil if the
	// tenant's pending list is empty.
	Claim(ctx context.Context, tenant string, staleAfter int64) (*ClaimResult, error)

	// Acknowledge finalizes a claimed job. See AckDecision.
	Acknowledge(ctx context.Context, token AckToken, policy AckPolicy) (AckDecision, error)

	// CommitReschedule completes an AckNeedsReschedule decision by
	// writing nextRunAt and moving the job back to scheduled.
	CommitReschedule(ctx context.Context, token AckToken, nextRunAt int64) error

	// Terminate completes an AckNeedsReschedule decision (or any
	// pending claim) by deleting the job record outright.
	Terminate(ctx context.Context, token AckToken) error

	// ScanStale returns fingerprints in processing whose deadline has
	// passed as of now.
	ScanStale(ctx context.Context, now int64) ([]string, error)

	// ReportStale reclaims a single stale fingerprint. It is idempotent:
	// a fingerprint no longer in processing is a no-op reported as
	// StaleOutcome.AlreadyResolved.
	ReportStale(ctx context.Context, fingerprint string, now int64) (StaleOutcome, error)

	// FindByID reads the current job record without mutating state.
	FindByID(ctx context.Context, tenant, queueName, id string) (*Job, error)

	// Delete force-removes a job from whichever set holds it.
	// Returns false if no record existed.
	Delete(ctx context.Context, tenant, queueName, id string) (bool, error)

	// Invoke immediately promotes a scheduled (or already-pending) job
	// to pending, bypassing its RunAt. Returns false if the job was
	// not found or was already in processing.
	Invoke(ctx context.Context, tenant, queueName, id string) (bool, error)

	// Now returns the backend's authoritative clock (ms epoch).
	Now(ctx context.Context) (int64, error)
}
