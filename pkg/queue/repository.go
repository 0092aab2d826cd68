package queue

import (
	"context"
	"fmt"
)

// JobRepository is the typed façade over Backend: every
// caller in this package (Producer, JobDistributor, Worker,
// StaleChecker) depends on a JobRepository, never on a Backend
// directly, so the attribute validation and identity-hashing rules live
// in exactly one place.
type JobRepository struct {
	backend Backend
}

// NewJobRepository wraps backend with the typed job-queue operations.
func NewJobRepository(backend Backend) *JobRepository {
	return &JobRepository{backend: backend}
}

// Backend exposes the underlying storage capability, for callers (like
// ScheduleEngine and StaleChecker) that need the lower-level surface
// directly rather than going through every repository method.
func (r *JobRepository) Backend() Backend { return r.backend }

// Enqueue validates job and persists it, applying the enqueue
// contract: an empty ID or queue name is a caller programming error,
// not a recoverable condition. An empty Tenant is legal and denotes
// the default tenant.
func (r *JobRepository) Enqueue(ctx context.Context, job *Job) (EnqueueResult, error) {
	if err := validateJob(job); err != nil {
		return EnqueueResult{}, err
	}
	res, err := r.backend.Enqueue(ctx, job)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("queue: enqueue %s/%s/%s: %w", job.Tenant, job.Queue, job.ID, err)
	}
	return res, nil
}

// PromoteDue moves due scheduled jobs into their tenant's pending list.
func (r *JobRepository) PromoteDue(ctx context.Context, limit int) (int, error) {
	n, err := r.backend.PromoteDue(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("queue: promote due: %w", err)
	}
	return n, nil
}

// Claim pops the next pending job for tenant, or returns (nil, nil) if
// tenant currently has none.
func (r *JobRepository) Claim(ctx context.Context, tenant string, staleAfter int64) (*ClaimResult, error) {
	cr, err := r.backend.Claim(ctx, tenant, staleAfter)
	if err != nil {
		return nil, fmt.Errorf("queue: claim tenant=%s: %w", tenant, err)
	}
	return cr, nil
}

// Acknowledge finalizes a claim. Callers that need repeating-job
// rescheduling should use Acknowledger (worker.go), which wraps this
// with ScheduleEngine.Resolve.
func (r *JobRepository) Acknowledge(ctx context.Context, token AckToken, policy AckPolicy) (AckDecision, error) {
	d, err := r.backend.Acknowledge(ctx, token, policy)
	if err != nil {
		return AckDecision{}, fmt.Errorf("queue: acknowledge fp=%s: %w", token.Fingerprint, err)
	}
	return d, nil
}

// ReportStale reclaims a single stale fingerprint.
func (r *JobRepository) ReportStale(ctx context.Context, fingerprint string, now int64) (StaleOutcome, error) {
	o, err := r.backend.ReportStale(ctx, fingerprint, now)
	if err != nil {
		return StaleOutcome{}, fmt.Errorf("queue: report stale fp=%s: %w", fingerprint, err)
	}
	return o, nil
}

// ScanStale returns fingerprints past their processing deadline.
func (r *JobRepository) ScanStale(ctx context.Context, now int64) ([]string, error) {
	fps, err := r.backend.ScanStale(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("queue: scan stale: %w", err)
	}
	return fps, nil
}

// FindByID reads a job's current record without mutating state.
func (r *JobRepository) FindByID(ctx context.Context, tenant, queueName, id string) (*Job, error) {
	job, err := r.backend.FindByID(ctx, tenant, queueName, id)
	if err != nil {
		return nil, fmt.Errorf("queue: find %s/%s/%s: %w", tenant, queueName, id, err)
	}
	return job, nil
}

// Delete force-removes a job from whichever set holds it.
func (r *JobRepository) Delete(ctx context.Context, tenant, queueName, id string) (bool, error) {
	ok, err := r.backend.Delete(ctx, tenant, queueName, id)
	if err != nil {
		return false, fmt.Errorf("queue: delete %s/%s/%s: %w", tenant, queueName, id, err)
	}
	return ok, nil
}

// Invoke immediately promotes a job to pending, bypassing its RunAt.
func (r *JobRepository) Invoke(ctx context.Context, tenant, queueName, id string) (bool, error) {
	ok, err := r.backend.Invoke(ctx, tenant, queueName, id)
	if err != nil {
		return false, fmt.Errorf("queue: invoke %s/%s/%s: %w", tenant, queueName, id, err)
	}
	return ok, nil
}

// Now returns the backend's authoritative clock.
func (r *JobRepository) Now(ctx context.Context) (int64, error) {
	return r.backend.Now(ctx)
}

// validateJob applies the enqueue contract. Tenant may be empty: that
// denotes the default tenant, not a missing one.
func validateJob(job *Job) error {
	if job.Queue == "" {
		return fmt.Errorf("queue: job queue must not be empty")
	}
	if job.ID == "" {
		return fmt.Errorf("queue: job id must not be empty")
	}
	if job.Schedule != nil && job.Schedule.Type == "" {
		return fmt.Errorf("queue: job %s has a Schedule with no Type", job.ID)
	}
	return nil
}
