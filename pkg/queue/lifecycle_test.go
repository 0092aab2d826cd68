package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duraq/pkg/queue"
	"duraq/pkg/queue/queuetest"
	"duraq/pkg/queue/schedulemap"
)

func newRepo() (*queuetest.MemStore, *queue.JobRepository) {
	store := queuetest.New()
	return store, queue.NewJobRepository(store)
}

// Invariant 1: a live fingerprint sits in exactly one of
// scheduled/pending/processing. Enqueuing ahead of now lands it in
// scheduled; claiming moves it to processing.
func TestInvariant_LiveFingerprintInExactlyOneSet(t *testing.T) {
	ctx := context.Background()
	store, repo := newRepo()

	_, err := repo.Enqueue(ctx, &queue.Job{Tenant: "acme", Queue: "q", ID: "j1", RunAt: 1000})
	require.NoError(t, err)

	n, err := repo.PromoteDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "job scheduled in the future should not promote yet")

	store.SetNow(1000)
	n, err = repo.PromoteDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	claim, err := repo.Claim(ctx, "acme", 5000)
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.Equal(t, "j1", claim.Job.ID)
}

// Invariant 2: an acknowledged non-repeating job leaves no trace:
// job:{fp} is gone and its id is gone from the queue's id set.
func TestInvariant_AcknowledgeNonRepeatingRemovesJob(t *testing.T) {
	ctx := context.Background()
	_, repo := newRepo()

	_, err := repo.Enqueue(ctx, &queue.Job{Tenant: "acme", Queue: "q", ID: "j1"})
	require.NoError(t, err)

	claim, err := repo.Claim(ctx, "acme", 5000)
	require.NoError(t, err)
	require.NotNil(t, claim)

	decision, err := repo.Acknowledge(ctx, claim.Token, queue.AckPolicy{})
	require.NoError(t, err)
	assert.Equal(t, queue.AckTerminated, decision.Kind)

	_, err = repo.FindByID(ctx, "acme", "q", "j1")
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

// Invariant 3: claiming stamps a processing deadline of claim_time +
// staleAfter, observable via ScanStale at exactly that boundary.
func TestInvariant_ClaimDeadlineIsClaimTimePlusStaleAfter(t *testing.T) {
	ctx := context.Background()
	store, repo := newRepo()

	_, err := repo.Enqueue(ctx, &queue.Job{Tenant: "acme", Queue: "q", ID: "j1"})
	require.NoError(t, err)

	store.SetNow(500)
	claim, err := repo.Claim(ctx, "acme", 1000)
	require.NoError(t, err)
	require.NotNil(t, claim)

	fps, err := repo.ScanStale(ctx, 1499)
	require.NoError(t, err)
	assert.Empty(t, fps, "deadline is 1500, must not be stale at 1499")

	fps, err = repo.ScanStale(ctx, 1500)
	require.NoError(t, err)
	assert.Contains(t, fps, claim.Token.Fingerprint)
}

// Invariant 4: a reclaimed job with retries remaining reappears in
// scheduled with runAt = reclaim_time + retry[count-1].
func TestInvariant_ReclaimedJobUsesRetryDelayIndexedByCount(t *testing.T) {
	ctx := context.Background()
	store, repo := newRepo()

	_, err := repo.Enqueue(ctx, &queue.Job{
		Tenant: "acme", Queue: "q", ID: "j1",
		Retry: []time.Duration{100 * time.Millisecond, 5 * time.Second},
	})
	require.NoError(t, err)

	claim, err := repo.Claim(ctx, "acme", 1000)
	require.NoError(t, err)
	require.Equal(t, int64(1), claim.Token.Count)

	store.SetNow(2000)
	outcome, err := repo.ReportStale(ctx, claim.Token.Fingerprint, 2000)
	require.NoError(t, err)
	assert.True(t, outcome.Retried)
	assert.Equal(t, int64(2100), outcome.NextRetryAt) // retry[count-1] = retry[0] = 100ms

	job, err := repo.FindByID(ctx, "acme", "q", "j1")
	require.NoError(t, err)
	assert.Equal(t, int64(2100), job.RunAt)
}

// Invariant 5: acknowledge is idempotent — a second call against the
// same token produces at most one state transition (the second is
// rejected as stale, not a silent no-op that could double-fire side
// effects).
func TestInvariant_AcknowledgeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	_, repo := newRepo()

	_, err := repo.Enqueue(ctx, &queue.Job{Tenant: "acme", Queue: "q", ID: "j1"})
	require.NoError(t, err)

	claim, err := repo.Claim(ctx, "acme", 5000)
	require.NoError(t, err)

	_, err = repo.Acknowledge(ctx, claim.Token, queue.AckPolicy{})
	require.NoError(t, err)

	_, err = repo.Acknowledge(ctx, claim.Token, queue.AckPolicy{})
	assert.ErrorIs(t, err, queue.ErrStaleAck)
}

// Scenario 1: a stalling job (the processor never acks) is reported by
// a stale check once its deadline has passed, and not before.
func TestScenario_StallingJobEmitsTimeout(t *testing.T) {
	ctx := context.Background()
	store, repo := newRepo()

	_, err := repo.Enqueue(ctx, &queue.Job{Tenant: "", Queue: "stally-stall", ID: "stalling-job"})
	require.NoError(t, err)

	store.SetNow(0)
	_, err = repo.Claim(ctx, "", 1000)
	require.NoError(t, err)

	var reported []error
	checker := queue.NewStaleChecker(queue.StaleCheckerConfig{
		Repo:      repo,
		ErrorSink: queue.ErrorSinkFunc(func(_ context.Context, err error) { reported = append(reported, err) }),
	})
	n, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "no reclaim before the deadline")
	assert.Empty(t, reported)

	store.SetNow(1500)
	n, err = checker.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "reclaimed once the deadline has passed")

	require.Len(t, reported, 1)
	timedOut, ok := reported[0].(*queue.JobTimedOut)
	require.True(t, ok, "expected a *queue.JobTimedOut, got %T", reported[0])
	assert.Equal(t, "", timedOut.Tenant)
	assert.Equal(t, "stally-stall", timedOut.QueueID)
	assert.Equal(t, "stalling-job", timedOut.JobID)
	assert.Equal(t, "Job Timed Out: tenant= queue=stally-stall id=stalling-job", timedOut.Error())
}

// Scenario 3: a healthy job that acknowledges well within its deadline
// never shows up as stale across repeated checks.
func TestScenario_HealthyJobNeverTimesOut(t *testing.T) {
	ctx := context.Background()
	store, repo := newRepo()

	_, err := repo.Enqueue(ctx, &queue.Job{Tenant: "acme", Queue: "q", ID: "j1"})
	require.NoError(t, err)

	claim, err := repo.Claim(ctx, "acme", 1000)
	require.NoError(t, err)

	checker := queue.NewStaleChecker(queue.StaleCheckerConfig{Repo: repo})
	n, err := checker.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	store.SetNow(500)
	_, err = repo.Acknowledge(ctx, claim.Token, queue.AckPolicy{})
	require.NoError(t, err)

	store.SetNow(1500)
	n, err = checker.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "already acknowledged, nothing left to reclaim")
}

// Scenario 4: acknowledging a repeating job with DontReschedule
// terminates it outright instead of computing its next fire time.
func TestScenario_DontRescheduleTerminatesRepeatingJob(t *testing.T) {
	ctx := context.Background()
	store, repo := newRepo()
	engine := queue.NewScheduleEngine(store, schedulemap.New())
	ack := queue.NewAcknowledger(repo, engine, nil)

	_, err := repo.Enqueue(ctx, &queue.Job{
		Tenant: "acme", Queue: "q", ID: "j1",
		Schedule: &queue.Schedule{Type: "every", Meta: "1s"},
	})
	require.NoError(t, err)

	claim, err := repo.Claim(ctx, "acme", 5000)
	require.NoError(t, err)

	require.NoError(t, ack.Acknowledge(ctx, claim.Token, claim.Job, queue.AckOpts{DontReschedule: true}))

	_, err = repo.FindByID(ctx, "acme", "q", "j1")
	assert.ErrorIs(t, err, queue.ErrNotFound)
}

// A repeating job without DontReschedule instead resolves through
// ScheduleEngine and reappears in scheduled at its next fire time.
func TestScenario_RepeatingJobReschedulesViaScheduleEngine(t *testing.T) {
	ctx := context.Background()
	store, repo := newRepo()
	engine := queue.NewScheduleEngine(store, schedulemap.New())
	ack := queue.NewAcknowledger(repo, engine, nil)

	_, err := repo.Enqueue(ctx, &queue.Job{
		Tenant: "acme", Queue: "q", ID: "j1",
		Schedule: &queue.Schedule{Type: "every", Meta: "1s"},
	})
	require.NoError(t, err)

	claim, err := repo.Claim(ctx, "acme", 5000)
	require.NoError(t, err)

	require.NoError(t, ack.Acknowledge(ctx, claim.Token, claim.Job, queue.AckOpts{}))

	job, err := repo.FindByID(ctx, "acme", "q", "j1")
	require.NoError(t, err)
	assert.Greater(t, job.RunAt, int64(0))
}
