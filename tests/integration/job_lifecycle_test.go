package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"duraq/pkg/queue"
	"duraq/pkg/queue/redisstore"
	"duraq/pkg/queue/schedulemap"
	"duraq/pkg/resilience"
)

// JobLifecycleSuite exercises the queue end to end against a live Redis:
// enqueue, claim, acknowledge, stale reclaim, and scheduled reschedule.
type JobLifecycleSuite struct {
	suite.Suite
	rdb      *redis.Client
	store    *redisstore.Store
	repo     *queue.JobRepository
	producer *queue.Producer
}

func (s *JobLifecycleSuite) SetupSuite() {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		s.T().Skip("Skipping integration tests (SKIP_INTEGRATION_TESTS=true)")
	}

	addr := fmt.Sprintf("%s:%s", getEnv("TEST_REDIS_HOST", "localhost"), getEnv("TEST_REDIS_PORT", "6379"))
	s.rdb = redis.NewClient(&redis.Options{Addr: addr, DB: 15})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		s.T().Skipf("Skipping integration tests: redis unavailable at %s: %v", addr, err)
	}

	breaker := resilience.NewCircuitBreaker("test-backend", resilience.DefaultCircuitBreakerConfig())
	s.store = redisstore.New(s.rdb, breaker)
	s.repo = queue.NewJobRepository(s.store)
	s.producer = queue.NewProducer(s.repo, nil)
}

func (s *JobLifecycleSuite) TearDownSuite() {
	if s.rdb != nil {
		_ = s.rdb.FlushDB(context.Background()).Err()
		_ = s.rdb.Close()
	}
}

func (s *JobLifecycleSuite) SetupTest() {
	require.NoError(s.T(), s.rdb.FlushDB(context.Background()).Err())
}

func (s *JobLifecycleSuite) TestEnqueueClaimAcknowledge() {
	ctx := context.Background()
	const tenant, queueName, id = "acme", "emails", "welcome-1"

	res, err := s.producer.Enqueue(ctx, tenant, queueName, id, []byte("payload"), queue.EnqueueOptions{})
	require.NoError(s.T(), err)
	assert.False(s.T(), res.Replaced)

	claim, err := s.repo.Claim(ctx, tenant, 30_000)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), claim)
	assert.Equal(s.T(), id, claim.Job.ID)
	assert.Equal(s.T(), int64(1), claim.Token.Count)

	engine := queue.NewScheduleEngine(s.store, schedulemap.New())
	ack := queue.NewAcknowledger(s.repo, engine, nil)
	require.NoError(s.T(), ack.Acknowledge(ctx, claim.Token, claim.Job, queue.AckOpts{}))

	_, err = s.producer.FindByID(ctx, tenant, queueName, id)
	assert.ErrorIs(s.T(), err, queue.ErrNotFound)
}

func (s *JobLifecycleSuite) TestClaimWithNoPendingJobsReturnsNil() {
	claim, err := s.repo.Claim(context.Background(), "no-such-tenant", 30_000)
	require.NoError(s.T(), err)
	assert.Nil(s.T(), claim)
}

func (s *JobLifecycleSuite) TestStaleClaimIsReclaimedWithRetry() {
	ctx := context.Background()
	const tenant, queueName, id = "acme", "emails", "flaky-job"

	_, err := s.producer.Enqueue(ctx, tenant, queueName, id, []byte("payload"), queue.EnqueueOptions{
		Retry: []time.Duration{time.Second},
	})
	require.NoError(s.T(), err)

	claim, err := s.repo.Claim(ctx, tenant, -1) // already past deadline
	require.NoError(s.T(), err)
	require.NotNil(s.T(), claim)

	now, err := s.repo.Now(ctx)
	require.NoError(s.T(), err)

	fps, err := s.repo.ScanStale(ctx, now)
	require.NoError(s.T(), err)
	require.Contains(s.T(), fps, claim.Token.Fingerprint)

	outcome, err := s.repo.ReportStale(ctx, claim.Token.Fingerprint, now)
	require.NoError(s.T(), err)
	assert.True(s.T(), outcome.Retried)
	assert.False(s.T(), outcome.Removed)
}

func (s *JobLifecycleSuite) TestExclusiveEnqueueLockedWhileProcessing() {
	ctx := context.Background()
	const tenant, queueName, id = "acme", "billing", "invoice-7"

	_, err := s.producer.Enqueue(ctx, tenant, queueName, id, []byte("v1"), queue.EnqueueOptions{Exclusive: true})
	require.NoError(s.T(), err)

	claim, err := s.repo.Claim(ctx, tenant, 30_000)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), claim)

	res, err := s.producer.Enqueue(ctx, tenant, queueName, id, []byte("v2"), queue.EnqueueOptions{Exclusive: true})
	assert.ErrorIs(s.T(), err, queue.ErrQueueLocked)
	assert.False(s.T(), res.DeferredReplace)
}

func (s *JobLifecycleSuite) TestFullPipelineViaDistributorAndWorker() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	const tenant, queueName = "acme", "webhooks"
	for i := 0; i < 3; i++ {
		_, err := s.producer.Enqueue(ctx, tenant, queueName, fmt.Sprintf("hook-%d", i), []byte("x"), queue.EnqueueOptions{})
		require.NoError(s.T(), err)
	}

	distributor, err := queue.NewJobDistributor(s.repo, queue.DistributorConfig{
		Tenants:    queue.NewStaticTenantSource([]string{tenant}),
		MaxJobs:    2,
		StaleAfter: 30_000,
		PollDelay:  20 * time.Millisecond,
	})
	require.NoError(s.T(), err)

	engine := queue.NewScheduleEngine(s.store, schedulemap.New())
	ack := queue.NewAcknowledger(s.repo, engine, nil)

	processed := make(chan string, 3)
	worker := queue.NewWorker(queue.WorkerConfig{
		Distributor: distributor,
		Repo:        s.repo,
		Ack:         ack,
		Processor: func(ctx context.Context, job *queue.Job) (queue.AckOpts, error) {
			processed <- job.ID
			return queue.AckOpts{}, nil
		},
	})

	distributor.Start(ctx)
	go worker.Run(ctx)

	seen := map[string]bool{}
	for len(seen) < 3 {
		select {
		case id := <-processed:
			seen[id] = true
		case <-ctx.Done():
			s.T().Fatalf("timed out waiting for jobs to process, got %d/3", len(seen))
		}
	}

	cancel()
	distributor.Stop()
}

func (s *JobLifecycleSuite) TestStaleCheckerReclaimsTimedOutProcessing() {
	ctx := context.Background()
	const tenant, queueName, id = "acme", "reports", "nightly"

	_, err := s.producer.Enqueue(ctx, tenant, queueName, id, []byte("payload"), queue.EnqueueOptions{})
	require.NoError(s.T(), err)

	_, err = s.repo.Claim(ctx, tenant, -1)
	require.NoError(s.T(), err)

	checker := queue.NewStaleChecker(queue.StaleCheckerConfig{Repo: s.repo})
	n, err := checker.Check(ctx)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, n)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestJobLifecycleSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(JobLifecycleSuite))
}
