package queue_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duraq/pkg/queue"
)

// Scenario 5: with maxJobs=3 and 4 jobs available, the distributor hands
// off exactly 3 before a 4th fetch is attempted; the 4th only proceeds
// once a prior claim is released.
func TestDistributor_MaxJobsCapsInFlightClaims(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, repo := newRepo()
	for i := 0; i < 4; i++ {
		_, err := repo.Enqueue(ctx, &queue.Job{Tenant: "acme", Queue: "q", ID: fmt.Sprintf("j%d", i)})
		require.NoError(t, err)
	}

	dist, err := queue.NewJobDistributor(repo, queue.DistributorConfig{
		Tenants:    queue.NewStaticTenantSource([]string{"acme"}),
		MaxJobs:    3,
		StaleAfter: 30_000,
		PollDelay:  20 * time.Millisecond,
	})
	require.NoError(t, err)
	dist.Start(ctx)
	defer func() { cancel(); dist.Stop() }()

	for i := 0; i < 3; i++ {
		select {
		case cr := <-dist.Jobs():
			require.NotNil(t, cr)
		case <-time.After(time.Second):
			t.Fatalf("expected claim %d within the cap, got none", i+1)
		}
	}

	select {
	case <-dist.Jobs():
		t.Fatal("4th claim must not be delivered before a slot is released")
	case <-time.After(100 * time.Millisecond):
	}

	dist.Release() // free one of the three held slots

	select {
	case cr := <-dist.Jobs():
		require.NotNil(t, cr)
	case <-time.After(time.Second):
		t.Fatal("4th claim should proceed once a slot frees up")
	}

	dist.Release()
	dist.Release()
	dist.Release()
}

// Scenario 6 (fairness): the round-robin TenantSource cycles through its
// tenants in a fixed order and restarts cleanly after Reset.
func TestStaticTenantSource_RoundRobinsAndRestarts(t *testing.T) {
	src := queue.NewStaticTenantSource([]string{"a", "b", "c"})

	var seen []string
	for i := 0; i < 7; i++ {
		tenant, ok := src.Next()
		require.True(t, ok)
		seen = append(seen, tenant)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c", "a"}, seen)

	src.Reset()
	tenant, ok := src.Next()
	require.True(t, ok)
	assert.Equal(t, "a", tenant, "Reset must restart at the first tenant")

	assert.Equal(t, []string{"a", "b", "c"}, src.All())
}

func TestStaticTenantSource_EmptyIsNotOK(t *testing.T) {
	src := queue.NewStaticTenantSource(nil)
	_, ok := src.Next()
	assert.False(t, ok)
	assert.Empty(t, src.All())
}

// claimFailsBackend wraps a Backend but always fails Claim with a
// persistent, non-transient error.
type claimFailsBackend struct {
	queue.Backend
	err error
}

func (b *claimFailsBackend) Claim(ctx context.Context, tenant string, staleAfter int64) (*queue.ClaimResult, error) {
	return nil, b.err
}

// A persistent fetch error is fatal: it propagates out of the fetch
// loop instead of busy-looping as an immediate retry.
func TestDistributor_PersistentFetchErrorIsFatal(t *testing.T) {
	store, _ := newRepo()
	wantErr := errors.New("decode failure")
	repo := queue.NewJobRepository(&claimFailsBackend{Backend: store, err: wantErr})

	var reported []error
	dist, err := queue.NewJobDistributor(repo, queue.DistributorConfig{
		Tenants:    queue.NewStaticTenantSource([]string{"acme"}),
		MaxJobs:    2,
		StaleAfter: 1000,
		PollDelay:  10 * time.Millisecond,
		ErrorSink:  queue.ErrorSinkFunc(func(_ context.Context, err error) { reported = append(reported, err) }),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dist.Start(ctx)

	select {
	case _, ok := <-dist.Jobs():
		assert.False(t, ok, "Jobs() must close once the fetch loop exits fatally")
	case <-time.After(time.Second):
		t.Fatal("expected the fetch loop to exit promptly on a persistent error")
	}

	dist.Stop()
	require.ErrorIs(t, dist.Err(), wantErr)
	require.NotEmpty(t, reported)
	assert.ErrorIs(t, reported[len(reported)-1], wantErr)
}
