package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"duraq/pkg/logger"
	"duraq/pkg/metrics"

	"go.uber.org/zap"
)

// DistributorConfig configures a JobDistributor's fetch loop, per
// the queue's scheduling contract.
type DistributorConfig struct {
	// Tenants is the restartable round-robin iterator of tenants to
	// fetch from. Required.
	Tenants TenantSource
	// MaxJobs bounds the number of jobs this distributor will have
	// claimed-but-not-yet-released at once. Required, must be >= 1.
	MaxJobs int
	// StaleAfter is the claim deadline (ms) handed to Backend.Claim.
	StaleAfter int64
	// PollDelay is the base wait between empty-round or error backoffs.
	PollDelay time.Duration
	// Timer is the injected sleep capability. Defaults to a real timer.
	Timer Timer
	// Waker cancels a backoff wait early when a wake notification arrives
	// for one of the tenants. Optional: nil disables early-wake (pure
	// polling).
	Waker Waker
	// ErrorSink receives fetch errors the loop could not resolve on its
	// own. Optional: defaults to NopErrorSink.
	ErrorSink ErrorSink
}

// JobDistributor is the per-worker cooperative, single-threaded fetch
// loop: it round-robins tenants, claims one
// job at a time up to MaxJobs in flight, and backs off (with early wake)
// once a full round across all tenants comes back empty.
type JobDistributor struct {
	repo   *JobRepository
	cfg    DistributorConfig
	sem    chan struct{}
	jobsCh chan *ClaimResult

	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
	fatal   error
}

// NewJobDistributor builds a distributor over repo. cfg.Timer and
// cfg.ErrorSink are defaulted if left nil.
func NewJobDistributor(repo *JobRepository, cfg DistributorConfig) (*JobDistributor, error) {
	if cfg.MaxJobs < 1 {
		return nil, fmt.Errorf("queue: DistributorConfig.MaxJobs must be >= 1")
	}
	if cfg.Tenants == nil {
		return nil, fmt.Errorf("queue: DistributorConfig.Tenants is required")
	}
	if cfg.Timer == nil {
		cfg.Timer = NewRealTimer()
	}
	if cfg.ErrorSink == nil {
		cfg.ErrorSink = NopErrorSink
	}
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = 500 * time.Millisecond
	}
	return &JobDistributor{
		repo:   repo,
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.MaxJobs),
		jobsCh: make(chan *ClaimResult),
	}, nil
}

// Jobs returns the channel claimed jobs are delivered on. A Worker reads
// from this, processes the job, and calls Release once the slot is
// free — whether the job was acknowledged or not.
func (d *JobDistributor) Jobs() <-chan *ClaimResult { return d.jobsCh }

// Release frees one in-flight slot, allowing the fetch loop to claim
// another job even if this one hasn't been acknowledged yet (bounded
// fetch-ahead up to MaxJobs).
func (d *JobDistributor) Release() { <-d.sem }

// Start launches the fetch loop in a background goroutine. It runs
// until ctx is canceled.
func (d *JobDistributor) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(d.jobsCh)
		d.run(ctx)
	}()
}

// Stop blocks until the fetch loop has exited: either ctx passed to Start
// has been canceled, or the loop stopped on its own after a fatal fetch
// error (see Err). Otherwise it blocks forever.
func (d *JobDistributor) Stop() { d.wg.Wait() }

// Err returns the fatal error that caused the fetch loop to exit on its
// own, before ctx was canceled — a persistent (non-ErrTransientStore)
// error from Claim, per the "exception thrown from fetch propagates
// out of Start" contract. Safe to call once Jobs() has closed. Returns
// nil if the loop is still running or exited only because ctx was
// canceled.
func (d *JobDistributor) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fatal
}

func (d *JobDistributor) setFatal(err error) {
	d.mu.Lock()
	d.fatal = err
	d.mu.Unlock()
}

func (d *JobDistributor) run(ctx context.Context) {
	total := len(d.cfg.Tenants.All())
	consecutiveEmpty := 0

	for {
		select {
		case <-ctx.Done():
			return
		case d.sem <- struct{}{}:
		}

		claimed := false
		for !claimed {
			tenant, ok := d.cfg.Tenants.Next()
			if !ok {
				if !d.sleep(ctx, d.cfg.PollDelay) {
					<-d.sem
					return
				}
				continue
			}

			outcome := d.fetchOnce(ctx, tenant)
			metrics.DistributorOutcomes.WithLabelValues(tenant, outcomeLabel(outcome.Kind)).Inc()

			switch outcome.Kind {
			case OutcomeSuccess:
				consecutiveEmpty = 0
				select {
				case d.jobsCh <- outcome.Job:
					claimed = true
				case <-ctx.Done():
					<-d.sem
					return
				}

			case OutcomeEmpty:
				consecutiveEmpty++
				if total > 0 && consecutiveEmpty >= total {
					consecutiveEmpty = 0
					d.cfg.Tenants.Reset()
					if !d.backoff(ctx, d.cfg.PollDelay) {
						<-d.sem
						return
					}
				}

			case OutcomeWait:
				d.cfg.ErrorSink.Report(ctx, outcome.Err)
				wait := outcome.After
				if wait <= 0 {
					wait = d.cfg.PollDelay
				}
				if !d.backoff(ctx, wait) {
					<-d.sem
					return
				}

			case OutcomeRetry:
				// A persistent (non-transient) fetch error: per the
				// fetch error policy this is fatal, not retryable in a
				// loop. Report it, release the slot, and exit so Jobs()
				// closes and Err() surfaces the cause; the caller is
				// expected to restart the distributor.
				d.cfg.ErrorSink.Report(ctx, outcome.Err)
				d.setFatal(outcome.Err)
				<-d.sem
				return
			}
		}
	}
}

// fetchOnce first promotes due scheduled jobs into pending, then attempts
// a single claim for tenant and classifies the result into the Outcome
// sum type.
func (d *JobDistributor) fetchOnce(ctx context.Context, tenant string) Outcome {
	if _, err := d.repo.PromoteDue(ctx, 100); err != nil {
		if errors.Is(err, ErrTransientStore) {
			return Outcome{Kind: OutcomeWait, Err: err, After: d.cfg.PollDelay}
		}
		return Outcome{Kind: OutcomeRetry, Err: err}
	}
	res, err := d.repo.Claim(ctx, tenant, d.cfg.StaleAfter)
	if err != nil {
		if errors.Is(err, ErrTransientStore) {
			return Outcome{Kind: OutcomeWait, Err: err, After: d.cfg.PollDelay}
		}
		return Outcome{Kind: OutcomeRetry, Err: err}
	}
	if res == nil {
		return Outcome{Kind: OutcomeEmpty}
	}
	return Outcome{Kind: OutcomeSuccess, Job: res}
}

// sleep waits for wait (or ctx cancellation), returning false if ctx was
// canceled first.
func (d *JobDistributor) sleep(ctx context.Context, wait time.Duration) bool {
	fire, cancel := d.cfg.Timer.After(wait)
	defer cancel()
	select {
	case <-fire:
		return true
	case <-ctx.Done():
		return false
	}
}

// backoff waits for wait to elapse, or returns early if any tenant in
// cfg.Tenants receives a wake notification first. Returns false if ctx
// was canceled.
func (d *JobDistributor) backoff(ctx context.Context, wait time.Duration) bool {
	metrics.BackingOffGauge.Set(1)
	defer metrics.BackingOffGauge.Set(0)

	fire, cancelTimer := d.cfg.Timer.After(wait)
	defer cancelTimer()

	if d.cfg.Waker == nil {
		select {
		case <-fire:
			return true
		case <-ctx.Done():
			return false
		}
	}

	wakeCtx, cancelWake := context.WithCancel(ctx)
	defer cancelWake()
	wake, cancelers := d.listenAll(wakeCtx)
	defer func() {
		for _, c := range cancelers {
			c()
		}
	}()

	select {
	case <-fire:
		return true
	case <-wake:
		return true
	case <-ctx.Done():
		return false
	}
}

// listenAll fans in wake notifications across every tenant currently
// known to cfg.Tenants into a single channel.
func (d *JobDistributor) listenAll(ctx context.Context) (<-chan struct{}, []func()) {
	out := make(chan struct{}, 1)
	var cancelers []func()
	for _, tenant := range d.cfg.Tenants.All() {
		ch, cancel, err := d.cfg.Waker.Listen(ctx, tenant)
		if err != nil {
			logger.Debug("distributor: wake listen failed", zap.String("tenant", tenant), zap.Error(err))
			continue
		}
		cancelers = append(cancelers, cancel)
		go func(ch <-chan struct{}) {
			for range ch {
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}(ch)
	}
	return out, cancelers
}

func outcomeLabel(k OutcomeKind) string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeWait:
		return "wait"
	case OutcomeRetry:
		return "retry"
	default:
		return "unknown"
	}
}
