package queue

import (
	"context"
	"fmt"
	"time"

	"duraq/pkg/logger"
	"duraq/pkg/metrics"

	"go.uber.org/zap"
)

// JobTimedOut is the error-channel payload for a job reclaimed by a
// stale sweep: the only consumer-facing failure stream StaleChecker
// exposes, reported through ErrorSink for every non-AlreadyResolved
// reclaim.
type JobTimedOut struct {
	Tenant  string
	QueueID string
	JobID   string
	// TimestampForNextRetry is the job's next scheduled run time if it
	// was retried, or zero if its retries were exhausted and it was
	// removed instead.
	TimestampForNextRetry int64
}

func (e *JobTimedOut) Error() string {
	return fmt.Sprintf("Job Timed Out: tenant=%s queue=%s id=%s", e.Tenant, e.QueueID, e.JobID)
}

// StaleCheckerConfig configures a StaleChecker.
type StaleCheckerConfig struct {
	Repo *JobRepository
	// Interval drives an automatic periodic sweep. Zero or negative
	// means "manual": the caller is expected to call Check explicitly
	// (e.g. from an HTTP admin endpoint or a cron-triggered job).
	Interval time.Duration
	// Timer is the injected sleep capability. Defaults to a real timer.
	Timer Timer
	// Bus receives ActivityTimedOut events for every reclaim. Optional.
	Bus ActivityBus
	// ErrorSink receives a *JobTimedOut for every reclaim, plus
	// per-fingerprint reclaim errors and sweep errors. Optional.
	ErrorSink ErrorSink
}

// StaleChecker periodically scans the processing set for claims past
// their deadline and reclaims them: retried jobs go back to scheduled
// with a retry[count-1] backoff, exhausted jobs are deleted.
type StaleChecker struct {
	cfg    StaleCheckerConfig
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewStaleChecker builds a StaleChecker over cfg.
func NewStaleChecker(cfg StaleCheckerConfig) *StaleChecker {
	if cfg.Timer == nil {
		cfg.Timer = NewRealTimer()
	}
	if cfg.ErrorSink == nil {
		cfg.ErrorSink = NopErrorSink
	}
	return &StaleChecker{cfg: cfg, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// Check runs a single sweep: it lists every fingerprint past its
// processing deadline and reclaims each one. Reclaiming is idempotent
// (a fingerprint no longer in processing is left alone), so a fingerprint picked up
// here and acknowledged concurrently by its original claimer is simply
// a no-op (StaleOutcome.AlreadyResolved).
func (s *StaleChecker) Check(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.StaleCheckDuration.Observe(time.Since(start).Seconds()) }()

	now, err := s.cfg.Repo.Now(ctx)
	if err != nil {
		return 0, err
	}
	fps, err := s.cfg.Repo.ScanStale(ctx, now)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, fp := range fps {
		outcome, err := s.cfg.Repo.ReportStale(ctx, fp, now)
		if err != nil {
			logger.Error("stale reclaim failed", zap.String("fingerprint", fp), zap.Error(err))
			s.cfg.ErrorSink.Report(ctx, err)
			continue
		}
		if outcome.AlreadyResolved {
			continue
		}
		processed++
		switch {
		case outcome.Retried:
			metrics.StaleReclaimed.WithLabelValues("retried").Inc()
		case outcome.Removed:
			metrics.StaleReclaimed.WithLabelValues("removed").Inc()
		}
		publishActivity(ctx, s.cfg.Bus, ActivityEvent{
			Kind: ActivityTimedOut, Tenant: outcome.Tenant, Queue: outcome.Queue, ID: outcome.ID,
			Fingerprint: fp, Timestamp: now,
		})
		s.cfg.ErrorSink.Report(ctx, &JobTimedOut{
			Tenant: outcome.Tenant, QueueID: outcome.Queue, JobID: outcome.ID,
			TimestampForNextRetry: outcome.NextRetryAt,
		})
	}
	return processed, nil
}

// Start launches the automatic periodic sweep in a background goroutine,
// if cfg.Interval is positive. It is a no-op (manual mode) otherwise.
func (s *StaleChecker) Start(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		close(s.doneCh)
		return
	}
	go s.loop(ctx)
}

func (s *StaleChecker) loop(ctx context.Context) {
	defer close(s.doneCh)
	for {
		fire, cancel := s.cfg.Timer.After(s.cfg.Interval)
		select {
		case <-fire:
			cancel()
		case <-ctx.Done():
			cancel()
			return
		case <-s.stopCh:
			cancel()
			return
		}
		if _, err := s.Check(ctx); err != nil {
			logger.Error("stale check sweep failed", zap.Error(err))
			s.cfg.ErrorSink.Report(ctx, err)
		}
	}
}

// Stop signals the automatic sweep loop to exit and waits for it.
func (s *StaleChecker) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	<-s.doneCh
}
