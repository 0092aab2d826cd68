package queue

import (
	"context"
	"fmt"
	"time"

	"duraq/pkg/logger"
	"duraq/pkg/metrics"

	"go.uber.org/zap"
)

// AckOpts are the options a processor can attach to a successful
// Acknowledge call.
type AckOpts struct {
	// DontReschedule forces a repeating job to terminate instead of
	// computing its next fire time.
	DontReschedule bool
}

// ProcessorFunc is the user-supplied work function a Worker invokes for
// each claimed job. Returning a non-nil error is a ProcessorException:
// the job is left unacknowledged in processing for StaleChecker to
// reclaim once its deadline passes, rather than being rescheduled
// immediately.
type ProcessorFunc func(ctx context.Context, job *Job) (AckOpts, error)

// FailureArtifactStore archives the payload and error detail of a
// ProcessorException for later inspection. Best-effort: a store error
// is logged, never propagated to the caller.
type FailureArtifactStore interface {
	Archive(ctx context.Context, job *Job, procErr error) error
}

// Acknowledger completes a claimed job's lifecycle: finalize via
// Backend.Acknowledge, then resolve any repeating-job reschedule through
// ScheduleEngine.
type Acknowledger struct {
	repo   *JobRepository
	engine *ScheduleEngine
	bus    ActivityBus
}

// NewAcknowledger builds an Acknowledger. bus may be nil.
func NewAcknowledger(repo *JobRepository, engine *ScheduleEngine, bus ActivityBus) *Acknowledger {
	return &Acknowledger{repo: repo, engine: engine, bus: bus}
}

// Acknowledge finalizes token for job, applying opts.
func (a *Acknowledger) Acknowledge(ctx context.Context, token AckToken, job *Job, opts AckOpts) error {
	decision, err := a.repo.Acknowledge(ctx, token, AckPolicy{DontReschedule: opts.DontReschedule})
	if err != nil {
		return err
	}
	if err := a.engine.Resolve(ctx, token, decision); err != nil {
		return fmt.Errorf("queue: resolve schedule for %s/%s/%s: %w", job.Tenant, job.Queue, job.ID, err)
	}
	outcome := "terminated"
	kind := ActivityAcknowledged
	if decision.Kind == AckNeedsReschedule {
		outcome = "rescheduled"
		kind = ActivityRescheduled
	}
	metrics.RecordAcknowledge(job.Tenant, job.Queue, outcome)
	publishActivity(ctx, a.bus, ActivityEvent{
		Kind: kind, Tenant: job.Tenant, Queue: job.Queue, ID: job.ID,
		Fingerprint: token.Fingerprint, Timestamp: time.Now().UnixMilli(),
	})
	return nil
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Distributor *JobDistributor
	Repo        *JobRepository
	Ack         *Acknowledger
	Processor   ProcessorFunc
	Artifacts   FailureArtifactStore // optional
	ErrorSink   ErrorSink            // optional
}

// Worker drains a JobDistributor's claimed jobs and runs Processor on
// each one, acknowledging success via Acknowledger. A processor error
// (ProcessorException) is logged, archived and reported only; the claim
// stays in processing until a StaleChecker sweep reclaims it.
type Worker struct {
	cfg WorkerConfig
}

// NewWorker builds a Worker over cfg. ErrorSink defaults to
// NopErrorSink if left nil.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.ErrorSink == nil {
		cfg.ErrorSink = NopErrorSink
	}
	return &Worker{cfg: cfg}
}

// Run drains the distributor's job channel until it closes (i.e. until
// the distributor's Start context is canceled or its fetch loop stops on
// a fatal error), processing each job in
// its own goroutine. Concurrency is bounded by the distributor's
// MaxJobs, not by Worker itself.
func (w *Worker) Run(ctx context.Context) {
	for cr := range w.cfg.Distributor.Jobs() {
		go w.handle(ctx, cr)
	}
}

func (w *Worker) handle(ctx context.Context, cr *ClaimResult) {
	defer w.cfg.Distributor.Release()

	job := cr.Job
	metrics.RecordClaim(job.Tenant, job.Queue)
	metrics.InFlightJobs.Inc()
	defer metrics.InFlightJobs.Dec()

	start := time.Now()
	opts, procErr := w.cfg.Processor(ctx, job)
	metrics.RecordJob(job.Tenant, job.Queue, time.Since(start).Seconds(), procErr)

	if procErr != nil {
		w.handleProcessorException(ctx, cr, procErr)
		return
	}
	if err := w.cfg.Ack.Acknowledge(ctx, cr.Token, job, opts); err != nil {
		logger.Error("acknowledge failed",
			zap.String("tenant", job.Tenant), zap.String("queue", job.Queue), zap.String("id", job.ID),
			zap.Error(err))
		w.cfg.ErrorSink.Report(ctx, fmt.Errorf("queue: acknowledge %s/%s/%s: %w", job.Tenant, job.Queue, job.ID, err))
	}
}

// handleProcessorException logs and archives a ProcessorFunc error and
// releases the worker slot. The claim itself is left untouched in
// processing: StaleChecker reclaims it once staleAfter elapses, giving
// the job its full at-least-once grace window rather than retrying or
// terminating it immediately.
func (w *Worker) handleProcessorException(ctx context.Context, cr *ClaimResult, procErr error) {
	job := cr.Job
	logger.Warn("processor exception",
		zap.String("tenant", job.Tenant), zap.String("queue", job.Queue), zap.String("id", job.ID),
		zap.Error(procErr))

	if w.cfg.Artifacts != nil {
		if err := w.cfg.Artifacts.Archive(ctx, job, procErr); err != nil {
			logger.Debug("failure artifact archive failed",
				zap.String("id", job.ID), zap.Error(err))
		}
	}

	w.cfg.ErrorSink.Report(ctx, fmt.Errorf("queue: processor exception for %s/%s/%s: %w", job.Tenant, job.Queue, job.ID, procErr))
}
