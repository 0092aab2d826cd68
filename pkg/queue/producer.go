package queue

import (
	"context"
	"fmt"
	"time"

	"duraq/pkg/logger"
	"duraq/pkg/metrics"

	"go.uber.org/zap"
)

// EnqueueOptions are the optional attributes a Producer can set on a job
// beyond identity and payload.
type EnqueueOptions struct {
	RunAt     time.Time // zero value means "now"
	Schedule  *Schedule
	Retry     []time.Duration
	MaxTimes  int64
	Exclusive bool
}

// Producer is the external enqueue surface.
type Producer struct {
	repo *JobRepository
	bus  ActivityBus // optional; nil disables activity emission
}

// NewProducer builds a Producer over repo. bus may be nil.
func NewProducer(repo *JobRepository, bus ActivityBus) *Producer {
	return &Producer{repo: repo, bus: bus}
}

// Enqueue creates or replaces the job at (tenant, queueName, id).
func (p *Producer) Enqueue(ctx context.Context, tenant, queueName, id string, payload []byte, opts EnqueueOptions) (EnqueueResult, error) {
	runAt := opts.RunAt
	if runAt.IsZero() {
		runAt = time.Now()
	}
	job := &Job{
		Tenant:    tenant,
		Queue:     queueName,
		ID:        id,
		Payload:   payload,
		RunAt:     runAt.UnixMilli(),
		Schedule:  opts.Schedule,
		Retry:     opts.Retry,
		MaxTimes:  opts.MaxTimes,
		Exclusive: opts.Exclusive,
	}
	res, err := p.repo.Enqueue(ctx, job)
	if err != nil {
		metrics.EnqueueFailures.WithLabelValues(tenant, queueName).Inc()
		return EnqueueResult{}, err
	}
	metrics.JobsEnqueued.WithLabelValues(tenant, queueName).Inc()
	logger.Debug("job enqueued",
		zap.String("tenant", tenant), zap.String("queue", queueName), zap.String("id", id),
		zap.Bool("replaced", res.Replaced), zap.Bool("deferred", res.DeferredReplace))
	publishActivity(ctx, p.bus, ActivityEvent{
		Kind: ActivityEnqueued, Tenant: tenant, Queue: queueName, ID: id,
		Fingerprint: job.Fingerprint(), Timestamp: runAt.UnixMilli(),
	})
	return res, nil
}

// FindByID reads a job's current record.
func (p *Producer) FindByID(ctx context.Context, tenant, queueName, id string) (*Job, error) {
	return p.repo.FindByID(ctx, tenant, queueName, id)
}

// Delete force-removes a job.
func (p *Producer) Delete(ctx context.Context, tenant, queueName, id string) (bool, error) {
	ok, err := p.repo.Delete(ctx, tenant, queueName, id)
	if err != nil {
		return false, err
	}
	if ok {
		metrics.JobsDeleted.WithLabelValues(tenant, queueName).Inc()
	}
	return ok, nil
}

// Invoke promotes a job to pending immediately, bypassing RunAt.
func (p *Producer) Invoke(ctx context.Context, tenant, queueName, id string) (bool, error) {
	ok, err := p.repo.Invoke(ctx, tenant, queueName, id)
	if err != nil {
		return false, fmt.Errorf("queue: invoke: %w", err)
	}
	return ok, nil
}

// Close is a no-op placeholder matching the Worker/Producer symmetry in
// a Producer holds no background goroutines of its own.
func (p *Producer) Close() error { return nil }
