// Package redisstore implements queue.Backend over github.com/redis/go-redis/v9.
// Sorted sets back the scheduled and processing sets, a per-tenant Redis
// List backs pending, a Hash backs job:{fingerprint}, and a Set backs
// ids:{tenant}:{queue}. Every multi-step transition is a Lua script
// (scripts.go) so concurrent workers never observe a half-applied state
// change.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"duraq/pkg/logger"
	"duraq/pkg/queue"
	"duraq/pkg/resilience"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyScheduled  = "scheduled"
	keyProcessing = "processing"
)

func jobKey(fp string) string       { return "job:" + fp }
func pendingKey(tenant string) string { return "pending:" + tenant }
func idsKey(tenant, queueName string) string {
	return "ids:" + tenant + ":" + queueName
}

// Store is the redis-backed queue.Backend implementation.
type Store struct {
	rdb     *redis.Client
	breaker *resilience.CircuitBreaker
}

// New wraps an existing go-redis client. The circuit breaker config
// mirrors resilience.DefaultCircuitBreakerConfig unless overridden.
func New(rdb *redis.Client, cb *resilience.CircuitBreaker) *Store {
	if cb == nil {
		cb = resilience.NewCircuitBreaker("redisstore", resilience.DefaultCircuitBreakerConfig())
	}
	return &Store{rdb: rdb, breaker: cb}
}

// guard runs fn through the circuit breaker and reclassifies any
// surviving error as queue.ErrTransientStore when it looks like a
// connectivity problem rather than a logic error from the script itself
// (a script's redis.error_reply is returned verbatim and must not be
// treated as transient).
func (s *Store) guard(ctx context.Context, fn func() error) error {
	err := s.breaker.Execute(ctx, fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%w: circuit open: %v", queue.ErrTransientStore, err)
	}
	if isConnError(err) {
		return fmt.Errorf("%w: %v", queue.ErrTransientStore, err)
	}
	return err
}

// isConnError recognizes the connectivity failures go-redis surfaces
// that are worth retrying, as opposed to a script's own error_reply
// (handled separately by scriptErr before this is ever consulted).
func isConnError(err error) bool {
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr)
}

func scriptErr(err error, code string, sentinel error) error {
	if err == nil {
		return nil
	}
	if err.Error() == code {
		return sentinel
	}
	return err
}

// Enqueue implements queue.Backend.
func (s *Store) Enqueue(ctx context.Context, job *queue.Job) (queue.EnqueueResult, error) {
	now, err := s.Now(ctx)
	if err != nil {
		return queue.EnqueueResult{}, err
	}
	fp := job.Fingerprint()
	fields := encodeJobArgs(job)
	keys := []string{keyScheduled, keyProcessing, pendingKey(job.Tenant), idsKey(job.Tenant, job.Queue)}
	argv := append([]interface{}{
		now, job.RunAt, fp, job.ID, boolArg(job.Exclusive),
	}, fields...)

	var res []interface{}
	err = s.guard(ctx, func() error {
		v, err := enqueueScript.Run(ctx, s.rdb, keys, argv...).Result()
		if err != nil {
			return scriptErr(err, "QUEUE_LOCKED", queue.ErrQueueLocked)
		}
		var ok bool
		res, ok = v.([]interface{})
		if !ok {
			return fmt.Errorf("queue: unexpected enqueue script reply %T", v)
		}
		return nil
	})
	if err != nil {
		return queue.EnqueueResult{}, err
	}
	replaced := res[0].(int64) == 1
	deferred := res[1].(int64) == 1
	return queue.EnqueueResult{Replaced: replaced, DeferredReplace: deferred}, nil
}

// PromoteDue implements queue.Backend.
func (s *Store) PromoteDue(ctx context.Context, limit int) (int, error) {
	now, err := s.Now(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.guard(ctx, func() error {
		v, err := promoteDueScript.Run(ctx, s.rdb, []string{keyScheduled}, now, limit).Result()
		if err != nil {
			return err
		}
		n = v.(int64)
		return nil
	})
	return int(n), err
}

// Claim implements queue.Backend.
func (s *Store) Claim(ctx context.Context, tenant string, staleAfter int64) (*queue.ClaimResult, error) {
	now, err := s.Now(ctx)
	if err != nil {
		return nil, err
	}
	var reply interface{}
	err = s.guard(ctx, func() error {
		v, err := claimScript.Run(ctx, s.rdb, []string{pendingKey(tenant), keyProcessing}, now, staleAfter).Result()
		if err != nil {
			return err
		}
		reply = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	if b, ok := reply.(bool); ok && !b {
		return nil, nil
	}
	parts, ok := reply.([]interface{})
	if !ok || len(parts) != 2 {
		return nil, fmt.Errorf("queue: unexpected claim script reply %T", reply)
	}
	fp := parts[0].(string)
	count := parts[1].(int64)

	job, err := s.getJob(ctx, fp)
	if err != nil {
		return nil, err
	}
	job.Count = count
	return &queue.ClaimResult{Job: job, Token: queue.AckToken{Fingerprint: fp, Count: count}}, nil
}

// Acknowledge implements queue.Backend.
func (s *Store) Acknowledge(ctx context.Context, token queue.AckToken, policy queue.AckPolicy) (queue.AckDecision, error) {
	var reply interface{}
	err := s.guard(ctx, func() error {
		v, err := acknowledgeScript.Run(ctx, s.rdb, []string{keyProcessing},
			token.Fingerprint, strconv.FormatInt(token.Count, 10), boolArg(policy.DontReschedule),
		).Result()
		if err != nil {
			return scriptErr(err, "STALE_ACK", queue.ErrStaleAck)
		}
		reply = v
		return nil
	})
	if err != nil {
		return queue.AckDecision{}, err
	}
	parts := reply.([]interface{})
	kind := parts[0].(int64)
	if kind == 0 {
		return queue.AckDecision{Kind: queue.AckTerminated}, nil
	}
	last, _ := strconv.ParseInt(parts[3].(string), 10, 64)
	count, _ := strconv.ParseInt(parts[4].(string), 10, 64)
	maxTimes, _ := strconv.ParseInt(parts[5].(string), 10, 64)
	return queue.AckDecision{
		Kind: queue.AckNeedsReschedule,
		Schedule: &queue.ScheduleState{
			Type:         parts[1].(string),
			Meta:         parts[2].(string),
			LastFireTime: last,
			Count:        count,
			MaxTimes:     maxTimes,
		},
	}, nil
}

// CommitReschedule implements queue.Backend.
func (s *Store) CommitReschedule(ctx context.Context, token queue.AckToken, nextRunAt int64) error {
	return s.guard(ctx, func() error {
		_, err := commitRescheduleScript.Run(ctx, s.rdb, []string{keyScheduled},
			token.Fingerprint, nextRunAt,
		).Result()
		return err
	})
}

// Terminate implements queue.Backend.
func (s *Store) Terminate(ctx context.Context, token queue.AckToken) error {
	return s.guard(ctx, func() error {
		_, err := terminateScript.Run(ctx, s.rdb, nil,
			token.Fingerprint, strconv.FormatInt(token.Count, 10),
		).Result()
		return err
	})
}

// ScanStale implements queue.Backend.
func (s *Store) ScanStale(ctx context.Context, now int64) ([]string, error) {
	var fps []string
	err := s.guard(ctx, func() error {
		v, err := s.rdb.ZRangeByScore(ctx, keyProcessing, &redis.ZRangeBy{
			Min: "-inf", Max: strconv.FormatInt(now, 10),
		}).Result()
		if err != nil {
			return err
		}
		fps = v
		return nil
	})
	return fps, err
}

// ReportStale implements queue.Backend.
func (s *Store) ReportStale(ctx context.Context, fingerprint string, now int64) (queue.StaleOutcome, error) {
	var reply interface{}
	err := s.guard(ctx, func() error {
		v, err := reportStaleScript.Run(ctx, s.rdb, []string{keyProcessing, keyScheduled},
			fingerprint, now,
		).Result()
		if err != nil {
			return err
		}
		reply = v
		return nil
	})
	if err != nil {
		return queue.StaleOutcome{}, err
	}
	parts := reply.([]interface{})
	out := queue.StaleOutcome{
		AlreadyResolved: parts[0].(int64) == 1,
		Retried:         parts[1].(int64) == 1,
		Removed:         parts[2].(int64) == 1,
		NextRetryAt:     parts[3].(int64),
		Tenant:          parts[4].(string),
		Queue:           parts[5].(string),
		ID:              parts[6].(string),
	}
	if out.Retried {
		logger.Debug("job reclaimed as stale, retry scheduled",
			zap.String("fingerprint", fingerprint), zap.Int64("nextRetryAt", out.NextRetryAt))
	} else if out.Removed {
		logger.Debug("job reclaimed as stale, retries exhausted",
			zap.String("fingerprint", fingerprint))
	}
	return out, nil
}

// FindByID implements queue.Backend.
func (s *Store) FindByID(ctx context.Context, tenant, queueName, id string) (*queue.Job, error) {
	fp := queue.Fingerprint(tenant, queueName, id)
	return s.getJob(ctx, fp)
}

func (s *Store) getJob(ctx context.Context, fp string) (*queue.Job, error) {
	var fields map[string]string
	err := s.guard(ctx, func() error {
		v, err := s.rdb.HGetAll(ctx, jobKey(fp)).Result()
		if err != nil {
			return err
		}
		fields = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decodeJobArgs(fields)
}

// Delete implements queue.Backend.
func (s *Store) Delete(ctx context.Context, tenant, queueName, id string) (bool, error) {
	fp := queue.Fingerprint(tenant, queueName, id)
	var n int64
	err := s.guard(ctx, func() error {
		v, err := deleteScript.Run(ctx, s.rdb, []string{keyScheduled, keyProcessing},
			fp, tenant, queueName, id,
		).Result()
		if err != nil {
			return err
		}
		n = v.(int64)
		return nil
	})
	return n == 1, err
}

// Invoke implements queue.Backend.
func (s *Store) Invoke(ctx context.Context, tenant, queueName, id string) (bool, error) {
	fp := queue.Fingerprint(tenant, queueName, id)
	var n int64
	err := s.guard(ctx, func() error {
		v, err := invokeScript.Run(ctx, s.rdb, []string{keyScheduled, keyProcessing, pendingKey(tenant)},
			fp,
		).Result()
		if err != nil {
			return err
		}
		n = v.(int64)
		return nil
	})
	return n == 1, err
}

// Now implements queue.Backend, using Redis's own TIME command as the
// queue's single authoritative clock so claim deadlines and retry
// scheduling are consistent across every worker regardless of local
// clock skew.
func (s *Store) Now(ctx context.Context) (int64, error) {
	var now time.Time
	err := s.guard(ctx, func() error {
		v, err := s.rdb.Time(ctx).Result()
		if err != nil {
			return err
		}
		now = v
		return nil
	})
	return now.UnixMilli(), err
}

func boolArg(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
