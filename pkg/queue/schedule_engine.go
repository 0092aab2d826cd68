package queue

import (
	"context"
	"fmt"

	"duraq/pkg/logger"
	"duraq/pkg/queue/schedulemap"

	"go.uber.org/zap"
)

// ScheduleEngine finishes the two-phase Acknowledge/reschedule handshake
// Acknowledge can't call an arbitrary Go
// function from inside the backend's atomic script, so it hands back an
// AckNeedsReschedule decision and the engine completes the transition
// with a second, separate atomic call.
type ScheduleEngine struct {
	backend Backend
	schedules *schedulemap.Map
}

// NewScheduleEngine builds a ScheduleEngine over backend, using m to
// compute next fire times. Pass nil for m to get schedulemap.New()'s
// defaults ("every", "cron").
func NewScheduleEngine(backend Backend, m *schedulemap.Map) *ScheduleEngine {
	if m == nil {
		m = schedulemap.New()
	}
	return &ScheduleEngine{backend: backend, schedules: m}
}

// Resolve completes an AckDecision returned by Backend.Acknowledge. For
// AckTerminated it's a no-op: the backend already deleted the record.
// For AckNeedsReschedule it computes the next fire time and either
// commits the reschedule or terminates the job if the schedule is
// exhausted or maxTimes was reached.
func (e *ScheduleEngine) Resolve(ctx context.Context, token AckToken, decision AckDecision) error {
	if decision.Kind != AckNeedsReschedule {
		return nil
	}
	sched := decision.Schedule
	if sched == nil {
		return fmt.Errorf("queue: AckNeedsReschedule decision missing Schedule")
	}
	if sched.MaxTimes > 0 && sched.Count >= sched.MaxTimes {
		logger.Debug("schedule exhausted, terminating job",
			zap.String("fingerprint", token.Fingerprint),
			zap.Int64("count", sched.Count),
			zap.Int64("maxTimes", sched.MaxTimes),
		)
		return e.backend.Terminate(ctx, token)
	}
	next, ok, err := e.schedules.Next(sched.Type, sched.LastFireTime, sched.Meta)
	if err != nil {
		return fmt.Errorf("queue: resolve schedule: %w", err)
	}
	if !ok {
		return e.backend.Terminate(ctx, token)
	}
	if err := e.backend.CommitReschedule(ctx, token, next); err != nil {
		return fmt.Errorf("queue: commit reschedule: %w", err)
	}
	return nil
}
