package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"duraq/pkg/logger"

	"go.uber.org/zap"
)

// ActivityKind names a lifecycle event a job passed through.
type ActivityKind string

const (
	ActivityEnqueued     ActivityKind = "enqueued"
	ActivityClaimed      ActivityKind = "claimed"
	ActivityAcknowledged ActivityKind = "acknowledged"
	ActivityRescheduled  ActivityKind = "rescheduled"
	ActivityFailed       ActivityKind = "failed"
	ActivityTimedOut     ActivityKind = "timed_out"
)

// ActivityEvent is one lifecycle notification, published best-effort over
// the duraq:activity pub/sub channel.
type ActivityEvent struct {
	Kind        ActivityKind `json:"type"`
	Tenant      string       `json:"tenant"`
	Queue       string       `json:"queue"`
	ID          string       `json:"id"`
	Fingerprint string       `json:"fingerprint"`
	Timestamp   int64        `json:"ts"`
}

// ActivityBus is the pub/sub capability Activity rides on. Delivery is
// best-effort: a subscriber that is not connected when an event is
// published never sees it.
type ActivityBus interface {
	Publish(ctx context.Context, event ActivityEvent) error
	Subscribe(ctx context.Context) (events <-chan ActivityEvent, cancel func(), err error)
}

// Activity re-emits the bus's lifecycle events to a user callback,
// decoupling the wire format (JSON over pub/sub) from the caller.
type Activity struct {
	bus      ActivityBus
	cancel   func()
	done     chan struct{}
}

// Subscribe starts forwarding bus events to handler until the context is
// canceled or Close is called. handler is invoked synchronously from the
// Activity's own goroutine — it must not block.
func Subscribe(ctx context.Context, bus ActivityBus, handler func(ActivityEvent)) (*Activity, error) {
	events, cancel, err := bus.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: activity subscribe: %w", err)
	}
	a := &Activity{bus: bus, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(a.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				handler(ev)
			}
		}
	}()
	return a, nil
}

// Close stops the subscription and waits for the forwarding goroutine to
// exit.
func (a *Activity) Close() {
	a.cancel()
	<-a.done
}

// publishActivity is a best-effort helper shared by the components that
// emit lifecycle events: a publish failure is logged, never returned to
// the caller, since Activity is explicitly non-durable.
func publishActivity(ctx context.Context, bus ActivityBus, ev ActivityEvent) {
	if bus == nil {
		return
	}
	if err := bus.Publish(ctx, ev); err != nil {
		logger.Debug("activity publish failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("fingerprint", ev.Fingerprint),
			zap.Error(err),
		)
	}
}

// encodeActivity/decodeActivity are unexported JSON helpers for this
// package; redisstore uses its own encodeActivityEvent/decodeActivityEvent
// for Redis pub/sub payloads.
func encodeActivity(ev ActivityEvent) ([]byte, error) {
	return json.Marshal(ev)
}

func decodeActivity(b []byte) (ActivityEvent, error) {
	var ev ActivityEvent
	err := json.Unmarshal(b, &ev)
	return ev, err
}
