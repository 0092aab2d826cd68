package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"duraq/pkg/queue"

	"github.com/redis/go-redis/v9"
)

func encodeActivityEvent(ev queue.ActivityEvent) ([]byte, error) { return json.Marshal(ev) }

func decodeActivityEvent(payload string) (queue.ActivityEvent, error) {
	var ev queue.ActivityEvent
	err := json.Unmarshal([]byte(payload), &ev)
	return ev, err
}

func wakeChannel(tenant string) string { return "duraq:wake:" + tenant }

const activityChannel = "duraq:activity"

// Wake implements queue.Waker over Redis pub/sub.
type Wake struct {
	rdb *redis.Client
}

// NewWake builds a Waker sharing rdb with the Store.
func NewWake(rdb *redis.Client) *Wake { return &Wake{rdb: rdb} }

// Notify implements queue.Waker.
func (w *Wake) Notify(ctx context.Context, tenant string) error {
	return w.rdb.Publish(ctx, wakeChannel(tenant), "1").Err()
}

// Listen implements queue.Waker.
func (w *Wake) Listen(ctx context.Context, tenant string) (<-chan struct{}, func(), error) {
	sub := w.rdb.Subscribe(ctx, wakeChannel(tenant))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("queue: subscribe wake channel: %w", err)
	}
	out := make(chan struct{})
	raw := sub.Channel()
	go func() {
		defer close(out)
		for range raw {
			select {
			case out <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}

// Activity implements queue.ActivityBus over Redis pub/sub. Delivery is
// best-effort: the channel has no backlog, so a subscriber connecting
// late misses prior events.
type Activity struct {
	rdb *redis.Client
}

// NewActivity builds an ActivityBus sharing rdb with the Store.
func NewActivity(rdb *redis.Client) *Activity { return &Activity{rdb: rdb} }

// Publish implements queue.ActivityBus.
func (a *Activity) Publish(ctx context.Context, ev queue.ActivityEvent) error {
	payload, err := encodeActivityEvent(ev)
	if err != nil {
		return err
	}
	return a.rdb.Publish(ctx, activityChannel, payload).Err()
}

// Subscribe implements queue.ActivityBus.
func (a *Activity) Subscribe(ctx context.Context) (<-chan queue.ActivityEvent, func(), error) {
	sub := a.rdb.Subscribe(ctx, activityChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("queue: subscribe activity channel: %w", err)
	}
	out := make(chan queue.ActivityEvent)
	raw := sub.Channel()
	go func() {
		defer close(out)
		for msg := range raw {
			ev, err := decodeActivityEvent(msg.Payload)
			if err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }, nil
}
