package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"experiment-test-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// EventBus streams accepted session events over Redis Pub/Sub so monitors on
// any instance see every attempt of a config version.
// Channel: attempts:events:{version}, payload: JSON domain.SessionEvent.
type EventBus struct {
	client *redis.Client
	buffer int
	logger *slog.Logger
}

func NewEventBus(client *redis.Client, buffer int, logger *slog.Logger) *EventBus {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{client: client, buffer: buffer, logger: logger}
}

func (b *EventBus) Publish(ctx context.Context, ev domain.SessionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode session event: %w", err)
	}
	return b.client.Publish(ctx, channel(ev.ConfigVersion), payload).Err()
}

// Subscribe returns once the subscription is confirmed. The channel closes when
// cancel is called or ctx ends.
func (b *EventBus) Subscribe(ctx context.Context, version int) (<-chan domain.SessionEvent, func(), error) {
	sub := b.client.Subscribe(ctx, channel(version))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel(version), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan domain.SessionEvent, b.buffer)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev domain.SessionEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("drop malformed session event", "channel", msg.Channel, "err", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}

func channel(version int) string {
	return "attempts:events:" + strconv.Itoa(version)
}
