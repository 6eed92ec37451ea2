package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel events are published on.
const DefaultRedisChannel = "gotalk:events"

// RedisSink republishes bus events on a Redis pub/sub channel as JSON.
type RedisSink struct {
	client  redis.Cmdable
	channel string
}

// NewRedisSink creates a sink. An empty channel selects DefaultRedisChannel.
func NewRedisSink(client redis.Cmdable, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{client: client, channel: channel}
}

// Channel returns the pub/sub channel name.
func (s *RedisSink) Channel() string { return s.channel }

// Publish sends one event.
func (s *RedisSink) Publish(ctx context.Context, ev Outbound) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("events: redis publish: %w", err)
	}
	return nil
}

// Run forwards bus events to Redis until ctx is cancelled. Publish failures
// are logged and the event is dropped.
func (s *RedisSink) Run(ctx context.Context, bus *Bus) {
	ch, cancel := bus.Subscribe(256)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := s.Publish(ctx, ev); err != nil {
				slog.Warn("event sink publish failed", "channel", s.channel, "err", err)
			}
		}
	}
}
