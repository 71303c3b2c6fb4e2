package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"qrattend/internal/log"
)

// DefaultChannel is the Redis pub/sub channel shared by every instance.
const DefaultChannel = "attendance:events"

// RedisRelay publishes events to a Redis channel and relays the channel into a local hub,
// so subscribers on any API instance see events raised on any other.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   *Hub
	logger  zerolog.Logger
}

// NewRedisRelay creates a relay. local may be nil for publish-only processes.
func NewRedisRelay(client *redis.Client, channel string, local *Hub) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{client: client, channel: channel, local: local, logger: log.WithComponent("events")}
}

// Publish sends ev to every instance.
func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Run relays channel messages into the local hub until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	if r.local == nil {
		return fmt.Errorf("relay has no local hub")
	}
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info().Str("channel", r.channel).Msg("event relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn().Err(err).Msg("discarding malformed event")
				continue
			}
			r.local.Deliver(ev)
		}
	}
}
