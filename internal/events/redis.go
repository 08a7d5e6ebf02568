package events

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// ChannelPrefix namespaces per-user job event channels.
const ChannelPrefix = "jobengine:events:"

// Channel returns the Redis channel carrying a user's events.
func Channel(userID string) string {
	return ChannelPrefix + userID
}

type redisPublishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes events to per-user Redis channels so that API
// instances other than the one running a job can stream its transitions.
type RedisPublisher struct {
	client redisPublishClient
	logger zerolog.Logger
}

func NewRedisPublisher(client redisPublishClient, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger.With().Str("component", "events.redis").Logger()}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error().Err(err).Str("job_id", ev.JobID).Msg("marshal event")
		return
	}
	if err := p.client.Publish(ctx, Channel(ev.UserID), payload).Err(); err != nil {
		p.logger.Warn().Err(err).Str("job_id", ev.JobID).Msg("publish event")
	}
}

// RedisRelay feeds events published by other processes into a local Publisher,
// normally the Hub behind the WebSocket stream.
type RedisRelay struct {
	client *redis.Client
	sink   Publisher
	logger zerolog.Logger
}

func NewRedisRelay(client *redis.Client, sink Publisher, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{client: client, sink: sink, logger: logger.With().Str("component", "events.relay").Logger()}
}

// Run relays until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, ChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			ev, err := decodeMessage(msg.Channel, msg.Payload)
			if err != nil {
				r.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("drop malformed event")
				continue
			}
			r.sink.Publish(ctx, ev)
		}
	}
}

func decodeMessage(channel, payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, err
	}
	// The channel is authoritative for routing.
	if user := strings.TrimPrefix(channel, ChannelPrefix); user != channel && user != "" {
		ev.UserID = user
	}
	return ev, nil
}
