package publisher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sjsage522/slothproxy/logger"
)

// EventField holds the base64 encoded JSON event in each stream entry
const EventField = "b64_event"

// RedisPublisher implements Publisher using a Redis stream
type RedisPublisher struct {
	client          *redis.Client
	stream          string
	streamMaxLength int64
	log             *logger.Logger
}

// NewRedisPublisher creates a new Redis publisher
func NewRedisPublisher(addr string, db int, stream string, streamMaxLength int64, log *logger.Logger) *RedisPublisher {
	if log == nil {
		log = logger.Nop()
	}
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	return &RedisPublisher{
		client:          client,
		stream:          stream,
		streamMaxLength: streamMaxLength,
		log:             log,
	}
}

// Ping checks that Redis is reachable
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Publish appends the event to the stream. The site key is kept as a plain
// field so consumers can filter without decoding.
func (p *RedisPublisher) Publish(ctx context.Context, event BuildEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"site":     event.SiteKey,
			"count":    strconv.Itoa(event.Count),
			"built_at": event.BuiltAt.UTC().Format(time.RFC3339),
			EventField: base64.StdEncoding.EncodeToString(data),
		},
	}
	if p.streamMaxLength > 0 {
		args.MaxLen = p.streamMaxLength
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		p.log.Error().Err(err).Str("stream", p.stream).Str("site", event.SiteKey).Msg("Failed to publish build event")
		return err
	}

	p.log.Debug().
		Str("stream", p.stream).
		Str("id", id).
		Str("site", event.SiteKey).
		Int("count", event.Count).
		Msg("Build event published")
	return nil
}

// TrimStreams trims the stream to the configured maximum length
func (p *RedisPublisher) TrimStreams(ctx context.Context) error {
	if p.streamMaxLength <= 0 {
		return nil
	}
	trimmed, err := p.client.XTrimMaxLen(ctx, p.stream, p.streamMaxLength).Result()
	if err != nil {
		return err
	}
	if trimmed > 0 {
		p.log.Debug().Str("stream", p.stream).Int64("trimmed", trimmed).Msg("Build event stream trimmed")
	}
	return nil
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
