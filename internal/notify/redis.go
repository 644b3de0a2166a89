package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisPrefix = "dockqueue:"

// envelope is the wire format on Redis; it matches the websocket frame.
type envelope struct {
	Channel   string          `json:"channel"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher publishes events to Redis so that every server instance
// relays them to its own websocket clients.
type RedisPublisher struct {
	client redisPublisher
}

func NewRedisPublisher(client redisPublisher) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel, event string, payload any) error {
	env := envelope{Channel: channel, Event: event, Timestamp: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		env.Data = data
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := p.client.Publish(ctx, redisPrefix+channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// RedisRelay forwards every event published on Redis into a local publisher,
// typically the websocket hub.
type RedisRelay struct {
	client *redis.Client
	local  Publisher
}

func NewRedisRelay(client *redis.Client, local Publisher) *RedisRelay {
	return &RedisRelay{client: client, local: local}
}

// Run blocks until ctx is done. ready, when non-nil, is closed once the
// subscription is confirmed.
func (r *RedisRelay) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := r.client.PSubscribe(ctx, redisPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis psubscribe: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	log.Info().Str("pattern", redisPrefix+"*").Msg("📡 Redis relay subscribed")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			r.forward(ctx, msg)
		}
	}
}

func (r *RedisRelay) forward(ctx context.Context, msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		log.Warn().Err(err).Str("redis_channel", msg.Channel).Msg("⚠️ Dropping malformed relay message")
		return
	}
	if env.Channel == "" {
		env.Channel = strings.TrimPrefix(msg.Channel, redisPrefix)
	}

	var payload any
	if len(env.Data) > 0 {
		payload = env.Data
	}
	if err := r.local.Publish(ctx, env.Channel, env.Event, payload); err != nil {
		log.Warn().Err(err).Str("channel", env.Channel).Str("event", env.Event).Msg("⚠️ Relay publish failed")
	}
}
