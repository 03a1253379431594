package performer

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rojolang/rintento-go/pkg/intent"
)

// DefaultChannel is the pub/sub channel the automation engine listens on
const DefaultChannel = "rintento:utterances"

// RedisPerformer publishes each recognition as a JSON Event
type RedisPerformer struct {
	client  *redis.Client
	channel string
}

func NewRedisPerformer(addr, channel string) *RedisPerformer {
	return NewRedisPerformerFromClient(redis.NewClient(&redis.Options{Addr: addr}), channel)
}

func NewRedisPerformerFromClient(client *redis.Client, channel string) *RedisPerformer {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPerformer{client: client, channel: channel}
}

func (p *RedisPerformer) Channel() string {
	return p.channel
}

// Ping checks the connection to the server
func (p *RedisPerformer) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return intent.NewNetworkError("redis ping", err)
	}
	return nil
}

func (p *RedisPerformer) Perform(ctx context.Context, utterances intent.Utterances) error {
	payload, err := json.Marshal(NewEvent(ctx, utterances))
	if err != nil {
		return intent.NewUnknownError(err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return intent.NewNetworkError("redis publish", err).AddDetail("channel", p.channel)
	}
	return nil
}

func (p *RedisPerformer) Close() error {
	return p.client.Close()
}
