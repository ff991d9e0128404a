package events

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes every event to a broad channel and to a
// per-pipeline channel "<channel>:pipeline:<name>".
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) PipelineChannel(name string) string {
	return p.channel + ":pipeline:" + name
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	b, err := encode(ev)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, b).Err(); err != nil {
		return err
	}
	if ev.Pipeline != "" {
		return p.client.Publish(ctx, p.PipelineChannel(ev.Pipeline), b).Err()
	}
	return nil
}
