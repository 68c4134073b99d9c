// Package signals publishes run signals to a Redis stream so external
// consumers can follow run progress.
package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xiaot623/gogo/runhook/internal/domain"
)

const defaultStream = "runhook:signals"

// Publisher appends signals to a stream with XADD.
type Publisher struct {
	client *goredis.Client
	stream string
}

type Option func(*Publisher)

func WithStream(stream string) Option {
	return func(p *Publisher) {
		stream = strings.TrimSpace(stream)
		if stream != "" {
			p.stream = stream
		}
	}
}

// NewPublisher connects to addr and verifies the connection with PING.
func NewPublisher(ctx context.Context, addr string, opts ...Option) (*Publisher, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	p := &Publisher{stream: defaultStream}
	for _, opt := range opts {
		opt(p)
	}
	p.client = goredis.NewClient(&goredis.Options{Addr: addr})
	if err := p.client.Ping(ctx).Err(); err != nil {
		_ = p.client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return p, nil
}

// Publish appends the signal and returns the stream entry ID.
func (p *Publisher) Publish(ctx context.Context, runID string, eventType domain.EventType, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal signal: %w", err)
	}
	id, err := p.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"run_id":  runID,
			"type":    string(eventType),
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish signal: %w", err)
	}
	return id, nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
