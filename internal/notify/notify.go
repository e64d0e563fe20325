// Package notify publishes niche progress events for live consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/commercecrafted/nichepipeline/internal/config"
	"github.com/redis/go-redis/v9"
)

// ProgressEvent is one progress snapshot of a niche job.
type ProgressEvent struct {
	NicheID           string    `json:"nicheId"`
	Status            string    `json:"status"`
	Step              string    `json:"step"`
	Processed         int       `json:"processed"`
	Total             int       `json:"total"`
	Percent           int       `json:"percent"`
	Succeeded         int       `json:"succeeded"`
	Failed            int       `json:"failed"`
	CurrentIdentifier string    `json:"currentIdentifier,omitempty"`
	Error             string    `json:"error,omitempty"`
	At                time.Time `json:"at"`
}

// Publisher delivers progress events. Publishing is best effort.
type Publisher interface {
	Publish(ctx context.Context, event ProgressEvent) error
	Close() error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, ProgressEvent) error { return nil }
func (Noop) Close() error                                 { return nil }

// RedisPublisher publishes events as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(cfg config.RedisConfig) (*RedisPublisher, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = "niche-progress"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisPublisher{rdb: rdb, channel: channel}, nil
}

// NewRedisPublisherWithClient wraps an existing client.
func NewRedisPublisherWithClient(rdb *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

// Publish sends event on the configured channel.
func (p *RedisPublisher) Publish(ctx context.Context, event ProgressEvent) error {
	if p == nil || p.rdb == nil {
		return fmt.Errorf("redis publisher not initialized")
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, raw).Err()
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}
