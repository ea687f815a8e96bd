// Package redis implements the result cache on Redis: JSON values with a
// TTL, guarded by a circuit breaker, plus pub/sub for live signals.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"signal-backtest/internal/model"
)

// Config configures the Redis cache.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Prefix   string // key namespace, default "sigbt"
}

// Cache stores scored series and rankings as JSON with expiry.
// It satisfies model.ResultCache.
type Cache struct {
	client *goredis.Client
	cb     *CircuitBreaker
	prefix string

	// Metrics hooks (optional)
	OnHit   func()
	OnMiss  func()
	OnWrite func(d time.Duration)
}

var _ model.ResultCache = (*Cache)(nil)

// Client returns the underlying Redis client for health checks.
func (c *Cache) Client() *goredis.Client { return c.client }

// New creates a Redis cache and pings the server.
func New(cfg Config) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, prefix string) *Cache {
	if prefix == "" {
		prefix = "sigbt"
	}
	cb := NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit %s -> %s", from, to)
	}
	return &Cache{client: client, cb: cb, prefix: prefix}
}

func (c *Cache) key(k string) string { return c.prefix + ":" + k }

// ScoredKey is the cache key of a scored series.
func ScoredKey(ticker, interval string) string { return "scored:" + model.SeriesKey(ticker, interval) }

// RankingKey is the cache key of a grid-search ranking.
func RankingKey(ticker, interval string) string { return "grid:" + model.SeriesKey(ticker, interval) }

// SignalChannel is the pub/sub channel for live signals of a series.
func SignalChannel(ticker, interval string) string { return "pub:signal:" + model.SeriesKey(ticker, interval) }

// Get loads key into dst. A missing key is a miss, not an error.
func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	var data []byte
	err := c.cb.Execute(func() error {
		b, err := c.client.Get(ctx, c.key(key)).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		data = b
		return err
	})
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if data == nil {
		if c.OnMiss != nil {
			c.OnMiss()
		}
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("redis decode %s: %w", key, err)
	}
	if c.OnHit != nil {
		c.OnHit()
	}
	return true, nil
}

// Set stores value as JSON under key for ttl (0 = no expiry).
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis encode %s: %w", key, err)
	}
	start := time.Now()
	err = c.cb.Execute(func() error {
		return c.client.Set(ctx, c.key(key), data, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	if c.OnWrite != nil {
		c.OnWrite(time.Since(start))
	}
	return nil
}

// Expire drops key immediately.
func (c *Cache) Expire(ctx context.Context, key string) error {
	err := c.cb.Execute(func() error {
		return c.client.Del(ctx, c.key(key)).Err()
	})
	if err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Publish sends a JSON message on a pub/sub channel.
func (c *Cache) Publish(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis encode publish: %w", err)
	}
	return c.cb.Execute(func() error {
		return c.client.Publish(ctx, c.key(channel), data).Err()
	})
}

// Close closes the client.
func (c *Cache) Close() error {
	return c.client.Close()
}
