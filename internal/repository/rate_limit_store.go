package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rateLimitKeyPrefix = "ratelimit:"
	rateLimitOpTimeout = time.Second
)

// RateLimitStore keeps limiter counters in redis so every API instance
// enforces the same login and submit budgets. It satisfies fiber.Storage.
type RateLimitStore struct {
	client *redis.Client
}

// NewRateLimitStore builds the shared limiter storage.
func NewRateLimitStore(client *redis.Client) *RateLimitStore {
	return &RateLimitStore{client: client}
}

// Get returns nil without error for unknown keys, as fiber.Storage requires.
func (s *RateLimitStore) Get(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), rateLimitOpTimeout)
	defer cancel()

	value, err := s.client.Get(ctx, rateLimitKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return value, err
}

func (s *RateLimitStore) Set(key string, value []byte, exp time.Duration) error {
	if key == "" || len(value) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), rateLimitOpTimeout)
	defer cancel()
	return s.client.Set(ctx, rateLimitKeyPrefix+key, value, exp).Err()
}

func (s *RateLimitStore) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), rateLimitOpTimeout)
	defer cancel()
	return s.client.Del(ctx, rateLimitKeyPrefix+key).Err()
}

// Reset drops every limiter counter, leaving other keys alone.
func (s *RateLimitStore) Reset() error {
	ctx := context.Background()
	iter := s.client.Scan(ctx, 0, rateLimitKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Close is a no-op; the client is owned by the caller.
func (s *RateLimitStore) Close() error {
	return nil
}
