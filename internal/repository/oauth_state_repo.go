package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const oauthStateKeyPrefix = "auth:oauth_state:"

// OAuthStateStore keeps one-time state values issued for the provider redirect.
type OAuthStateStore interface {
	Save(ctx context.Context, state string, ttl time.Duration) error
	// Consume deletes the state and reports whether it existed.
	Consume(ctx context.Context, state string) (bool, error)
}

type redisOAuthStateStore struct {
	client *redis.Client
}

// NewOAuthStateStore builds a redis-backed state store.
func NewOAuthStateStore(client *redis.Client) OAuthStateStore {
	return &redisOAuthStateStore{client: client}
}

func (s *redisOAuthStateStore) Save(ctx context.Context, state string, ttl time.Duration) error {
	return s.client.Set(ctx, oauthStateKeyPrefix+state, 1, ttl).Err()
}

func (s *redisOAuthStateStore) Consume(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	deleted, err := s.client.Del(ctx, oauthStateKeyPrefix+state).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return deleted == 1, nil
}
