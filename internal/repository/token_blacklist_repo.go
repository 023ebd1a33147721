package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const blacklistKeyPrefix = "auth:blacklist:"

// TokenBlacklist records revoked session tokens until they would have expired anyway.
type TokenBlacklist interface {
	Add(ctx context.Context, token string, ttl time.Duration) error
	Contains(ctx context.Context, token string) (bool, error)
}

type redisTokenBlacklist struct {
	client *redis.Client
}

// NewTokenBlacklist builds a blacklist shared by every API instance through redis.
func NewTokenBlacklist(client *redis.Client) TokenBlacklist {
	return &redisTokenBlacklist{client: client}
}

func (b *redisTokenBlacklist) Add(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return b.client.Set(ctx, blacklistKey(token), 1, ttl).Err()
}

func (b *redisTokenBlacklist) Contains(ctx context.Context, token string) (bool, error) {
	err := b.client.Get(ctx, blacklistKey(token)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HashToken returns the hex sha256 of a raw token; raw tokens are never stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func blacklistKey(token string) string {
	return blacklistKeyPrefix + HashToken(token)
}
