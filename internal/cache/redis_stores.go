package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	openTimePrefix = "fundarb:open_time:"
	cooldownPrefix = "fundarb:cooldown:"
)

// RedisOpenTimeStore is the Redis-backed position open-time store. It keeps
// hysteresis ages across engine restarts, which the in-memory store cannot.
type RedisOpenTimeStore struct {
	client *redis.Client
}

// NewRedisOpenTimeStore wraps an existing Redis client.
func NewRedisOpenTimeStore(client *redis.Client) *RedisOpenTimeStore {
	return &RedisOpenTimeStore{client: client}
}

func (s *RedisOpenTimeStore) RecordOpen(ctx context.Context, key string, openedAt time.Time) error {
	if err := s.client.Set(ctx, openTimePrefix+key, openedAt.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("failed to record open time for %s: %w", key, err)
	}
	return nil
}

func (s *RedisOpenTimeStore) RemoveOpen(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, openTimePrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to remove open time for %s: %w", key, err)
	}
	return nil
}

func (s *RedisOpenTimeStore) AgeHours(ctx context.Context, key string, now time.Time) (float64, bool, error) {
	raw, err := s.client.Get(ctx, openTimePrefix+key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read open time for %s: %w", key, err)
	}
	openedAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt open time for %s: %w", key, err)
	}
	return now.Sub(openedAt).Hours(), true, nil
}

// RedisCooldownStore is the Redis-backed cooldown filter; expiry is delegated
// to Redis key TTLs.
type RedisCooldownStore struct {
	client *redis.Client
}

// NewRedisCooldownStore wraps an existing Redis client.
func NewRedisCooldownStore(client *redis.Client) *RedisCooldownStore {
	return &RedisCooldownStore{client: client}
}

func (s *RedisCooldownStore) MarkFiltered(ctx context.Context, pairKey string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, cooldownPrefix+pairKey, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark pair %s filtered: %w", pairKey, err)
	}
	return nil
}

func (s *RedisCooldownStore) IsFiltered(ctx context.Context, pairKey string, _ time.Time) (bool, error) {
	n, err := s.client.Exists(ctx, cooldownPrefix+pairKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check cooldown for %s: %w", pairKey, err)
	}
	return n > 0, nil
}
