package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"concierge/internal/config"
	"concierge/internal/models"

	"github.com/redis/go-redis/v9"
)

const pendingKeyPrefix = "pending_changes:"

// RedisPendingStore checkpoints change logs in Redis with an expiry.
type RedisPendingStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisPendingStore(client *redis.Client, ttl time.Duration) *RedisPendingStore {
	if ttl <= 0 {
		ttl = models.DefaultPendingTTL
	}
	return &RedisPendingStore{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisPendingStore) SavePending(ctx context.Context, key string, changes []models.PendingChange) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if len(changes) == 0 {
		return r.ClearPending(ctx, key)
	}
	data, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("failed to marshal pending changes: %w", err)
	}
	if err := r.client.Set(ctx, pendingKeyPrefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save pending changes in redis: %w", err)
	}
	return nil
}

// LoadPending returns nil without error when nothing is checkpointed.
func (r *RedisPendingStore) LoadPending(ctx context.Context, key string) ([]models.PendingChange, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, pendingKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending changes from redis: %w", err)
	}

	var changes []models.PendingChange
	if err := json.Unmarshal([]byte(val), &changes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending changes: %w", err)
	}
	return changes, nil
}

func (r *RedisPendingStore) ClearPending(ctx context.Context, key string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, pendingKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to clear pending changes in redis: %w", err)
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
