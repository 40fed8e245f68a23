package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tasksync/internal/config"

	"github.com/redis/go-redis/v9"
)

const labelKeyPrefix = "gmail_label:"

// RedisLabelCache keeps Gmail label ids in Redis so every worker and every
// restart shares one lookup.
type RedisLabelCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisLabelCache(client *redis.Client, ttl time.Duration) *RedisLabelCache {
	return &RedisLabelCache{
		client: client,
		ttl:    ttl,
	}
}

func labelKey(name string) string {
	return labelKeyPrefix + strings.ToLower(strings.TrimSpace(name))
}

func (r *RedisLabelCache) GetLabelID(ctx context.Context, name string) (string, error) {
	if r.client == nil {
		return "", fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, labelKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get label from redis: %w", err)
	}
	return val, nil
}

func (r *RedisLabelCache) SetLabelID(ctx context.Context, name, id string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Set(ctx, labelKey(name), id, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set label in redis: %w", err)
	}
	return nil
}

func (r *RedisLabelCache) DeleteLabelID(ctx context.Context, name string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, labelKey(name)).Err(); err != nil {
		return fmt.Errorf("failed to delete label from redis: %w", err)
	}
	return nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
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
