package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"syncqueue/internal/config"

	"github.com/redis/go-redis/v9"
)

const tokenKeyPrefix = "syncqueue:token:"

// RedisTokenRepository keeps credential tokens in redis with a TTL.
type RedisTokenRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient creates a redis client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisTokenRepository(client *redis.Client, ttl time.Duration) *RedisTokenRepository {
	return &RedisTokenRepository{
		client: client,
		ttl:    ttl,
	}
}

// GetToken returns an empty string when the token is absent or expired.
func (r *RedisTokenRepository) GetToken(ctx context.Context, name string) (string, error) {
	if r.client == nil {
		return "", fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, tokenKeyPrefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get token from redis: %w", err)
	}
	return val, nil
}

// SetToken stores value under name. A zero ttl uses the repository default.
func (r *RedisTokenRepository) SetToken(ctx context.Context, name, value string, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if ttl <= 0 {
		ttl = r.ttl
	}
	if err := r.client.Set(ctx, tokenKeyPrefix+name, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set token in redis: %w", err)
	}
	return nil
}

func (r *RedisTokenRepository) ClearToken(ctx context.Context, name string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, tokenKeyPrefix+name).Err(); err != nil {
		return fmt.Errorf("failed to delete token from redis: %w", err)
	}
	return nil
}

// Ping checks the redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
