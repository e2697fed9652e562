package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "kestrel:"

// RedisCache shares checks and reminder claims across API nodes.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to addr and fails fast when Redis is unreachable.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) key(tenantID, key string) (string, error) {
	k, err := scopedKey(tenantID, key)
	if err != nil {
		return "", err
	}
	return redisKeyPrefix + k, nil
}

func (c *RedisCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	k, err := c.key(tenantID, key)
	if err != nil {
		return nil, err
	}
	val, err := c.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

func (c *RedisCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	k, err := c.key(tenantID, key)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, k, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, tenantID string, key string) error {
	k, err := c.key(tenantID, key)
	if err != nil {
		return err
	}
	return c.client.Del(ctx, k).Err()
}

func (c *RedisCache) GetCheck(ctx context.Context, tenantID string, coiID string) (*domain.ComplianceCheck, error) {
	return loadCheck(ctx, c, tenantID, coiID)
}

func (c *RedisCache) SetCheck(ctx context.Context, tenantID string, coiID string, check *domain.ComplianceCheck, ttl time.Duration) error {
	return storeCheck(ctx, c, tenantID, coiID, check, ttl)
}

// ClaimReminder uses SET NX so exactly one node wins each claim.
func (c *RedisCache) ClaimReminder(ctx context.Context, tenantID string, key string, window time.Duration) (bool, error) {
	k, err := c.key(tenantID, reminderKey(key))
	if err != nil {
		return false, err
	}
	return c.client.SetNX(ctx, k, time.Now().UTC().Format(time.RFC3339), window).Result()
}

func (c *RedisCache) ReleaseReminder(ctx context.Context, tenantID string, key string) error {
	k, err := c.key(tenantID, reminderKey(key))
	if err != nil {
		return err
	}
	return c.client.Del(ctx, k).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
