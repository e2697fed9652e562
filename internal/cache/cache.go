package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const defaultNearTTL = 5 * time.Minute

// New builds the cache named by cfg.Type. "memory" (the default) keeps
// everything in process; "redis" shares state between nodes and, with
// EnableTwoPhase, fronts Redis with a local LRU.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		if !cfg.EnableTwoPhase {
			return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		}
		return NewTieredCache(cfg)
	}
	return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
}

// TieredCache reads checks from a local LRU before Redis. Reminder claims
// always go to Redis; a claim held only in one node's memory would let
// another node send the same reminder.
type TieredCache struct {
	near    *LRUCache
	far     *RedisCache
	nearTTL time.Duration
}

// NewTieredCache connects the Redis tier and sizes the local one from cfg.
func NewTieredCache(cfg domain.CacheConfig) (*TieredCache, error) {
	far, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	nearTTL := cfg.LocalTTL
	if nearTTL <= 0 {
		nearTTL = defaultNearTTL
	}
	return &TieredCache{
		near:    NewLRUCache(cfg.LocalMaxSize),
		far:     far,
		nearTTL: nearTTL,
	}, nil
}

func (c *TieredCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if val, err := c.near.Get(ctx, tenantID, key); err != nil || val != nil {
		return val, err
	}
	val, err := c.far.Get(ctx, tenantID, key)
	if err != nil || val == nil {
		return nil, err
	}
	_ = c.near.Set(ctx, tenantID, key, val, c.nearTTL)
	return val, nil
}

// Set writes both tiers. The local copy never outlives the Redis one.
func (c *TieredCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.near.Set(ctx, tenantID, key, value, min(ttl, c.nearTTL)); err != nil {
		return err
	}
	return c.far.Set(ctx, tenantID, key, value, ttl)
}

func (c *TieredCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.near.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.far.Delete(ctx, tenantID, key)
}

func (c *TieredCache) GetCheck(ctx context.Context, tenantID string, coiID string) (*domain.ComplianceCheck, error) {
	return loadCheck(ctx, c, tenantID, coiID)
}

func (c *TieredCache) SetCheck(ctx context.Context, tenantID string, coiID string, check *domain.ComplianceCheck, ttl time.Duration) error {
	return storeCheck(ctx, c, tenantID, coiID, check, ttl)
}

func (c *TieredCache) ClaimReminder(ctx context.Context, tenantID string, key string, window time.Duration) (bool, error) {
	return c.far.ClaimReminder(ctx, tenantID, key, window)
}

func (c *TieredCache) ReleaseReminder(ctx context.Context, tenantID string, key string) error {
	return c.far.ReleaseReminder(ctx, tenantID, key)
}

func (c *TieredCache) Ping(ctx context.Context) error {
	if err := c.far.Ping(ctx); err != nil {
		return fmt.Errorf("redis tier: %w", err)
	}
	return nil
}

func (c *TieredCache) Close() error {
	return errors.Join(c.near.Close(), c.far.Close())
}

// Stats reports the local tier only.
func (c *TieredCache) Stats() (size int, capacity int) {
	return c.near.Stats()
}
