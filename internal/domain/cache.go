package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetCheck retrieves the latest cached compliance check for a COI.
	// Returns nil, nil on a miss.
	GetCheck(ctx context.Context, tenantID string, coiID string) (*ComplianceCheck, error)

	// SetCheck caches the latest compliance check for a COI.
	SetCheck(ctx context.Context, tenantID string, coiID string, check *ComplianceCheck, ttl time.Duration) error

	// ClaimReminder marks a renewal reminder as sent for window. It reports
	// false when another caller already holds the claim.
	ClaimReminder(ctx context.Context, tenantID string, key string, window time.Duration) (bool, error)

	// ReleaseReminder drops a claim so the reminder can be sent again.
	ReleaseReminder(ctx context.Context, tenantID string, key string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
