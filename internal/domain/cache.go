package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching finished run reports.
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

	// GetRun retrieves a cached run. Returns nil, nil on a miss.
	GetRun(ctx context.Context, tenantID string, runID string) (*Run, error)

	// SetRun caches a finished run.
	SetRun(ctx context.Context, tenantID string, run *Run, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" yaml:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `json:"localMaxSize" yaml:"localMaxSize"`
	LocalTTL     time.Duration `json:"localTtl" yaml:"localTtl"`

	// RunTTL is how long finished runs stay cached.
	RunTTL time.Duration `json:"runTtl" yaml:"runTtl"`

	// Redis settings (Pro tier)
	RedisAddr     string `json:"redisAddr" yaml:"redisAddr"`
	RedisPassword string `json:"-" yaml:"-"`
	RedisDB       int    `json:"redisDb" yaml:"redisDb"`

	// Two-phase settings
	EnableTwoPhase bool `json:"enableTwoPhase" yaml:"enableTwoPhase"` // If true, check local first, then Redis
}
