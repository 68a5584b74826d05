/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache is a Redis-backed read cache for the hot API paths:
// transcode job status and queue previews. Redis going away never breaks
// a request, it only costs the caching.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/skald/internal/telemetry"
)

// Default TTL values per cache type. Both are short: these entries only
// absorb read bursts, correctness comes from invalidation on mutation.
const (
	DefaultJobStatusTTL = 5 * time.Second
	DefaultQueueTTL     = 3 * time.Second
)

// Key prefixes for Redis cache.
const (
	KeyJobStatus = "skald:cache:job_status:" // + track_id
	KeyQueue     = "skald:cache:queue:"      // + community_id
)

const metricTier = "redis"

// Config contains cache configuration.
type Config struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	JobStatusTTL time.Duration
	QueueTTL     time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		RedisAddr:      "localhost:6379",
		JobStatusTTL:   DefaultJobStatusTTL,
		QueueTTL:       DefaultQueueTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. An unreachable Redis yields a
// disabled cache, never an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.JobStatusTTL <= 0 {
		cfg.JobStatusTTL = DefaultJobStatusTTL
	}
	if cfg.QueueTTL <= 0 {
		cfg.QueueTTL = DefaultQueueTTL
	}

	componentLogger := logger.With().Str("component", "cache").Logger()

	if !cfg.Enabled {
		componentLogger.Info().Msg("read cache disabled by configuration")
		return &Cache{logger: componentLogger, config: cfg, disabled: true}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		componentLogger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   componentLogger,
			config:   cfg,
			disabled: true,
		}, nil
	}

	componentLogger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: componentLogger,
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Job status caching

// CachedJobStatus is the API's view of a transcode job.
type CachedJobStatus struct {
	TrackID  string    `json:"track_id"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	OpusURL  string    `json:"opus_url,omitempty"`
	CachedAt time.Time `json:"cached_at"`
}

// GetJobStatus retrieves a cached job status for a track.
func (c *Cache) GetJobStatus(ctx context.Context, trackID string) (*CachedJobStatus, bool) {
	var status CachedJobStatus
	found, err := c.get(ctx, KeyJobStatus+trackID, &status)
	if err != nil || !found {
		telemetry.CacheMissesTotal.WithLabelValues(metricTier).Inc()
		return nil, false
	}
	telemetry.CacheHitsTotal.WithLabelValues(metricTier).Inc()
	c.logger.Debug().Str("track_id", trackID).Msg("job status cache hit")
	return &status, true
}

// SetJobStatus caches a job status for a track.
func (c *Cache) SetJobStatus(ctx context.Context, status *CachedJobStatus) error {
	status.CachedAt = time.Now().UTC()
	return c.set(ctx, KeyJobStatus+status.TrackID, status, c.config.JobStatusTTL)
}

// InvalidateJobStatus removes a track's job status from cache. Mutating
// paths call this so readers never see a terminal state lag behind.
func (c *Cache) InvalidateJobStatus(ctx context.Context, trackID string) error {
	c.logger.Debug().Str("track_id", trackID).Msg("invalidating job status cache")
	return c.delete(ctx, KeyJobStatus+trackID)
}

// Queue preview caching

// GetQueuePayload retrieves a cached queue payload for a community.
func (c *Cache) GetQueuePayload(ctx context.Context, communityID string) (map[string]any, bool) {
	var payload map[string]any
	found, err := c.get(ctx, KeyQueue+communityID, &payload)
	if err != nil || !found {
		telemetry.CacheMissesTotal.WithLabelValues(metricTier).Inc()
		return nil, false
	}
	telemetry.CacheHitsTotal.WithLabelValues(metricTier).Inc()
	c.logger.Debug().Str("community_id", communityID).Msg("queue payload cache hit")
	return payload, true
}

// SetQueuePayload caches a community's queue payload.
func (c *Cache) SetQueuePayload(ctx context.Context, communityID string, payload map[string]any) error {
	return c.set(ctx, KeyQueue+communityID, payload, c.config.QueueTTL)
}

// InvalidateQueue removes a community's queue payload from cache.
func (c *Cache) InvalidateQueue(ctx context.Context, communityID string) error {
	c.logger.Debug().Str("community_id", communityID).Msg("invalidating queue cache")
	return c.delete(ctx, KeyQueue+communityID)
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, "skald:cache:*")
}
