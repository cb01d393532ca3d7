// Package cache provides the Redis-backed analysis result cache. Reports
// and the TTS narration endpoint re-read the same analysis shortly after
// a session completes, so caching avoids re-reading and re-decoding the
// stored session row.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/virtual-mirror-server/internal/domain"
	"github.com/virtual-mirror-server/internal/service"
)

// ResultCache caches AnalysisResponse payloads in Redis keyed by session
// ID. It implements service.ResultCache.
type ResultCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
	log        *logrus.Logger
}

// NewResultCache creates a Redis result cache from configuration and
// verifies connectivity.
func NewResultCache(cfg domain.CacheConfig, logger *logrus.Logger) (*ResultCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.PoolTimeout = cfg.PoolTimeout
	opts.MaxRetries = cfg.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &ResultCache{
		redis:      client,
		defaultTTL: cfg.DefaultTTL,
		log:        logger,
	}, nil
}

// Get retrieves a cached analysis. A decode failure drops the corrupted
// entry and reports a miss rather than an error.
func (c *ResultCache) Get(ctx context.Context, sessionID string) (*service.AnalysisResponse, bool, error) {
	key := analysisKey(sessionID)

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil // Cache miss
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get analysis cache: %w", err)
	}

	var result service.AnalysisResponse
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		c.log.WithField("session_id", sessionID).Warn("Dropping corrupted analysis cache entry")
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	return &result, true, nil
}

// Set caches an analysis response under the configured TTL.
func (c *ResultCache) Set(ctx context.Context, sessionID string, result *service.AnalysisResponse) error {
	jsonData, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis cache data: %w", err)
	}

	return c.redis.Set(ctx, analysisKey(sessionID), jsonData, c.defaultTTL).Err()
}

// Invalidate removes a session's cached analysis, for example after the
// session is deleted.
func (c *ResultCache) Invalidate(ctx context.Context, sessionID string) error {
	return c.redis.Del(ctx, analysisKey(sessionID)).Err()
}

// Ping checks if the Redis connection is alive
func (c *ResultCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *ResultCache) Close() error {
	return c.redis.Close()
}

func analysisKey(sessionID string) string {
	return "analysis:session:" + sessionID
}
