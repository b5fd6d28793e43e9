// Package sharedcache is the cross-instance tier of the result cache, stored in Redis.
package sharedcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kailas-cloud/adtokens/internal/domain"
	"github.com/kailas-cloud/adtokens/internal/domain/search/candidate"
)

var keyPrefix = domain.KeyPrefix + "results:"

// cmdable is the subset of *redis.Client the cache uses (ISP).
type cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Config holds Redis connection parameters.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// entry is the stored payload. ExpiresAt guards against clock skew between
// Redis expiry and the reader.
type entry struct {
	Candidates []candidate.Candidate `json:"candidates"`
	CreatedAt  time.Time             `json:"created_at"`
	ExpiresAt  time.Time             `json:"expires_at"`
}

// Cache stores ranked candidate lists keyed by generation-scoped fingerprint.
type Cache struct {
	client cmdable
	logger *zap.Logger
	now    func() time.Time
}

// NewClient dials Redis and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// New wraps a Redis client.
func New(client cmdable, logger *zap.Logger) *Cache {
	return &Cache{client: client, logger: logger, now: time.Now}
}

// Get returns a fresh entry. Misses, decode errors, incomplete candidates and
// backend errors all report false.
func (c *Cache) Get(ctx context.Context, key string) ([]candidate.Candidate, bool) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Shared cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Warn("Shared cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !c.now().Before(e.ExpiresAt) {
		return nil, false
	}
	for i := range e.Candidates {
		if p := e.Candidates[i].Product; p == nil || p.ID == "" {
			c.logger.Warn("Shared cache entry has a candidate without product",
				zap.String("key", key), zap.Int("index", i))
			return nil, false
		}
	}
	return e.Candidates, true
}

// Set stores a list for ttl. Failures are logged, never returned.
func (c *Cache) Set(ctx context.Context, key string, list []candidate.Candidate, ttl time.Duration) {
	now := c.now()
	data, err := json.Marshal(entry{Candidates: list, CreatedAt: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		c.logger.Warn("Shared cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		c.logger.Warn("Shared cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Ping checks the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
