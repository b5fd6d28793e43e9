// Package resultcache maps query fingerprints to ranked candidate lists.
package resultcache

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/adtokens/internal/domain/search/candidate"
	"github.com/kailas-cloud/adtokens/internal/domain/search/query"
	"github.com/kailas-cloud/adtokens/internal/metrics"
)

// Defaults.
const (
	DefaultSize = 10_000
	DefaultTTL  = 5 * time.Minute
)

// Config bounds the local tier.
type Config struct {
	Size int
	TTL  time.Duration
}

type entry struct {
	list      []candidate.Candidate
	expiresAt time.Time
}

// Cache is an LRU of ranked lists with per-fingerprint miss coalescing.
// Keys are scoped by catalog generation so a catalog change orphans old entries.
type Cache struct {
	local      *lru.Cache[string, entry]
	group      singleflight.Group
	shared     Shared
	ttl        time.Duration
	generation atomic.Uint64
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a cache. shared may be nil.
func New(cfg Config, shared Shared, logger *zap.Logger) (*Cache, error) {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	local, err := lru.New[string, entry](cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Cache{
		local:  local,
		shared: shared,
		ttl:    cfg.TTL,
		logger: logger,
		now:    time.Now,
	}, nil
}

// TTL returns the default entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Generation returns the current catalog generation.
func (c *Cache) Generation() uint64 { return c.generation.Load() }

// Lookup returns a fresh ranked list for d.
func (c *Cache) Lookup(ctx context.Context, d *query.Descriptor) ([]candidate.Candidate, bool) {
	return c.lookup(ctx, c.key(c.Generation(), d))
}

// Store saves list for d. ttl of zero uses the configured TTL.
func (c *Cache) Store(ctx context.Context, d *query.Descriptor, list []candidate.Candidate, ttl time.Duration) {
	c.store(ctx, c.key(c.Generation(), d), list, ttl)
}

// GetOrCompute serves d from cache or runs compute once per fingerprint.
// Concurrent callers with the same fingerprint share the leader's result.
// compute runs detached from the caller's cancellation; a cancelled caller
// stops waiting and gets ctx.Err().
func (c *Cache) GetOrCompute(
	ctx context.Context, d *query.Descriptor,
	compute func(ctx context.Context) ([]candidate.Candidate, error),
) ([]candidate.Candidate, bool, error) {
	gen := c.Generation()
	key := c.key(gen, d)

	if list, ok := c.lookup(ctx, key); ok {
		return list, true, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		detached := context.WithoutCancel(ctx)
		// The previous leader may have stored the entry and released the key
		// between our lookup and DoChan.
		if list, ok := c.lookup(detached, key); ok {
			return computed{list: list, cached: true}, nil
		}
		metrics.ResultCacheTotal.WithLabelValues("miss").Inc()
		list, err := compute(detached)
		if err != nil {
			return nil, err
		}
		// Результат старого поколения каталога не кешируем.
		if c.Generation() == gen {
			c.store(detached, key, list, 0)
		}
		return computed{list: list}, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("wait for shared computation: %w", ctx.Err())
	case res := <-ch:
		if res.Shared {
			metrics.ResultCacheTotal.WithLabelValues("coalesced").Inc()
		}
		if res.Err != nil {
			return nil, false, res.Err //nolint:wrapcheck // compute errors carry their own context
		}
		out, _ := res.Val.(computed)
		return clone(out.list), out.cached, nil
	}
}

// computed is the singleflight payload; cached marks a list found on re-check.
type computed struct {
	list   []candidate.Candidate
	cached bool
}

// Invalidate drops every local entry and moves to a new generation,
// which orphans shared-tier entries too.
func (c *Cache) Invalidate() {
	c.generation.Add(1)
	c.local.Purge()
}

// SetGeneration adopts an externally observed catalog generation.
// Returns true when the value changed and the local tier was purged.
func (c *Cache) SetGeneration(gen uint64) bool {
	if c.generation.Swap(gen) == gen {
		return false
	}
	c.local.Purge()
	return true
}

// Len returns the number of local entries, expired ones included.
func (c *Cache) Len() int { return c.local.Len() }

func (c *Cache) key(gen uint64, d *query.Descriptor) string {
	return strconv.FormatUint(gen, 10) + ":" + d.Fingerprint()
}

func (c *Cache) lookup(ctx context.Context, key string) ([]candidate.Candidate, bool) {
	if e, ok := c.local.Get(key); ok {
		if c.now().Before(e.expiresAt) {
			metrics.ResultCacheTotal.WithLabelValues("hit").Inc()
			return clone(e.list), true
		}
		c.local.Remove(key)
	}
	if c.shared != nil {
		if list, ok := c.shared.Get(ctx, key); ok {
			metrics.ResultCacheTotal.WithLabelValues("shared_hit").Inc()
			return list, true
		}
	}
	return nil, false
}

func (c *Cache) store(ctx context.Context, key string, list []candidate.Candidate, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.local.Add(key, entry{list: clone(list), expiresAt: c.now().Add(ttl)})
	if c.shared != nil {
		c.shared.Set(ctx, key, list, ttl)
	}
	c.logger.Debug("Result cache stored", zap.String("key", key), zap.Int("candidates", len(list)))
}

// clone copies the slice so per-request truncation never touches cached state.
func clone(list []candidate.Candidate) []candidate.Candidate {
	out := make([]candidate.Candidate, len(list))
	copy(out, list)
	return out
}
