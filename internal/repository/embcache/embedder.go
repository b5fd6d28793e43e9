// Package embcache caches query embeddings: an in-process LRU in front of a
// Valkey read-through tier, with concurrent misses for one text coalesced.
package embcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/adtokens/internal/db"
	"github.com/kailas-cloud/adtokens/internal/domain"
)

var cacheKeyPrefix = domain.KeyPrefix + "emb_cache:"

// Cache outcomes, the "result" label of cacheTotal.
const (
	resultLocalHit  = "local_hit"
	resultHit       = "hit"
	resultMiss      = "miss"
	resultCoalesced = "coalesced"
)

// store is the consumer interface for the embedding cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedEmbedder caches query vectors. Vectors returned from the cache are
// shared; callers must not mutate them.
type CachedEmbedder struct {
	inner      domain.Embedder
	store      store
	model      string
	ttl        time.Duration
	local      *expirable.LRU[string, []float32]
	group      singleflight.Group
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator. Keys are scoped by model so a model switch
// never serves vectors of the wrong dimension.
// cacheTotal is a counter vec with label "result", passed explicitly; nil disables counting.
func New(
	inner domain.Embedder,
	s store,
	model string,
	ttl time.Duration,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedEmbedder {
	return &CachedEmbedder{
		inner:      inner,
		store:      s,
		model:      model,
		ttl:        ttl,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// WithLocal adds an in-process tier of size entries. size <= 0 leaves it off.
func (c *CachedEmbedder) WithLocal(size int, ttl time.Duration) *CachedEmbedder {
	if size > 0 {
		c.local = expirable.NewLRU[string, []float32](size, nil, ttl)
	}
	return c
}

type flightResult struct {
	res    domain.EmbeddingResult
	cached bool
}

// Embed returns a cached embedding or calls the inner embedder once per key,
// however many requests miss concurrently.
// Cache hit: TotalTokens = 0 (no real tokens consumed).
func (c *CachedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	key := c.cacheKey(text)

	if c.local != nil {
		if vec, ok := c.local.Get(key); ok {
			c.incCache(resultLocalHit)
			return domain.EmbeddingResult{Embedding: vec}, nil
		}
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		if vec, ok := c.getFromCache(ctx, key); ok {
			c.incCache(resultHit)
			c.remember(key, vec)
			return flightResult{res: domain.EmbeddingResult{Embedding: vec}, cached: true}, nil
		}
		c.incCache(resultMiss)

		res, err := c.inner.Embed(ctx, text)
		if err != nil {
			return nil, err //nolint:wrapcheck // wrapped below for every waiter
		}
		c.putToCache(ctx, key, res.Embedding)
		c.remember(key, res.Embedding)
		return flightResult{res: res}, nil
	})
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed text: %w", err)
	}

	fr := v.(flightResult) //nolint:errcheck,forcetypeassert // only flightResult is returned above
	if shared {
		c.incCache(resultCoalesced)
		// Tokens are billed to the leader only.
		return domain.EmbeddingResult{Embedding: fr.res.Embedding}, nil
	}
	return fr.res, nil
}

func (c *CachedEmbedder) remember(key string, vec []float32) {
	if c.local != nil {
		c.local.Add(key, vec)
	}
}

func (c *CachedEmbedder) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha256.Sum256([]byte(c.model + "\x00" + text))
	return cacheKeyPrefix + hex.EncodeToString(h[:])
}

func (c *CachedEmbedder) getFromCache(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.store.Get(ctx, key)
	switch {
	case errors.Is(err, db.ErrKeyNotFound):
		return nil, false
	case err != nil:
		c.logger.Warn("Embedding cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	case len(data) == 0:
		return nil, false
	}

	vec, err := db.BytesToVector(string(data))
	if err != nil {
		c.logger.Warn("Dropping corrupt cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return vec, true
}

func (c *CachedEmbedder) putToCache(ctx context.Context, key string, vec []float32) {
	data := []byte(db.VectorToBytes(vec))
	if err := c.store.SetWithTTL(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("Embedding cache write failed", zap.String("key", key), zap.Error(err))
	}
}
