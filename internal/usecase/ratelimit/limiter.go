// Package ratelimit implements per-caller token buckets on a sharded map.
package ratelimit

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/kailas-cloud/adtokens/internal/metrics"
)

// DefaultShards is the shard count used when Config.Shards is zero.
const DefaultShards = 64

// Config sets bucket capacity and refill rate.
type Config struct {
	Capacity     float64
	RefillPerSec float64
	Shards       int
	// IdleTTL removes full buckets untouched for this long. Zero keeps them forever.
	IdleTTL time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAfter is the time until the bucket is full (admitted)
	// or until the next token (rejected).
	ResetAfter time.Duration
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// Limiter is safe for concurrent use.
type Limiter struct {
	cfg    Config
	shards []*shard
	now    func() time.Time
}

// New creates a limiter.
func New(cfg Config) *Limiter {
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultShards
	}
	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{buckets: make(map[string]*bucket)}
	}
	return &Limiter{cfg: cfg, shards: shards, now: time.Now}
}

// Allow takes one token from key's bucket.
func (l *Limiter) Allow(key string) Decision {
	b := l.bucketFor(key)
	now := l.now()

	b.mu.Lock()
	l.refill(b, now)
	b.lastSeen = now
	d := Decision{Limit: int(l.cfg.Capacity)}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
		d.Remaining = int(math.Floor(b.tokens))
		d.ResetAfter = l.timeFor(l.cfg.Capacity - b.tokens)
	} else {
		d.ResetAfter = l.timeFor(1 - b.tokens)
	}
	b.mu.Unlock()

	if d.Allowed {
		metrics.RateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
	} else {
		metrics.RateLimitDecisionsTotal.WithLabelValues("rejected").Inc()
	}
	return d
}

func (l *Limiter) bucketFor(key string) *bucket {
	s := l.shards[shardIndex(key, len(l.shards))]
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok {
		now := l.now()
		b = &bucket{tokens: l.cfg.Capacity, lastRefill: now, lastSeen: now}
		s.buckets[key] = b
	}
	return b
}

// refill must be called with b.mu held.
func (l *Limiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(l.cfg.Capacity, b.tokens+elapsed*l.cfg.RefillPerSec)
	b.lastRefill = now
}

func (l *Limiter) timeFor(tokens float64) time.Duration {
	if tokens <= 0 || l.cfg.RefillPerSec <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(tokens / l.cfg.RefillPerSec * float64(time.Second)))
}

// Sweep drops buckets that are full and idle for IdleTTL. Returns the number removed.
func (l *Limiter) Sweep() int {
	if l.cfg.IdleTTL <= 0 {
		return 0
	}
	now := l.now()
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for key, b := range s.buckets {
			b.mu.Lock()
			l.refill(b, now)
			idle := b.tokens >= l.cfg.Capacity && now.Sub(b.lastSeen) >= l.cfg.IdleTTL
			b.mu.Unlock()
			if idle {
				delete(s.buckets, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Run sweeps periodically until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if l.cfg.IdleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.buckets)
		s.mu.Unlock()
	}
	return n
}

func shardIndex(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n)) //nolint:gosec // n is a small positive shard count
}
