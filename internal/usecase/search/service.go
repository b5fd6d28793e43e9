// Package search runs the match, rank and delivery pipeline.
package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/adtokens/internal/domain"
	domimp "github.com/kailas-cloud/adtokens/internal/domain/impression"
	"github.com/kailas-cloud/adtokens/internal/domain/product"
	"github.com/kailas-cloud/adtokens/internal/domain/search/candidate"
	"github.com/kailas-cloud/adtokens/internal/domain/search/filter"
	"github.com/kailas-cloud/adtokens/internal/domain/search/query"
	"github.com/kailas-cloud/adtokens/internal/logger"
	"github.com/kailas-cloud/adtokens/internal/metrics"
)

// Defaults.
const (
	DefaultOverFetch        = 4
	DefaultEmbeddingTimeout = 2 * time.Second
	DefaultRetrievalTimeout = 500 * time.Millisecond
	DefaultRetryBackoff     = 50 * time.Millisecond
	DefaultMaxBatch         = 10
	DefaultBatchConcurrency = 4
)

// Config tunes the pipeline.
type Config struct {
	// OverFetch multiplies limit into the ANN k so that filtering still leaves enough.
	OverFetch        int
	EmbeddingTimeout time.Duration
	RetrievalTimeout time.Duration
	RetryBackoff     time.Duration
	MaxBatch         int
	BatchConcurrency int
	ModelVersion     string
	Weights          Weights
}

func (c *Config) applyDefaults() {
	if c.OverFetch <= 0 {
		c.OverFetch = DefaultOverFetch
	}
	if c.EmbeddingTimeout <= 0 {
		c.EmbeddingTimeout = DefaultEmbeddingTimeout
	}
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = DefaultRetrievalTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = DefaultMaxBatch
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = DefaultBatchConcurrency
	}
}

// Item is one served candidate with its attribution token.
type Item struct {
	Candidate    candidate.Candidate
	ImpressionID string
}

// Metadata describes a response.
type Metadata struct {
	TotalMatches int
	SessionID    string
	ModelVersion string
}

// Result is a complete batch response.
type Result struct {
	RequestID string
	Items     []Item
	Metadata  Metadata
	CacheHit  bool
}

// Service orchestrates normalization output through retrieval, ranking,
// dedup and stamping.
type Service struct {
	cfg     Config
	index   ProductIndex
	embed   Embedder
	cache   Cache
	stamper Stamper
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a search service. cache may be nil.
func New(cfg Config, index ProductIndex, embed Embedder, cache Cache, stamper Stamper, logger *zap.Logger) *Service {
	cfg.applyDefaults()
	if cache == nil {
		cache = noCache{}
	}
	return &Service{
		cfg:     cfg,
		index:   index,
		embed:   embed,
		cache:   cache,
		stamper: stamper,
		logger:  logger,
		now:     time.Now,
	}
}

// MaxBatch returns the configured batch size limit.
func (s *Service) MaxBatch() int { return s.cfg.MaxBatch }

// plan is a ranked, deduplicated, truncated response that has not been stamped yet.
type plan struct {
	candidates []candidate.Candidate
	total      int
	cacheHit   bool
}

// Search runs the pipeline for a text or similar-products descriptor and
// stamps every returned candidate.
func (s *Service) Search(ctx context.Context, d *query.Descriptor, requestID string) (*Result, error) {
	p, err := s.plan(ctx, d)
	if err != nil {
		return nil, err
	}

	items := make([]Item, len(p.candidates))
	imps := make([]domimp.Impression, len(p.candidates))
	for i := range p.candidates {
		imps[i] = s.stamper.Mint(requestID, d.SessionID(), p.candidates[i].ID())
		items[i] = Item{Candidate: p.candidates[i], ImpressionID: imps[i].ID}
	}
	if len(imps) > 0 {
		s.stamper.Commit(context.WithoutCancel(ctx), imps...)
	}

	return &Result{
		RequestID: requestID,
		Items:     items,
		Metadata:  s.metadata(d, p),
		CacheHit:  p.cacheHit,
	}, nil
}

// Similar is Search for a descriptor built by query.NewSimilar.
func (s *Service) Similar(ctx context.Context, d *query.Descriptor, requestID string) (*Result, error) {
	if d.Kind() != query.KindSimilar {
		return nil, domain.InvalidInput("similar search requires an anchor product")
	}
	return s.Search(ctx, d, requestID)
}

func (s *Service) metadata(d *query.Descriptor, p *plan) Metadata {
	return Metadata{
		TotalMatches: p.total,
		SessionID:    d.SessionID(),
		ModelVersion: s.cfg.ModelVersion,
	}
}

// plan resolves the ranked list (cached or computed), then applies the
// per-request exclusions and truncation.
func (s *Service) plan(ctx context.Context, d *query.Descriptor) (*plan, error) {
	ranked, hit, err := s.cache.GetOrCompute(ctx, d, func(ctx context.Context) ([]candidate.Candidate, error) {
		return s.rank(ctx, d)
	})
	if err != nil {
		return nil, err //nolint:wrapcheck // pipeline errors are already classified
	}

	list := Dedup(ranked, d)
	total := len(list)
	if len(list) > d.Limit() {
		list = list[:d.Limit()]
	}
	for i := range list {
		list[i].Rank = i + 1
	}
	return &plan{candidates: list, total: total, cacheHit: hit}, nil
}

// rank is the cache-miss path: vectorize, retrieve, filter and score.
func (s *Service) rank(ctx context.Context, d *query.Descriptor) ([]candidate.Candidate, error) {
	vector, err := s.vectorFor(ctx, d)
	if err != nil {
		return nil, err
	}

	k := d.Limit() * s.cfg.OverFetch
	hits, err := s.retrieve(ctx, vector, k, d.Filters().Pushdown())
	if err != nil {
		return nil, err
	}

	ranked := Rank(hits, d, s.cfg.Weights, s.now())
	logger.FromContextOr(ctx, s.logger).Debug("Candidates ranked",
		zap.String("fingerprint", d.Fingerprint()),
		zap.Int("hits", len(hits)),
		zap.Int("ranked", len(ranked)),
	)
	return ranked, nil
}

func (s *Service) vectorFor(ctx context.Context, d *query.Descriptor) ([]float32, error) {
	if d.Kind() == query.KindSimilar {
		p, err := withRetry(ctx, "retrieval", s.cfg.RetrievalTimeout, s.cfg.RetryBackoff,
			domain.ErrRetrievalUnavailable, func(ctx context.Context) (*product.Product, error) {
				return s.index.Get(ctx, d.Anchor())
			})
		if err != nil {
			return nil, fmt.Errorf("get anchor product: %w", err)
		}
		if len(p.Vector) == 0 {
			return nil, fmt.Errorf("%w: anchor product has no embedding", domain.ErrRetrievalUnavailable)
		}
		return p.Vector, nil
	}

	res, err := withRetry(ctx, "embedding", s.cfg.EmbeddingTimeout, s.cfg.RetryBackoff,
		domain.ErrEmbeddingUnavailable, func(ctx context.Context) (domain.EmbeddingResult, error) {
			return s.embed.Embed(ctx, d.EmbeddingText())
		})
	if err != nil {
		return nil, fmt.Errorf("vectorize query: %w", err)
	}
	return res.Embedding, nil
}

func (s *Service) retrieve(ctx context.Context, vector []float32, k int, pd filter.Pushdown) ([]candidate.Hit, error) {
	hits, err := withRetry(ctx, "retrieval", s.cfg.RetrievalTimeout, s.cfg.RetryBackoff,
		domain.ErrRetrievalUnavailable, func(ctx context.Context) ([]candidate.Hit, error) {
			start := time.Now()
			hits, err := s.index.SearchKNN(ctx, vector, k, pd)
			status := "ok"
			if err != nil {
				status = "error"
			}
			metrics.RetrievalDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
			return hits, err //nolint:wrapcheck // classified by withRetry
		})
	if err != nil {
		return nil, fmt.Errorf("search knn: %w", err)
	}
	return hits, nil
}

// noCache computes every request.
type noCache struct{}

func (noCache) GetOrCompute(
	ctx context.Context, _ *query.Descriptor,
	compute func(ctx context.Context) ([]candidate.Candidate, error),
) ([]candidate.Candidate, bool, error) {
	list, err := compute(ctx)
	return list, false, err
}
