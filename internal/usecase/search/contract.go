package search

import (
	"context"

	"github.com/kailas-cloud/adtokens/internal/domain"
	domimp "github.com/kailas-cloud/adtokens/internal/domain/impression"
	"github.com/kailas-cloud/adtokens/internal/domain/product"
	"github.com/kailas-cloud/adtokens/internal/domain/search/candidate"
	"github.com/kailas-cloud/adtokens/internal/domain/search/filter"
	"github.com/kailas-cloud/adtokens/internal/domain/search/query"
)

// ProductIndex is the ANN retrieval contract over the product catalog.
// SearchKNN pre-filters by pd where the backend can; hits may still fail the full filter set.
type ProductIndex interface {
	SearchKNN(ctx context.Context, vector []float32, k int, pd filter.Pushdown) ([]candidate.Hit, error)
	Get(ctx context.Context, id string) (*product.Product, error)
}

// Embedder vectorizes query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Cache serves ranked lists by fingerprint and coalesces concurrent misses.
type Cache interface {
	GetOrCompute(
		ctx context.Context, d *query.Descriptor,
		compute func(ctx context.Context) ([]candidate.Candidate, error),
	) ([]candidate.Candidate, bool, error)
}

// Stamper mints and persists impressions for served candidates.
type Stamper interface {
	Mint(requestID, sessionID, productID string) domimp.Impression
	Commit(ctx context.Context, imps ...domimp.Impression)
}

// Sink receives a streamed response. Start is called once, after planning
// succeeded; Result must write and flush one frame before returning.
type Sink interface {
	Start(requestID string, cacheHit bool) error
	Result(item Item) error
	Metadata(md Metadata) error
}
