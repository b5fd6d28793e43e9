// Package catalog is the Valkey-backed product index: product hashes, the FT
// vector index over them, and the catalog generation counter.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/adtokens/internal/db"
	"github.com/kailas-cloud/adtokens/internal/domain"
	"github.com/kailas-cloud/adtokens/internal/domain/product"
	"github.com/kailas-cloud/adtokens/internal/domain/search/candidate"
	"github.com/kailas-cloud/adtokens/internal/domain/search/filter"
)

// Key layout.
var (
	productPrefix = domain.KeyPrefix + "product:"
	indexName     = domain.KeyPrefix + "products:idx"
	generationKey = domain.KeyPrefix + "catalog:generation"
)

// store is the consumer interface for the product index (ISP).
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	Del(ctx context.Context, key string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	IncrBy(ctx context.Context, key string, val int64) (int64, error)
}

// IndexConfig selects the vector algorithm. Flat is exact brute-force search,
// fit for small catalogs; M and EFConstruct apply to HNSW only.
type IndexConfig struct {
	Flat        bool
	M           int
	EFConstruct int
}

// Repo implements the product index over Valkey FT.SEARCH.
type Repo struct {
	store     store
	vectorDim int
	index     IndexConfig
}

// New creates a catalog repository.
func New(s store, vectorDim int) *Repo {
	return &Repo{store: s, vectorDim: vectorDim, index: IndexConfig{M: 16, EFConstruct: 200}}
}

// WithIndex configures the vector index algorithm.
func (r *Repo) WithIndex(cfg IndexConfig) *Repo {
	r.index = cfg
	return r
}

// SearchKNN returns the k nearest products among those passing pd.
// Similarity is 1 - cosine distance, clamped to [0,1].
func (r *Repo) SearchKNN(ctx context.Context, vector []float32, k int, pd filter.Pushdown) ([]candidate.Hit, error) {
	q := &db.KNNQuery{
		IndexName:    indexName,
		Vector:       vector,
		K:            k,
		ReturnFields: returnFields,
	}
	applyPushdown(q, pd)

	sr, err := r.store.SearchKNN(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: search knn: %w", domain.ErrRetrievalUnavailable, err)
	}
	if sr == nil {
		return nil, nil
	}

	hits := make([]candidate.Hit, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		id := strings.TrimPrefix(e.Key, productPrefix)
		p, err := productFromHash(id, e.Fields)
		if err != nil {
			// a malformed record must not fail the whole query
			continue
		}
		hits = append(hits, candidate.Hit{Product: p, Similarity: candidate.Clamp01(e.Score)})
	}
	return hits, nil
}

// applyPushdown maps filter equalities onto the TAG fields and the price range
// onto the NUMERIC field. A TAG value holding the "," separator was split on
// write, so it cannot be matched exactly and is left to the ranking stage.
func applyPushdown(q *db.KNNQuery, pd filter.Pushdown) {
	for _, eq := range pd.Equals {
		switch eq.Field {
		case fieldMerchant, fieldBrand, fieldCategory:
		default:
			continue
		}
		if eq.Value == "" || strings.Contains(eq.Value, ",") {
			continue
		}
		q.Tags = append(q.Tags, db.TagFilter{Field: eq.Field, Value: eq.Value})
	}
	if pd.MinPrice != nil || pd.MaxPrice != nil {
		q.Ranges = append(q.Ranges, db.RangeFilter{Field: fieldPrice, Min: pd.MinPrice, Max: pd.MaxPrice})
	}
}

// Get loads a product including its vector.
func (r *Repo) Get(ctx context.Context, id string) (*product.Product, error) {
	m, err := r.store.HGetAll(ctx, productPrefix+id)
	if err != nil {
		return nil, fmt.Errorf("%w: get product %s: %w", domain.ErrRetrievalUnavailable, id, err)
	}
	if len(m) == 0 {
		return nil, domain.ErrProductNotFound
	}
	p, err := productFromHash(id, m)
	if err != nil {
		return nil, fmt.Errorf("decode product %s: %w", id, err)
	}
	return p, nil
}

// Upsert writes products in one pipelined round-trip.
func (r *Repo) Upsert(ctx context.Context, products ...*product.Product) error {
	items := make([]db.HashSetItem, 0, len(products))
	for _, p := range products {
		if p.ID == "" {
			return domain.InvalidInput("product id is required")
		}
		if r.vectorDim > 0 && len(p.Vector) != r.vectorDim {
			return domain.InvalidInput("product %s: vector has %d dims, index expects %d", p.ID, len(p.Vector), r.vectorDim)
		}
		items = append(items, db.HashSetItem{Key: productPrefix + p.ID, Fields: productToHash(p)})
	}
	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("upsert products: %w", err)
	}
	return nil
}

// Delete removes a product hash; the index drops it automatically.
func (r *Repo) Delete(ctx context.Context, id string) error {
	if err := r.store.Del(ctx, productPrefix+id); err != nil {
		return fmt.Errorf("delete product %s: %w", id, err)
	}
	return nil
}

// EnsureIndex creates the product index if it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, indexName)
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	if exists {
		return nil
	}

	// TAG and NUMERIC fields back the KNN pre-filter, see applyPushdown.
	b := db.NewIndex(indexName).
		Prefix(productPrefix).
		Tag(fieldMerchant).
		Tag(fieldBrand).
		Tag(fieldCategory).
		Numeric(fieldPrice)
	if r.index.Flat {
		b = b.VectorFlat(fieldVector, r.vectorDim, db.DistanceCosine)
	} else {
		b = b.VectorHNSW(fieldVector, r.vectorDim, db.DistanceCosine, r.index.M, r.index.EFConstruct)
	}
	def, err := b.Build()
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// DropIndex removes the FT index. Product hashes stay and are re-indexed by
// the next EnsureIndex. A missing index is not an error.
func (r *Repo) DropIndex(ctx context.Context) error {
	if err := r.store.DropIndex(ctx, indexName); err != nil && !errors.Is(err, db.ErrIndexNotFound) {
		return fmt.Errorf("drop index: %w", err)
	}
	return nil
}

// Generation returns the current catalog generation; 0 when never bumped.
func (r *Repo) Generation(ctx context.Context) (uint64, error) {
	data, err := r.store.Get(ctx, generationKey)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get generation: %w", err)
	}
	gen, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse generation %q: %w", data, err)
	}
	return gen, nil
}

// BumpGeneration signals a catalog change to every running instance.
func (r *Repo) BumpGeneration(ctx context.Context) (uint64, error) {
	n, err := r.store.IncrBy(ctx, generationKey, 1)
	if err != nil {
		return 0, fmt.Errorf("bump generation: %w", err)
	}
	return uint64(n), nil //nolint:gosec // INCRBY from 0 never goes negative
}
