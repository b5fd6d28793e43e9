// Package qdrant is the Qdrant-backed product index.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/kailas-cloud/adtokens/internal/domain"
	"github.com/kailas-cloud/adtokens/internal/domain/product"
	"github.com/kailas-cloud/adtokens/internal/domain/search/candidate"
	"github.com/kailas-cloud/adtokens/internal/domain/search/filter"
)

// pointNamespace derives stable point UUIDs from catalog ids.
var pointNamespace = uuid.MustParse("6f1c2a7e-4b8d-4e55-9a0e-2d3c5b7a9f10")

// client is the subset of *qdrant.Client the index uses (ISP).
type client interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// Config holds Qdrant connection configuration.
type Config struct {
	// URL is the Qdrant gRPC address, e.g. "http://localhost:6334".
	URL        string
	Collection string
	APIKey     string
	VectorDim  int
}

// Repo implements the product index over a Qdrant collection.
type Repo struct {
	client     client
	collection string
	vectorDim  int
}

// New dials Qdrant.
func New(cfg Config) (*Repo, error) {
	if cfg.URL == "" {
		return nil, errors.New("qdrant url is required")
	}
	if cfg.Collection == "" {
		return nil, errors.New("qdrant collection is required")
	}

	raw := cfg.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant url: %w", err)
	}

	port := 6334
	if u.Port() != "" {
		if port, err = strconv.Atoi(u.Port()); err != nil {
			return nil, fmt.Errorf("invalid qdrant port: %w", err)
		}
	}

	c, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	return newRepo(c, cfg.Collection, cfg.VectorDim), nil
}

func newRepo(c client, collection string, dim int) *Repo {
	return &Repo{client: c, collection: collection, vectorDim: dim}
}

// SearchKNN returns the k nearest products among those passing pd, by cosine similarity.
func (r *Repo) SearchKNN(ctx context.Context, vector []float32, k int, pd filter.Pushdown) ([]candidate.Hit, error) {
	limit := uint64(k) //nolint:gosec // k is a clamped positive int
	points, err := r.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: r.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         buildFilter(pd),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant query: %w", domain.ErrRetrievalUnavailable, err)
	}

	hits := make([]candidate.Hit, 0, len(points))
	for _, pt := range points {
		p := payloadToProduct(pt.GetPayload())
		if p.ID == "" {
			continue
		}
		hits = append(hits, candidate.Hit{Product: p, Similarity: candidate.Clamp01(float64(pt.GetScore()))})
	}
	return hits, nil
}

// buildFilter converts the indexable filters into a payload pre-filter. nil means no filter.
func buildFilter(pd filter.Pushdown) *qdrant.Filter {
	var must []*qdrant.Condition
	for _, eq := range pd.Equals {
		key, ok := filterKeys[eq.Field]
		if !ok || eq.Value == "" {
			continue
		}
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   key,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: eq.Value}},
				},
			},
		})
	}
	if pd.MinPrice != nil || pd.MaxPrice != nil {
		must = append(must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   keyPrice,
					Range: &qdrant.Range{Gte: pd.MinPrice, Lte: pd.MaxPrice},
				},
			},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// Get loads a product with its vector.
func (r *Repo) Get(ctx context.Context, id string) (*product.Product, error) {
	points, err := r.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: r.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(pointID(id))},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant get %s: %w", domain.ErrRetrievalUnavailable, id, err)
	}
	if len(points) == 0 {
		return nil, domain.ErrProductNotFound
	}

	pt := points[0]
	p := payloadToProduct(pt.GetPayload())
	if p.ID == "" {
		p.ID = id
	}
	p.Vector = pt.GetVectors().GetVector().GetData()
	return p, nil
}

// Upsert writes products as points and waits for the write to apply.
func (r *Repo) Upsert(ctx context.Context, products ...*product.Product) error {
	points := make([]*qdrant.PointStruct, 0, len(products))
	for _, p := range products {
		if p.ID == "" {
			return domain.InvalidInput("product id is required")
		}
		if r.vectorDim > 0 && len(p.Vector) != r.vectorDim {
			return domain.InvalidInput("product %s: vector has %d dims, collection expects %d", p.ID, len(p.Vector), r.vectorDim)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(p.ID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: productToPayload(p),
		})
	}

	wait := true
	if _, err := r.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: r.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// Delete removes products by catalog id. Missing ids are ignored.
func (r *Repo) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pids[i] = qdrant.NewID(pointID(id))
	}
	wait := true
	if _, err := r.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: r.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(pids...),
	}); err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

// EnsureIndex creates the collection with cosine distance if missing.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.client.CollectionExists(ctx, r.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}
	if err := r.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(r.vectorDim), //nolint:gosec // validated positive in config
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// Close releases the gRPC connection.
func (r *Repo) Close() error {
	return r.client.Close()
}

// pointID maps a catalog id to a point UUID. UUID ids pass through unchanged.
func pointID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

// Ping checks that Qdrant answers health checks.
func (r *Repo) Ping(ctx context.Context) error {
	if _, err := r.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}
