package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/adtokens/internal/domain"
	domimp "github.com/kailas-cloud/adtokens/internal/domain/impression"
	"github.com/kailas-cloud/adtokens/internal/domain/product"
	"github.com/kailas-cloud/adtokens/internal/domain/search/candidate"
	"github.com/kailas-cloud/adtokens/internal/domain/search/filter"
	"github.com/kailas-cloud/adtokens/internal/domain/search/query"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// --- Fakes ---

type fakeIndex struct {
	mu       sync.Mutex
	hits     []candidate.Hit
	products map[string]*product.Product
	errs     []error // consumed one per SearchKNN call
	calls    int
	lastK    int
	lastPD   filter.Pushdown
	block    bool
	release  chan struct{} // when set, SearchKNN waits for it to close
}

func (f *fakeIndex) SearchKNN(ctx context.Context, _ []float32, k int, pd filter.Pushdown) ([]candidate.Hit, error) {
	f.mu.Lock()
	f.calls++
	f.lastK = k
	f.lastPD = pd
	release := f.release
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return f.hits, nil
}

func (f *fakeIndex) searches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeIndex) Get(_ context.Context, id string) (*product.Product, error) {
	if p, ok := f.products[id]; ok {
		return p, nil
	}
	return nil, domain.ErrProductNotFound
}

type fakeEmbedder struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	lastText string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastText = text
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return domain.EmbeddingResult{}, err
		}
	}
	return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2, 0.3}}, nil
}

type fakeStamper struct {
	mu        sync.Mutex
	seq       int
	committed []domimp.Impression
}

func (f *fakeStamper) Mint(requestID, sessionID, productID string) domimp.Impression {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return domimp.Impression{
		ID:        fmt.Sprintf("imp-%d", f.seq),
		RequestID: requestID,
		SessionID: sessionID,
		ProductID: productID,
		CreatedAt: testNow,
	}
}

func (f *fakeStamper) Commit(_ context.Context, imps ...domimp.Impression) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, imps...)
}

func (f *fakeStamper) Committed() []domimp.Impression {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domimp.Impression(nil), f.committed...)
}

// fakeSink records frames; failAt makes the n-th Result call fail (1-based).
type fakeSink struct {
	started   bool
	requestID string
	cacheHit  bool
	items     []Item
	metadata  *Metadata
	failAt    int
	onResult  func(n int)
}

func (f *fakeSink) Start(requestID string, cacheHit bool) error {
	f.started = true
	f.requestID = requestID
	f.cacheHit = cacheHit
	return nil
}

func (f *fakeSink) Result(item Item) error {
	n := len(f.items) + 1
	if f.onResult != nil {
		f.onResult(n)
	}
	if f.failAt == n {
		return errors.New("broken pipe")
	}
	f.items = append(f.items, item)
	return nil
}

func (f *fakeSink) Metadata(md Metadata) error {
	f.metadata = &md
	return nil
}

// --- Helpers ---

func prod(id string, price float64) *product.Product {
	return &product.Product{
		ID:        id,
		Title:     "Product " + id,
		Price:     product.Price{Amount: price, Currency: "USD"},
		Merchant:  "acme",
		Brand:     "Sony",
		Category:  "audio",
		UpdatedAt: testNow,
		InStock:   true,
		Vector:    []float32{1, 0, 0},
	}
}

func hit(id string, sim, price float64) candidate.Hit {
	return candidate.Hit{Product: prod(id, price), Similarity: sim}
}

func mustQuery(t *testing.T, p query.Params) *query.Descriptor {
	t.Helper()
	d, err := query.New(p)
	if err != nil {
		t.Fatalf("query.New: %v", err)
	}
	return d
}

func newTestService(idx *fakeIndex, emb *fakeEmbedder, st *fakeStamper) *Service {
	svc := New(Config{
		RetryBackoff:     time.Millisecond,
		RetrievalTimeout: 50 * time.Millisecond,
		EmbeddingTimeout: 50 * time.Millisecond,
		ModelVersion:     "v-test",
		Weights:          Weights{Similarity: 1},
	}, idx, emb, nil, st, zap.NewNop())
	svc.now = func() time.Time { return testNow }
	return svc
}
