package resultcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/adtokens/internal/domain/product"
	"github.com/kailas-cloud/adtokens/internal/domain/search/candidate"
	"github.com/kailas-cloud/adtokens/internal/domain/search/query"
)

type fakeShared struct {
	mu      sync.Mutex
	entries map[string][]candidate.Candidate
	sets    int
	gets    int
	// missFirst makes the first Get miss even when an entry exists.
	missFirst bool
}

func newFakeShared() *fakeShared {
	return &fakeShared{entries: make(map[string][]candidate.Candidate)}
}

func (f *fakeShared) Get(_ context.Context, key string) ([]candidate.Candidate, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.missFirst && f.gets == 1 {
		return nil, false
	}
	l, ok := f.entries[key]
	return l, ok
}

func (f *fakeShared) Set(_ context.Context, key string, list []candidate.Candidate, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = list
	f.sets++
}

func newTestCache(t *testing.T, shared Shared) (*Cache, *time.Time) {
	t.Helper()
	c, err := New(Config{Size: 16, TTL: time.Minute}, shared, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func descriptor(t *testing.T, q string) *query.Descriptor {
	t.Helper()
	d, err := query.New(query.Params{Query: q})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func list(ids ...string) []candidate.Candidate {
	out := make([]candidate.Candidate, len(ids))
	for i, id := range ids {
		out[i] = candidate.Candidate{Product: &product.Product{ID: id}, Relevance: 0.9, Rank: i + 1}
	}
	return out
}
