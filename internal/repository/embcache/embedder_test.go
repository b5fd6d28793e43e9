package embcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/adtokens/internal/db"
	"github.com/kailas-cloud/adtokens/internal/domain"
)

func TestEmbed_CacheMiss(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{
		Embedding:    []float32{0.1, 0.2, 0.3},
		PromptTokens: 10,
		TotalTokens:  10,
	}}
	ce, ms := newTestCachedEmbedder(t, inner)
	ctx := context.Background()

	// SET → OK (cache put)
	var setTTL time.Duration
	var setKey string
	ms.setFn = func(_ context.Context, key string, _ []byte, ttl time.Duration) error {
		setKey, setTTL = key, ttl
		return nil
	}

	result, err := ce.Embed(ctx, "test text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 || result.Embedding[0] != 0.1 {
		t.Fatalf("unexpected vector: %v", result.Embedding)
	}
	if result.TotalTokens != 10 {
		t.Fatalf("expected TotalTokens=10, got %d", result.TotalTokens)
	}
	if setTTL != time.Hour {
		t.Fatalf("expected SET with 1h TTL, got %v", setTTL)
	}
	if !strings.HasPrefix(setKey, "adtokens:emb_cache:") {
		t.Fatalf("unexpected key %q", setKey)
	}
}

func TestEmbed_CacheHit(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{
		Embedding: []float32{0.1, 0.2, 0.3},
	}}
	ce, ms := newTestCachedEmbedder(t, inner)
	ctx := context.Background()

	cached := []byte(db.VectorToBytes([]float32{0.4, 0.5, 0.6}))

	// GET → cached bytes
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return cached, nil
	}

	result, err := ce.Embed(ctx, "test text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 || result.Embedding[0] != 0.4 {
		t.Fatalf("expected cached vector, got: %v", result.Embedding)
	}
	// Из кеша: 0 токенов, inner не вызывается
	if result.TotalTokens != 0 || inner.calls() != 0 {
		t.Fatalf("expected no tokens and no inner call, got tokens=%d calls=%d", result.TotalTokens, inner.calls())
	}
}

func TestEmbed_CorruptCacheFallsThrough(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	ce, ms := newTestCachedEmbedder(t, inner)
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return []byte{1, 2, 3}, nil
	}

	if _, err := ce.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls() != 1 {
		t.Fatalf("expected inner call on corrupt cache, got %d", inner.calls())
	}
}

func TestEmbed_StoreErrorsAreNotFatal(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	ce, ms := newTestCachedEmbedder(t, inner)
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) {
		return nil, errors.New("conn refused")
	}
	ms.setFn = func(context.Context, string, []byte, time.Duration) error {
		return errors.New("conn refused")
	}

	if _, err := ce.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("cache failures must not fail Embed: %v", err)
	}
}

func TestEmbed_InnerError(t *testing.T) {
	inner := &mockEmbedder{err: domain.ErrEmbeddingUnavailable}
	ce, _ := newTestCachedEmbedder(t, inner)

	_, err := ce.Embed(context.Background(), "test text")
	if !errors.Is(err, domain.ErrEmbeddingUnavailable) {
		t.Fatalf("expected wrapped ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestCacheKey_ScopedByModel(t *testing.T) {
	a := New(&mockEmbedder{}, &mockKVStore{}, "model-a", time.Hour, nil, zap.NewNop())
	b := New(&mockEmbedder{}, &mockKVStore{}, "model-b", time.Hour, nil, zap.NewNop())
	if a.cacheKey("same") == b.cacheKey("same") {
		t.Fatal("keys must differ across models")
	}
	if a.cacheKey("same") != a.cacheKey("same") {
		t.Fatal("keys must be stable")
	}
}

func TestEmbed_CountsHitsAndMisses(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_total"}, []string{"result"})
	ms := &mockKVStore{}
	ce := New(&mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}, ms, "m", time.Hour, counter, zap.NewNop())

	_, _ = ce.Embed(context.Background(), "a")
	ms.getFn = func(context.Context, string) ([]byte, error) { return []byte(db.VectorToBytes([]float32{1})), nil }
	_, _ = ce.Embed(context.Background(), "a")
	_, _ = ce.Embed(context.Background(), "a")

	if got := testutil.ToFloat64(counter.WithLabelValues("miss")); got != 1 {
		t.Errorf("miss = %v, want 1", got)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("hit")); got != 2 {
		t.Errorf("hit = %v, want 2", got)
	}
}

func TestEmbed_LocalTier(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_local_total"}, []string{"result"})
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.7}, TotalTokens: 3}}
	reads := 0
	ms := &mockKVStore{getFn: func(context.Context, string) ([]byte, error) {
		reads++
		return nil, db.ErrKeyNotFound
	}}
	ce := New(inner, ms, "m", time.Hour, counter, zap.NewNop()).WithLocal(8, time.Minute)

	for range 3 {
		res, err := ce.Embed(context.Background(), "trail shoes")
		if err != nil || res.Embedding[0] != 0.7 {
			t.Fatalf("res=%v err=%v", res, err)
		}
	}
	if inner.calls() != 1 || reads != 1 {
		t.Errorf("inner calls=%d valkey reads=%d, want 1 and 1", inner.calls(), reads)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("local_hit")); got != 2 {
		t.Errorf("local_hit = %v, want 2", got)
	}
}

func TestEmbed_CoalescesConcurrentMisses(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_coalesce_total"}, []string{"result"})
	inner := &mockEmbedder{
		result:  domain.EmbeddingResult{Embedding: []float32{1, 2}, TotalTokens: 5},
		release: make(chan struct{}),
	}
	ce := New(inner, &mockKVStore{}, "m", time.Hour, counter, zap.NewNop())

	const n = 8
	var wg sync.WaitGroup
	tokens := make([]int, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ce.Embed(context.Background(), "same query")
			tokens[i], errs[i] = res.TotalTokens, err
		}()
	}
	// Let the followers join the flight before the leader returns.
	time.Sleep(50 * time.Millisecond)
	close(inner.release)
	wg.Wait()

	if inner.calls() != 1 {
		t.Fatalf("inner calls = %d, want 1", inner.calls())
	}
	billed := 0
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		billed += tokens[i]
	}
	if billed != 5 {
		t.Errorf("tokens billed = %d, want 5 (leader only)", billed)
	}
}
