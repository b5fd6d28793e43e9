package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domimp "github.com/kailas-cloud/adtokens/internal/domain/impression"
	"github.com/kailas-cloud/adtokens/internal/domain/product"
	"github.com/kailas-cloud/adtokens/internal/domain/search/candidate"
	"github.com/kailas-cloud/adtokens/internal/domain/search/query"
	attributionuc "github.com/kailas-cloud/adtokens/internal/usecase/attribution"
	healthuc "github.com/kailas-cloud/adtokens/internal/usecase/health"
	searchuc "github.com/kailas-cloud/adtokens/internal/usecase/search"
)

// --- Fake searcher ---

type fakeSearcher struct {
	mu        sync.Mutex
	result    *searchuc.Result
	err       error
	streamErr error // returned after all frames were sent
	maxBatch  int
	outcomes  []searchuc.BatchOutcome
	lastQuery *query.Descriptor
	lastReqID string
	batchSize int
}

func (f *fakeSearcher) record(d *query.Descriptor, reqID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = d
	f.lastReqID = reqID
}

func (f *fakeSearcher) Search(_ context.Context, d *query.Descriptor, reqID string) (*searchuc.Result, error) {
	f.record(d, reqID)
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	res.RequestID = reqID
	return &res, nil
}

func (f *fakeSearcher) Similar(ctx context.Context, d *query.Descriptor, reqID string) (*searchuc.Result, error) {
	return f.Search(ctx, d, reqID)
}

func (f *fakeSearcher) Stream(_ context.Context, d *query.Descriptor, reqID string, sink searchuc.Sink) error {
	f.record(d, reqID)
	if f.err != nil {
		return f.err
	}
	if err := sink.Start(reqID, f.result.CacheHit); err != nil {
		return err
	}
	for _, it := range f.result.Items {
		if err := sink.Result(it); err != nil {
			return err
		}
	}
	if f.streamErr != nil {
		return f.streamErr
	}
	return sink.Metadata(f.result.Metadata)
}

func (f *fakeSearcher) Batch(_ context.Context, items []searchuc.BatchItem) ([]searchuc.BatchOutcome, error) {
	f.batchSize = len(items)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]searchuc.BatchOutcome, len(items))
	for i, it := range items {
		if it.Err != nil {
			out[i].Err = it.Err
			continue
		}
		if i < len(f.outcomes) {
			out[i] = f.outcomes[i]
			continue
		}
		res := *f.result
		out[i].Result = &res
	}
	return out, nil
}

func (f *fakeSearcher) MaxBatch() int {
	if f.maxBatch == 0 {
		return 10
	}
	return f.maxBatch
}

// --- Fake attributor ---

type fakeAttributor struct {
	clickAt       time.Time
	clickErr      error
	conversionErr error
	feedbackErr   error

	clickID    string
	clickReqID string
	conversion *float64
	feedback   *attributionuc.FeedbackInput
}

func (f *fakeAttributor) RecordClick(_ context.Context, id, requestID string) (time.Time, error) {
	f.clickID, f.clickReqID = id, requestID
	return f.clickAt, f.clickErr
}

func (f *fakeAttributor) RecordConversion(_ context.Context, _ string, value float64) error {
	if f.conversionErr != nil {
		return f.conversionErr
	}
	f.conversion = &value
	return nil
}

func (f *fakeAttributor) RecordFeedback(_ context.Context, in attributionuc.FeedbackInput) (domimp.Feedback, error) {
	f.feedback = &in
	if f.feedbackErr != nil {
		return domimp.Feedback{}, f.feedbackErr
	}
	return domimp.Feedback{ID: "fb-1", RequestID: in.RequestID, ProductID: in.ProductID, Relevant: in.Relevant}, nil
}

// --- Fake health ---

type fakeHealth struct {
	report healthuc.Report
}

func (f *fakeHealth) Check(context.Context) healthuc.Report { return f.report }

// --- Helpers ---

func sampleResult() *searchuc.Result {
	p := &product.Product{
		ID:          "p1",
		Title:       "Trail Runner",
		Description: "Waterproof running shoe",
		Price:       product.Price{Amount: 120, Currency: "USD"},
		Merchant:    "acme",
		Brand:       "Sprint",
		URL:         "https://acme.example/p1",
		InStock:     true,
	}
	return &searchuc.Result{
		Items: []searchuc.Item{{
			Candidate: candidate.Candidate{
				Product:     p,
				Similarity:  0.9,
				Relevance:   0.87,
				Rank:        1,
				Explanation: "Strong semantic match (0.90)",
			},
			ImpressionID: "imp-1",
		}},
		Metadata: searchuc.Metadata{TotalMatches: 4, SessionID: "sess-1", ModelVersion: "test-model"},
	}
}

type testEnv struct {
	searcher   *fakeSearcher
	attributor *fakeAttributor
	health     *fakeHealth
	handler    http.Handler
}

func newTestEnv() *testEnv {
	env := &testEnv{
		searcher:   &fakeSearcher{result: sampleResult()},
		attributor: &fakeAttributor{clickAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		health: &fakeHealth{report: healthuc.Report{
			Status: healthuc.Healthy,
			Checks: map[string]healthuc.CheckResult{"database": healthuc.CheckOK},
		}},
	}
	srv := NewServer(env.searcher, env.attributor, env.health, zap.NewNop())
	r := chi.NewRouter()
	r.Use(RequestID)
	srv.Register(r)
	env.handler = r
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}
