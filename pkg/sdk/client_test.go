package adtokens

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"no scheme", "localhost:8080"},
		{"ftp", "ftp://example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.url); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c, err := New("https://ads.example.com/v1/")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.endpoint("/search", nil); got != "https://ads.example.com/v1/search" {
		t.Errorf("endpoint = %q", got)
	}
}

func TestSearch(t *testing.T) {
	c, rec := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Search-Time", "42")
		w.Header().Set("X-Cache-Hit", "true")
		respond(http.StatusOK, searchBody)(w, r)
	}, WithAPIKey("secret"), WithUserAgent("test-agent"))

	res, err := c.Search(context.Background(), SearchRequest{
		Query:   "running shoes",
		Limit:   3,
		Filters: &Filters{MaxPrice: Float(150), Merchant: "acme"},
		ConversationContext: []Turn{
			{Role: "user", Content: "I run trails"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.method != http.MethodPost || rec.path != "/search" {
		t.Errorf("request = %s %s", rec.method, rec.path)
	}
	if rec.header.Get("X-API-Key") != "secret" || rec.header.Get("User-Agent") != "test-agent" {
		t.Errorf("headers = %v", rec.header)
	}
	if rec.body["query"] != "running shoes" || rec.body["limit"] != float64(3) {
		t.Errorf("body = %v", rec.body)
	}
	if _, ok := rec.body["stream"]; ok {
		t.Error("plain search must not send stream")
	}
	filters, _ := rec.body["filters"].(map[string]any)
	if filters["max_price"] != float64(150) || filters["merchant"] != "acme" {
		t.Errorf("filters = %v", filters)
	}

	if res.RequestID != "req-1" || len(res.Results) != 1 || res.Results[0].ImpressionID != "imp-1" {
		t.Errorf("response = %+v", res)
	}
	if res.Metadata.TotalMatches != 4 || res.Metadata.ModelVersion != "m1" {
		t.Errorf("metadata = %+v", res.Metadata)
	}
	if res.SearchTime != 42*time.Millisecond || !res.CacheHit {
		t.Errorf("headers: time=%v hit=%v", res.SearchTime, res.CacheHit)
	}
}

func TestSearch_APIErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{"invalid input", 400, `{"code":"invalid_input","message":"query is required"}`, ErrInvalidInput},
		{"unauthorized", 401, `{"code":"unauthorized","message":"missing api key"}`, ErrUnauthorized},
		{"forbidden", 403, `{"code":"forbidden","message":"api key disabled"}`, ErrForbidden},
		{"embedding", 503, `{"code":"embedding_unavailable","message":"embedding provider unavailable"}`, ErrEmbeddingUnavailable},
		{"retrieval", 503, `{"code":"retrieval_unavailable","message":"retrieval unavailable"}`, ErrRetrievalUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newAPI(t, respond(tt.status, tt.body))

			_, err := c.Search(context.Background(), SearchRequest{Query: "x"})
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("got %v, want %v", err, tt.sentinel)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != tt.status {
				t.Errorf("api error = %+v", apiErr)
			}
		})
	}
}

func TestSearch_RateLimited(t *testing.T) {
	c, _ := newAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		respond(http.StatusTooManyRequests, `{"code":"rate_limit_exceeded","message":"rate limit exceeded"}`)(w, r)
	})

	_, err := c.Search(context.Background(), SearchRequest{Query: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !errors.Is(err, ErrRateLimitExceeded) || apiErr.RetryAfter != 3*time.Second {
		t.Errorf("api error = %+v", apiErr)
	}
}

func TestSearch_NonJSONError(t *testing.T) {
	c, _ := newAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	_, err := c.Search(context.Background(), SearchRequest{Query: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "" || apiErr.Message != "bad gateway" {
		t.Errorf("api error = %+v", apiErr)
	}
	if errors.Unwrap(apiErr) != nil {
		t.Error("unknown codes map to no sentinel")
	}
}

func TestSearch_Timeout(t *testing.T) {
	c, _ := newAPI(t, func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, WithTimeout(20*time.Millisecond))

	_, err := c.Search(context.Background(), SearchRequest{Query: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestBatch(t *testing.T) {
	c, rec := newAPI(t, respond(http.StatusOK, `{
		"results": [
			`+searchBody+`,
			{"error": {"code": "invalid_input", "message": "query is required"}}
		],
		"metadata": {"total_queries": 2, "total_time_ms": 15}
	}`))

	res, err := c.Batch(context.Background(), []SearchRequest{{Query: "shoes"}, {Query: ""}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.path != "/search/batch" {
		t.Errorf("path = %s", rec.path)
	}
	if qs, _ := rec.body["queries"].([]any); len(qs) != 2 {
		t.Errorf("queries = %v", rec.body["queries"])
	}
	if len(res.Items) != 2 || res.TotalQueries != 2 || res.TotalTime != 15*time.Millisecond {
		t.Fatalf("response = %+v", res)
	}
	if res.Items[0].Err != nil || res.Items[0].Response.RequestID != "req-1" {
		t.Errorf("item 0 = %+v", res.Items[0])
	}
	if res.Items[1].Response != nil || !errors.Is(res.Items[1].Err, ErrInvalidInput) {
		t.Errorf("item 1 = %+v", res.Items[1])
	}
}

func TestBatch_Empty(t *testing.T) {
	c, _ := newAPI(t, respond(http.StatusOK, `{}`))
	if _, err := c.Batch(context.Background(), nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSimilar(t *testing.T) {
	c, rec := newAPI(t, respond(http.StatusOK, searchBody))

	res, err := c.Similar(context.Background(), SimilarRequest{ProductID: "sku/1", Limit: 4, SessionID: "s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.method != http.MethodGet || rec.path != "/products/sku/1/similar" {
		t.Errorf("request = %s %s", rec.method, rec.path)
	}
	if !strings.Contains(rec.query, "limit=4") || !strings.Contains(rec.query, "session_id=s") {
		t.Errorf("query = %q", rec.query)
	}
	if len(res.Results) != 1 {
		t.Errorf("results = %+v", res.Results)
	}

	if _, err := c.Similar(context.Background(), SimilarRequest{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty product id: got %v", err)
	}
}

func TestSimilar_NotFound(t *testing.T) {
	c, _ := newAPI(t, respond(http.StatusNotFound, `{"code":"product_not_found","message":"product not found"}`))

	_, err := c.Similar(context.Background(), SimilarRequest{ProductID: "ghost"})
	if !errors.Is(err, ErrProductNotFound) || !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v", err)
	}
}

func TestClick(t *testing.T) {
	c, rec := newAPI(t, respond(http.StatusOK,
		`{"impression_id":"imp-1","timestamp":"2026-03-01T12:00:00Z"}`))

	click, err := c.Click(context.Background(), "imp-1", "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.path != "/clicks/imp-1" || rec.body["request_id"] != "req-1" {
		t.Errorf("request = %s %v", rec.path, rec.body)
	}
	if _, ok := rec.body["conversion_value"]; ok {
		t.Error("click must not send a conversion value")
	}
	if !click.Timestamp.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", click.Timestamp)
	}
}

func TestConversion(t *testing.T) {
	c, rec := newAPI(t, respond(http.StatusOK,
		`{"impression_id":"imp-1","timestamp":"2026-03-01T12:00:00Z","conversion_value":49.5}`))

	click, err := c.Conversion(context.Background(), "imp-1", 49.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.body["conversion_value"] != 49.5 {
		t.Errorf("body = %v", rec.body)
	}
	if click.ConversionValue == nil || *click.ConversionValue != 49.5 {
		t.Errorf("click = %+v", click)
	}
}

func TestConversion_ClickRequired(t *testing.T) {
	c, _ := newAPI(t, respond(http.StatusConflict, `{"code":"click_required","message":"conversion requires a prior click"}`))

	if _, err := c.Conversion(context.Background(), "imp-1", 10); !errors.Is(err, ErrClickRequired) {
		t.Errorf("got %v", err)
	}
	if _, err := c.Click(context.Background(), "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty impression: got %v", err)
	}
}

func TestFeedback(t *testing.T) {
	c, rec := newAPI(t, respond(http.StatusCreated, `{"feedback_id":"fb-1","message":"Feedback recorded"}`))

	id, err := c.Feedback(context.Background(), FeedbackRequest{
		RequestID: "req-1", ProductID: "p1", Relevant: false, Reason: "wrong size",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "fb-1" {
		t.Errorf("id = %q", id)
	}
	if rec.body["relevant"] != false || rec.body["reason"] != "wrong size" {
		t.Errorf("body = %v", rec.body)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   string
	}{
		{"ok", http.StatusOK, "ok"},
		{"degraded", http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newAPI(t, respond(tt.status,
				`{"status":"`+tt.want+`","checks":{"database":"ok"},"version":"1.2.3"}`))

			hs, err := c.Health(context.Background())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if hs.Status != tt.want || hs.Checks["database"] != "ok" || hs.Version != "1.2.3" {
				t.Errorf("health = %+v", hs)
			}
		})
	}
}

func TestHealth_UnexpectedStatus(t *testing.T) {
	c, _ := newAPI(t, respond(http.StatusInternalServerError, `{"code":"internal_error","message":"internal error"}`))
	if _, err := c.Health(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
