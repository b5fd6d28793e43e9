package adtokens

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// recorded captures the last request the fake API received.
type recorded struct {
	method string
	path   string
	query  string
	header http.Header
	body   map[string]any
}

// newAPI starts a server running handler and returns a client pointed at it.
func newAPI(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method, rec.path, rec.query, rec.header = r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Clone()
		rec.body = nil
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, rec
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

const searchBody = `{
	"request_id": "req-1",
	"results": [{
		"product_id": "p1", "impression_id": "imp-1", "title": "Trail Runner",
		"price": 120, "currency": "USD", "merchant": "acme",
		"relevance_score": 0.87, "relevance_explanation": "Strong semantic match (0.90)"
	}],
	"metadata": {"total_matches": 4, "session_id": "sess-1", "model_version": "m1"}
}`
