package chi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Caller", Caller(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
}

var testKeys = []APIKey{
	{Name: "acme", Key: "secret", Enabled: true},
	{Name: "legacy", Key: "old-secret", Enabled: false},
}

func TestAuthMiddleware_EmptyKeys_PassThrough(t *testing.T) {
	for _, keys := range [][]APIKey{nil, {{Name: "blank", Key: "", Enabled: true}}} {
		handler := AuthMiddleware(keys)(okHandler())

		req := httptest.NewRequest("POST", "/search", http.NoBody)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("keys %v: got %d, want %d", keys, rr.Code, http.StatusOK)
		}
		if rr.Header().Get("X-Caller") != "" {
			t.Error("no caller expected when auth is disabled")
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
		wantCode   string
		wantCaller string
	}{
		{"missing", "", "", http.StatusUnauthorized, CodeUnauthorized, ""},
		{"x-api-key", "X-API-Key", "secret", http.StatusOK, "", "acme"},
		{"lowercase x-api-key", "x-api-key", "secret", http.StatusOK, "", "acme"},
		{"bearer", "Authorization", "Bearer secret", http.StatusOK, "", "acme"},
		{"bearer any case", "Authorization", "bearer secret", http.StatusOK, "", "acme"},
		{"basic scheme", "Authorization", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, CodeUnauthorized, ""},
		{"empty bearer", "Authorization", "Bearer ", http.StatusUnauthorized, CodeUnauthorized, ""},
		{"unknown key", "X-API-Key", "wrong", http.StatusUnauthorized, CodeUnauthorized, ""},
		{"disabled key", "X-API-Key", "old-secret", http.StatusForbidden, CodeForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := AuthMiddleware(testKeys)(okHandler())

			req := httptest.NewRequest("POST", "/search", http.NoBody)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantCode != "" {
				var errResp errorResponse
				if err := json.NewDecoder(rr.Body).Decode(&errResp); err != nil {
					t.Fatalf("decode error response: %v", err)
				}
				if errResp.Code != tt.wantCode {
					t.Errorf("error code: got %s, want %s", errResp.Code, tt.wantCode)
				}
				return
			}
			if got := rr.Header().Get("X-Caller"); got != tt.wantCaller {
				t.Errorf("caller = %q, want %q", got, tt.wantCaller)
			}
		})
	}
}

func TestAuthMiddleware_XAPIKeyWins(t *testing.T) {
	handler := AuthMiddleware(testKeys)(okHandler())

	req := httptest.NewRequest("POST", "/search", http.NoBody)
	req.Header.Set("X-API-Key", "secret")
	req.Header.Set("Authorization", "Bearer wrong")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_ExemptPaths(t *testing.T) {
	handler := AuthMiddleware(testKeys)(okHandler())

	for _, path := range []string{"/health", "/metrics"} {
		req := httptest.NewRequest("GET", path, http.NoBody)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("%s: got %d, want %d", path, rr.Code, http.StatusOK)
		}
	}
}
