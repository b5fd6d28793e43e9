package chi

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/kailas-cloud/adtokens/internal/domain"
	"github.com/kailas-cloud/adtokens/internal/usecase/ratelimit"
)

// Limiter admits or rejects one request for a caller key.
type Limiter interface {
	Allow(key string) ratelimit.Decision
}

// RateLimitMiddleware applies the per-caller token bucket and sets the
// X-RateLimit-* headers. The caller is the API key name, or the remote IP
// when auth is disabled, so it must run after AuthMiddleware.
func RateLimitMiddleware(l Limiter) func(http.Handler) http.Handler {
	return rateLimit(l, time.Now)
}

func rateLimit(l Limiter, now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			d := l.Allow(callerIdentity(r))
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(now().Add(d.ResetAfter).Unix(), 10))

			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(ceilSeconds(d.ResetAfter)))
				writeError(w, http.StatusTooManyRequests, CodeRateLimitExceeded, domain.ErrRateLimitExceeded.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerIdentity(r *http.Request) string {
	if name := Caller(r.Context()); name != "" {
		return "key:" + name
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func ceilSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// RequestID keeps an incoming X-Request-ID when it is a UUID and mints one
// otherwise. The id is stored under chi's request id key, so
// chiMiddleware.GetReqID works downstream; it doubles as the search request_id.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(chiMiddleware.RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), chiMiddleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestID returns the id placed by RequestID, minting one if the
// middleware did not run.
func requestID(r *http.Request) string {
	if id := chiMiddleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}
