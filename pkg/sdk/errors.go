package adtokens

import (
	"fmt"
	"time"

	"github.com/kailas-cloud/adtokens/internal/domain"
)

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() on errors returned by the client.
var (
	ErrInvalidInput         = domain.ErrInvalidInput
	ErrUnauthorized         = domain.ErrUnauthorized
	ErrForbidden            = domain.ErrForbidden
	ErrNotFound             = domain.ErrNotFound
	ErrProductNotFound      = domain.ErrProductNotFound
	ErrImpressionNotFound   = domain.ErrImpressionNotFound
	ErrClickRequired        = domain.ErrClickRequired
	ErrRateLimitExceeded    = domain.ErrRateLimitExceeded
	ErrEmbeddingUnavailable = domain.ErrEmbeddingUnavailable
	ErrRetrievalUnavailable = domain.ErrRetrievalUnavailable
)

var codeSentinels = map[string]error{
	"invalid_input":         ErrInvalidInput,
	"unauthorized":          ErrUnauthorized,
	"forbidden":             ErrForbidden,
	"not_found":             ErrNotFound,
	"product_not_found":     ErrProductNotFound,
	"impression_not_found":  ErrImpressionNotFound,
	"click_required":        ErrClickRequired,
	"rate_limit_exceeded":   ErrRateLimitExceeded,
	"embedding_unavailable": ErrEmbeddingUnavailable,
	"retrieval_unavailable": ErrRetrievalUnavailable,
}

// APIError is a non-2xx response or an SSE error event.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	// RetryAfter is set on rate limited responses.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("adtokens: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("adtokens: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap maps the error code onto a sentinel so errors.Is works.
func (e *APIError) Unwrap() error {
	return codeSentinels[e.Code]
}
