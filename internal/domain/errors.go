package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput signals a malformed or out-of-range request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized signals a missing or unknown API key.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden signals a known but disabled API key.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrRateLimitExceeded signals an exhausted caller bucket.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrEmbeddingUnavailable signals an embedding provider failure or timeout.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
	// ErrRetrievalUnavailable signals an unreachable or timed-out product index.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrClickRequired signals a conversion recorded before any click.
	ErrClickRequired = errors.New("conversion requires a prior click")
)

var (
	// ErrProductNotFound signals an unknown catalog product.
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	// ErrImpressionNotFound signals an unknown or expired impression.
	ErrImpressionNotFound = fmt.Errorf("impression %w", ErrNotFound)
)

// InvalidInput wraps a validation message with ErrInvalidInput.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
