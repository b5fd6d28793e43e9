// Package embedding decorates the query embedder with logging and error classification.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kailas-cloud/adtokens/internal/domain"
	"github.com/kailas-cloud/adtokens/internal/logger"
	"github.com/kailas-cloud/adtokens/internal/metrics"
)

// InstrumentedEmbedder wraps Embedder with logging and guarantees every failure
// is classified as ErrEmbeddingUnavailable.
// Transport metrics (requests, duration, tokens) are recorded in transport/openai;
// this layer only observes the input size.
type InstrumentedEmbedder struct {
	inner    domain.Embedder
	provider string
	model    string
	dims     int
	logger   *zap.Logger
}

// NewInstrumentedEmbedder wraps an embedder. dims of 0 disables the dimension check.
func NewInstrumentedEmbedder(
	inner domain.Embedder, provider, model string, dims int, logger *zap.Logger,
) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{
		inner:    inner,
		provider: provider,
		model:    model,
		dims:     dims,
		logger:   logger,
	}
}

// Embed delegates to the inner embedder and validates the vector shape.
func (p *InstrumentedEmbedder) Embed(
	ctx context.Context, text string,
) (domain.EmbeddingResult, error) {
	log := logger.FromContextOr(ctx, p.logger)
	metrics.EmbeddingInputChars.Observe(float64(utf8.RuneCountInString(text)))
	start := time.Now()

	result, err := p.inner.Embed(ctx, text)

	duration := time.Since(start)

	if err != nil {
		log.Warn("Embedding request failed",
			zap.String("provider", p.provider),
			zap.String("model", p.model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		if errors.Is(err, domain.ErrEmbeddingUnavailable) {
			return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
		}
		return domain.EmbeddingResult{}, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	}

	if len(result.Embedding) == 0 {
		return domain.EmbeddingResult{}, fmt.Errorf("%w: empty embedding", domain.ErrEmbeddingUnavailable)
	}
	if p.dims > 0 && len(result.Embedding) != p.dims {
		return domain.EmbeddingResult{}, fmt.Errorf("%w: got %d dimensions, want %d",
			domain.ErrEmbeddingUnavailable, len(result.Embedding), p.dims)
	}

	log.Debug("Embedding request completed",
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// HealthCheck proxies to the inner embedder when it supports health checks.
func (p *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		return hc.HealthCheck(ctx) //nolint:wrapcheck // transparent decorator
	}
	return nil
}
