package search

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/adtokens/internal/domain"
	"github.com/kailas-cloud/adtokens/internal/domain/search/query"
	"github.com/kailas-cloud/adtokens/internal/logger"
)

// BatchItem is one query of a batch. Err carries a normalization failure.
type BatchItem struct {
	Descriptor *query.Descriptor
	Err        error
}

// BatchOutcome aligns with the BatchItem at the same index.
type BatchOutcome struct {
	Result *Result
	Err    error
}

// Batch runs queries concurrently with bounded parallelism. Per-query errors
// are returned inline; Batch itself fails only on an oversize batch.
func (s *Service) Batch(ctx context.Context, items []BatchItem) ([]BatchOutcome, error) {
	if len(items) == 0 {
		return nil, domain.InvalidInput("queries must not be empty")
	}
	if len(items) > s.cfg.MaxBatch {
		return nil, domain.InvalidInput("batch allows at most %d queries", s.cfg.MaxBatch)
	}

	out := make([]BatchOutcome, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchConcurrency)
	for i, it := range items {
		if it.Err != nil {
			out[i].Err = it.Err
			continue
		}
		g.Go(func() error {
			qctx := logger.With(gctx, s.logger, zap.Int("batch_index", i))
			res, err := s.Search(qctx, it.Descriptor, uuid.NewString())
			out[i] = BatchOutcome{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}
