package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/adtokens/internal/domain/search/query"
	"github.com/kailas-cloud/adtokens/internal/logger"
	"github.com/kailas-cloud/adtokens/internal/metrics"
)

// Stream delivers results frame by frame. Planning errors are returned before
// sink.Start is called. Each impression is committed only after its frame
// was written; a write error or cancellation stops emission.
func (s *Service) Stream(ctx context.Context, d *query.Descriptor, requestID string, sink Sink) error {
	p, err := s.plan(ctx, d)
	if err != nil {
		return err
	}
	if err := sink.Start(requestID, p.cacheHit); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}

	commitCtx := context.WithoutCancel(ctx)
	for i := range p.candidates {
		if err := ctx.Err(); err != nil {
			s.streamStopped(ctx, requestID, i, err)
			return fmt.Errorf("stream: %w", err)
		}
		imp := s.stamper.Mint(requestID, d.SessionID(), p.candidates[i].ID())
		if err := sink.Result(Item{Candidate: p.candidates[i], ImpressionID: imp.ID}); err != nil {
			s.streamStopped(ctx, requestID, i, err)
			return fmt.Errorf("write result frame: %w", err)
		}
		s.stamper.Commit(commitCtx, imp)
	}

	if err := sink.Metadata(s.metadata(d, p)); err != nil {
		return fmt.Errorf("write metadata frame: %w", err)
	}
	return nil
}

func (s *Service) streamStopped(ctx context.Context, requestID string, sent int, err error) {
	metrics.StreamCancellationsTotal.Inc()
	logger.FromContextOr(ctx, s.logger).Info("Stream stopped by client",
		zap.String("request_id", requestID),
		zap.Int("frames_sent", sent),
		zap.Error(err),
	)
}
