// Package attribution mints impressions and records clicks, conversions and feedback.
package attribution

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/adtokens/internal/domain"
	domimp "github.com/kailas-cloud/adtokens/internal/domain/impression"
	"github.com/kailas-cloud/adtokens/internal/logger"
	"github.com/kailas-cloud/adtokens/internal/metrics"
)

// Defaults.
const (
	DefaultRetention       = 30 * 24 * time.Hour
	DefaultQueueSize       = 1024
	DefaultWorkers         = 2
	DefaultMaxAttempts     = 5
	DefaultRetryBackoff    = 200 * time.Millisecond
	MaxFeedbackReason      = 1000
	defaultShutdownTimeout = 5 * time.Second
)

// Config controls retention and the async retry queue.
type Config struct {
	Retention    time.Duration
	QueueSize    int
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration
	// MaxReason bounds feedback reason length in bytes.
	MaxReason int
}

func (c *Config) applyDefaults() {
	if c.Retention == 0 {
		c.Retention = DefaultRetention
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.MaxReason <= 0 {
		c.MaxReason = MaxFeedbackReason
	}
}

type retryJob struct {
	imps    []domimp.Impression
	attempt int
}

// Service is the only place impression ids are minted.
type Service struct {
	store  Store
	cfg    Config
	queue  chan retryJob
	logger *zap.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// New creates an attribution service. Call Run to start retry workers.
func New(store Store, cfg Config, logger *zap.Logger) *Service {
	cfg.applyDefaults()
	return &Service{
		store:  store,
		cfg:    cfg,
		queue:  make(chan retryJob, cfg.QueueSize),
		logger: logger,
		now:    time.Now,
	}
}

// Mint creates an impression for a served product. It does not persist it.
func (s *Service) Mint(requestID, sessionID, productID string) domimp.Impression {
	metrics.ImpressionsTotal.Inc()
	return domimp.Impression{
		ID:        uuid.NewString(),
		RequestID: requestID,
		ProductID: productID,
		SessionID: sessionID,
		CreatedAt: s.now().UTC(),
	}
}

// Commit persists impressions. A failed write is logged, counted and queued
// for retry; it never reaches the caller.
func (s *Service) Commit(ctx context.Context, imps ...domimp.Impression) {
	if len(imps) == 0 {
		return
	}
	err := s.store.Save(ctx, imps...)
	if err == nil {
		return
	}
	metrics.ImpressionWriteFailuresTotal.Inc()
	logger.FromContextOr(ctx, s.logger).Warn("Impression write failed, queued for retry",
		zap.Int("count", len(imps)),
		zap.Error(err),
	)
	s.enqueue(retryJob{imps: imps, attempt: 1})
}

func (s *Service) enqueue(job retryJob) {
	select {
	case s.queue <- job:
	default:
		metrics.ImpressionRetriesTotal.WithLabelValues("dropped").Inc()
		s.logger.Error("Impression retry queue full, dropping write",
			zap.Int("count", len(job.imps)),
			zap.String("first_id", job.imps[0].ID),
		)
	}
}

// Run starts the retry workers and blocks until ctx is cancelled and they exit.
// Queued jobs left at shutdown get one last attempt.
func (s *Service) Run(ctx context.Context) {
	for range s.cfg.Workers {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.worker(ctx)
		}()
	}
	s.wg.Wait()
	s.drain()
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			// Линейный backoff: attempt * RetryBackoff.
			delay := time.Duration(job.attempt) * s.cfg.RetryBackoff
			select {
			case <-ctx.Done():
				s.requeue(job)
				return
			case <-time.After(delay):
			}
			s.retry(ctx, job)
		}
	}
}

func (s *Service) retry(ctx context.Context, job retryJob) {
	err := s.store.Save(context.WithoutCancel(ctx), job.imps...)
	if err == nil {
		metrics.ImpressionRetriesTotal.WithLabelValues("succeeded").Inc()
		return
	}
	job.attempt++
	if job.attempt > s.cfg.MaxAttempts {
		metrics.ImpressionRetriesTotal.WithLabelValues("dropped").Inc()
		s.logger.Error("Impression write abandoned",
			zap.Int("attempts", s.cfg.MaxAttempts),
			zap.Int("count", len(job.imps)),
			zap.Error(err),
		)
		return
	}
	metrics.ImpressionRetriesTotal.WithLabelValues("failed").Inc()
	s.enqueue(job)
}

func (s *Service) requeue(job retryJob) {
	select {
	case s.queue <- job:
	default:
	}
}

func (s *Service) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	for {
		select {
		case job := <-s.queue:
			if err := s.store.Save(ctx, job.imps...); err != nil {
				metrics.ImpressionRetriesTotal.WithLabelValues("dropped").Inc()
				s.logger.Error("Impression write lost at shutdown", zap.Int("count", len(job.imps)), zap.Error(err))
			}
		default:
			return
		}
	}
}

// Pending returns the number of queued retries.
func (s *Service) Pending() int { return len(s.queue) }

// live loads an impression that is still within retention.
func (s *Service) live(ctx context.Context, id string) (*domimp.Impression, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.InvalidInput("impression id is required")
	}
	imp, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get impression: %w", err)
	}
	if imp.Expired(s.now(), s.cfg.Retention) {
		return nil, domain.ErrImpressionNotFound
	}
	return imp, nil
}

// RecordClick sets clicked_at once and returns the effective timestamp.
// A non-empty requestID must match the impression's request.
func (s *Service) RecordClick(ctx context.Context, id, requestID string) (time.Time, error) {
	imp, err := s.live(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	if requestID != "" && requestID != imp.RequestID {
		return time.Time{}, domain.ErrImpressionNotFound
	}
	if imp.ClickedAt != nil {
		return *imp.ClickedAt, nil
	}
	at, err := s.store.MarkClicked(ctx, id, s.now().UTC())
	if err != nil {
		return time.Time{}, fmt.Errorf("mark clicked: %w", err)
	}
	return at, nil
}

// RecordConversion stores a conversion value on a clicked impression. Last write wins.
func (s *Service) RecordConversion(ctx context.Context, id string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return domain.InvalidInput("conversion_value must be a non-negative number")
	}
	if _, err := s.live(ctx, id); err != nil {
		return err
	}
	if err := s.store.SetConversion(ctx, id, value); err != nil {
		return fmt.Errorf("set conversion: %w", err)
	}
	return nil
}

// FeedbackInput is an unvalidated feedback submission.
type FeedbackInput struct {
	RequestID   string
	ProductID   string
	Relevant    bool
	Reason      string
	UserClicked *bool
}

// RecordFeedback validates and stores a relevance judgement.
func (s *Service) RecordFeedback(ctx context.Context, in FeedbackInput) (domimp.Feedback, error) {
	in.RequestID = strings.TrimSpace(in.RequestID)
	in.ProductID = strings.TrimSpace(in.ProductID)
	if in.RequestID == "" {
		return domimp.Feedback{}, domain.InvalidInput("request_id is required")
	}
	if in.ProductID == "" {
		return domimp.Feedback{}, domain.InvalidInput("product_id is required")
	}
	if len(in.Reason) > s.cfg.MaxReason {
		return domimp.Feedback{}, domain.InvalidInput("reason too long (max %d chars)", s.cfg.MaxReason)
	}

	fb := domimp.Feedback{
		ID:          uuid.NewString(),
		RequestID:   in.RequestID,
		ProductID:   in.ProductID,
		Relevant:    in.Relevant,
		Reason:      strings.TrimSpace(in.Reason),
		UserClicked: in.UserClicked,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.SaveFeedback(ctx, fb); err != nil {
		return domimp.Feedback{}, fmt.Errorf("save feedback: %w", err)
	}
	return fb, nil
}
