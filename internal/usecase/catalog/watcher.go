// Package catalog watches the catalog generation and invalidates cached results on change.
package catalog

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval is the generation poll period.
const DefaultInterval = 5 * time.Second

// GenerationSource reads the shared catalog generation counter.
type GenerationSource interface {
	Generation(ctx context.Context) (uint64, error)
}

// Invalidator adopts a new generation. Returns true if it changed.
type Invalidator interface {
	SetGeneration(gen uint64) bool
}

// Watcher polls GenerationSource and forwards changes to the result cache.
type Watcher struct {
	source   GenerationSource
	cache    Invalidator
	interval time.Duration
	logger   *zap.Logger
}

// NewWatcher creates a watcher. interval <= 0 uses DefaultInterval.
func NewWatcher(source GenerationSource, cache Invalidator, interval time.Duration, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{source: source, cache: cache, interval: interval, logger: logger}
}

// Sync reads the generation once and applies it.
func (w *Watcher) Sync(ctx context.Context) error {
	gen, err := w.source.Generation(ctx)
	if err != nil {
		return err //nolint:wrapcheck // source wraps its own errors
	}
	if w.cache.SetGeneration(gen) {
		w.logger.Info("Catalog generation changed, result cache purged", zap.Uint64("generation", gen))
	}
	return nil
}

// Run polls until ctx is cancelled. Poll failures are logged and retried next tick.
func (w *Watcher) Run(ctx context.Context) {
	if err := w.Sync(ctx); err != nil {
		w.logger.Warn("Catalog generation sync failed", zap.Error(err))
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Sync(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("Catalog generation sync failed", zap.Error(err))
			}
		}
	}
}
