// Package learning runs the background maintenance over the interaction
// log: pruning old low-scoring interactions and recomputing the per-template
// intelligence aggregate that seeds analytics.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	pruneAge      = 90 * 24 * time.Hour
	pruneMaxScore = 0.5
)

// MaintenanceStore is the slice of storage the worker needs.
type MaintenanceStore interface {
	PruneInteractions(cutoff time.Time, maxScore float64) (int64, error)
	RecomputeTemplateIntelligence() error
}

// Worker periodically prunes and re-aggregates. Best-effort: a failed pass
// is logged and retried on the next tick.
type Worker struct {
	store    MaintenanceStore
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewWorker creates a Worker. If interval is <= 0, it defaults to one hour.
func NewWorker(store MaintenanceStore, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Worker{
		store:    store,
		interval: interval,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// Run executes maintenance passes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunOnce(); err != nil {
				w.logger.Error("learning maintenance failed", "error", err)
			}
		}
	}
}

// RunOnce performs one maintenance pass.
func (w *Worker) RunOnce() error {
	cutoff := w.now().Add(-pruneAge)
	pruned, err := w.store.PruneInteractions(cutoff, pruneMaxScore)
	if err != nil {
		return fmt.Errorf("pruning interactions: %w", err)
	}
	if pruned > 0 {
		w.logger.Info("pruned stale interactions", "count", pruned)
	}

	if err := w.store.RecomputeTemplateIntelligence(); err != nil {
		return fmt.Errorf("recomputing template intelligence: %w", err)
	}
	return nil
}
