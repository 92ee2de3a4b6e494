package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quicktap/arena/internal/config"
	"github.com/quicktap/arena/internal/domain"
)

// BestScoreSource is the source of truth for best scores
type BestScoreSource interface {
	BestScores(ctx context.Context, difficulty domain.Difficulty) (map[string]int, error)
}

// BestScoreSink holds a rebuildable copy of best scores
type BestScoreSink interface {
	ReplaceScores(ctx context.Context, difficulty domain.Difficulty, best map[string]int) error
}

// SyncWorker periodically rebuilds the rank cache from PostgreSQL
type SyncWorker struct {
	source  BestScoreSource
	sink    BestScoreSink
	config  *config.SyncConfig
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	source BestScoreSource,
	sink BestScoreSink,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *SyncWorker {
	return &SyncWorker{
		source: source,
		sink:   sink,
		config: cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start rebuilds once, then keeps rebuilding every interval in the background
func (w *SyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("sync worker started", "interval", w.config.Interval)

	w.RunOnce(ctx)
	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *SyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("sync worker stopped")
	return nil
}

func (w *SyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce rebuilds every difficulty, continuing past individual failures
func (w *SyncWorker) RunOnce(ctx context.Context) {
	startTime := time.Now()
	synced, failed := 0, 0

	for _, d := range domain.Difficulties {
		if err := w.Rebuild(ctx, d); err != nil {
			w.logger.Error("failed to rebuild rank cache", "difficulty", d, "error", err)
			failed++
			continue
		}
		synced++
	}

	w.logger.Info("sync cycle completed",
		"duration", time.Since(startTime),
		"synced", synced,
		"errors", failed,
	)
}

// Rebuild replaces one difficulty's cached best scores with the database's
func (w *SyncWorker) Rebuild(ctx context.Context, difficulty domain.Difficulty) error {
	best, err := w.source.BestScores(ctx, difficulty)
	if err != nil {
		return fmt.Errorf("loading best scores: %w", err)
	}
	if err := w.sink.ReplaceScores(ctx, difficulty, best); err != nil {
		return fmt.Errorf("replacing cached scores: %w", err)
	}

	w.logger.Debug("rebuilt rank cache", "difficulty", difficulty, "player_count", len(best))
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *SyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
