package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// JanitorConfig holds janitor settings.
type JanitorConfig struct {
	Interval     time.Duration // Sweep interval (default: 10m)
	RecordMaxAge time.Duration // Max record age before pruning (default: 24h)
	SweepTimeout time.Duration // Per-sweep timeout (default: 30s)
}

// DefaultJanitorConfig returns sensible defaults.
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Interval:     10 * time.Minute,
		RecordMaxAge: 24 * time.Hour,
		SweepTimeout: 30 * time.Second,
	}
}

// Janitor periodically prunes connection records for services that have
// stopped reporting, so observability data self-heals after a crash or
// leak. It runs off the hot path.
type Janitor struct {
	cfg    JanitorConfig
	store  Store
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJanitor creates a store janitor.
func NewJanitor(cfg JanitorConfig, store Store, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		cfg:    cfg,
		store:  store,
		logger: logger,
	}
}

// Start begins the sweep loop.
func (j *Janitor) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)

	j.wg.Add(1)
	go j.run()

	j.logger.Info("store janitor started",
		"interval", j.cfg.Interval,
		"record_max_age", j.cfg.RecordMaxAge,
	)
	return nil
}

// Stop gracefully shuts down the janitor.
func (j *Janitor) Stop(ctx context.Context) error {
	if j.cancel != nil {
		j.cancel()
	}

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		j.logger.Info("store janitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main sweep loop.
func (j *Janitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

// sweep runs a single prune pass.
func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(j.ctx, j.cfg.SweepTimeout)
	defer cancel()

	start := time.Now()
	removed, err := j.store.PruneStale(ctx, j.cfg.RecordMaxAge)
	if err != nil {
		j.logger.Warn("prune sweep failed", "err", err)
		return
	}

	if removed > 0 {
		j.logger.Info("prune sweep complete",
			"removed", removed,
			"duration", time.Since(start),
		)
	} else {
		j.logger.Debug("prune sweep complete", "duration", time.Since(start))
	}
}
