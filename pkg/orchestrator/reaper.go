package orchestrator

import (
	"context"
	"log/slog"
	"time"
)

// Reaper drives ScaleDown on a fixed interval until its context is
// cancelled, logging per-tick errors without stopping the loop.
type Reaper struct {
	orch     *Orchestrator
	logger   *slog.Logger
	interval time.Duration
	onReap   func(reaped []string)
}

// ReaperOption configures a Reaper.
type ReaperOption func(*Reaper)

// WithOnReap registers a callback invoked with the slot IDs reaped on each
// tick that reaped at least one instance. Used to append lifecycle events
// or notifications without coupling the reap loop itself to either.
func WithOnReap(fn func(reaped []string)) ReaperOption {
	return func(r *Reaper) { r.onReap = fn }
}

// NewReaper builds a Reaper that calls ScaleDown every interval.
func NewReaper(orch *Orchestrator, logger *slog.Logger, interval time.Duration, opts ...ReaperOption) *Reaper {
	r := &Reaper{orch: orch, logger: logger, interval: interval}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run blocks, ticking until ctx is cancelled. It runs one pass immediately
// on entry so a freshly started reaper doesn't wait a full interval before
// its first sweep.
func (r *Reaper) Run(ctx context.Context) {
	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reaper) tick(ctx context.Context) {
	reaped, err := r.orch.ScaleDown(ctx)
	if err != nil {
		r.logger.Error("scaleDown failed", "error", err)
		return
	}
	if len(reaped) > 0 {
		r.logger.Info("reaped idle instances", "count", len(reaped), "instances", reaped)
		if r.onReap != nil {
			r.onReap(reaped)
		}
	}
}
