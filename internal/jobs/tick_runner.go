// Package jobs holds optional background loops. The alert engine is normally
// externally triggered (cron or a scheduler POSTing a check action); the tick
// runner exists for deployments without one.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/phi-sentinel/phi-sentinel/internal/db/models"
	"github.com/phi-sentinel/phi-sentinel/internal/engine"
	"github.com/phi-sentinel/phi-sentinel/internal/safego"
)

// Checker runs one evaluation tick. Implemented by engine.Engine.
type Checker interface {
	Check(ctx context.Context, override []*models.AlertRule) (*engine.CheckSummary, error)
}

// TickRunner periodically runs a full rule check against the active catalog.
type TickRunner struct {
	checker  Checker
	interval time.Duration
	stopChan chan struct{}
}

// NewTickRunner creates a TickRunner. interval must be positive; the caller
// decides whether to start it at all.
func NewTickRunner(checker Checker, interval time.Duration) *TickRunner {
	return &TickRunner{
		checker:  checker,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start launches the background tick loop. The first check runs after one
// full interval, not immediately: a deploy restarting every replica should
// not stampede the audit store.
// The loop exits when ctx is cancelled or Stop() is called.
func (r *TickRunner) Start(ctx context.Context) {
	safego.Go(func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		slog.Info("tick runner started", "interval", r.interval)

		for {
			select {
			case <-ticker.C:
				r.runCheck(ctx)
			case <-r.stopChan:
				slog.Info("tick runner stopped")
				return
			case <-ctx.Done():
				slog.Info("tick runner context cancelled")
				return
			}
		}
	})
}

// Stop signals the background loop to exit.
func (r *TickRunner) Stop() {
	close(r.stopChan)
}

// runCheck performs one tick. Errors are logged, never fatal: the next tick
// gets a fresh chance.
func (r *TickRunner) runCheck(ctx context.Context) {
	summary, err := r.checker.Check(ctx, nil)
	if err != nil {
		slog.Error("scheduled rule check failed", "error", err)
		return
	}
	if summary.AlertsTriggered > 0 {
		slog.Info("scheduled rule check completed",
			"checked_rules", summary.CheckedRules,
			"alerts_triggered", summary.AlertsTriggered)
	}
}
