package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/phi-sentinel/phi-sentinel/internal/db/models"
	"github.com/phi-sentinel/phi-sentinel/internal/engine"
	"github.com/phi-sentinel/phi-sentinel/internal/telemetry"
)

// Dispatch outcome labels used in metrics and logs.
const (
	outcomeSent    = "sent"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// FeedbackWriter appends the SECURITY_ALERT record documenting a dispatched
// alert. Implemented by the audit event repository.
type FeedbackWriter interface {
	InsertEvent(ctx context.Context, event *models.AuditEvent) error
}

// Dispatcher fans one alert out to its rule's channels concurrently, waits
// for every attempt to settle, then writes the feedback record. It
// implements engine.Dispatcher.
type Dispatcher struct {
	registry    *Registry
	feedback    FeedbackWriter
	sendTimeout time.Duration
}

// NewDispatcher creates a Dispatcher. feedback may be nil, in which case the
// SECURITY_ALERT write-back is disabled (tests, dry runs).
func NewDispatcher(registry *Registry, feedback FeedbackWriter, sendTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		feedback:    feedback,
		sendTimeout: sendTimeout,
	}
}

// Dispatch delivers the alert to every channel its rule names. All sends run
// concurrently and every attempt settles independently: one channel's error
// or timeout never cancels another's delivery. Failures are logged and
// counted, never returned — the tick's caller always gets a summary, not a
// transport error.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *engine.Alert) {
	var wg sync.WaitGroup
	for _, name := range alert.Rule.Channels {
		sender, found := d.registry.Get(name)
		if !found {
			slog.Warn("no sender registered for channel, skipping",
				"channel", name, "rule", alert.Rule.ID)
			telemetry.DispatchesTotal.WithLabelValues(name, outcomeSkipped).Inc()
			continue
		}

		wg.Add(1)
		go func(sender Sender) {
			defer wg.Done()
			d.send(ctx, sender, alert)
		}(sender)
	}
	wg.Wait()

	d.writeFeedback(ctx, alert)
}

// send performs one bounded delivery attempt and records its outcome.
func (d *Dispatcher) send(ctx context.Context, sender Sender, alert *engine.Alert) {
	sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	start := time.Now()
	err := sender.Send(sctx, alert)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		slog.Info("alert delivered",
			"channel", sender.Name(), "rule", alert.Rule.ID, "elapsed", elapsed)
		telemetry.DispatchesTotal.WithLabelValues(sender.Name(), outcomeSent).Inc()
		telemetry.DispatchDuration.WithLabelValues(sender.Name()).Observe(elapsed.Seconds())
	case errors.Is(err, ErrChannelNotConfigured):
		slog.Debug("channel not configured, skipping",
			"channel", sender.Name(), "rule", alert.Rule.ID)
		telemetry.DispatchesTotal.WithLabelValues(sender.Name(), outcomeSkipped).Inc()
	default:
		slog.Error("alert delivery failed",
			"channel", sender.Name(), "rule", alert.Rule.ID, "error", err)
		telemetry.DispatchesTotal.WithLabelValues(sender.Name(), outcomeFailed).Inc()
		telemetry.DispatchDuration.WithLabelValues(sender.Name()).Observe(elapsed.Seconds())
	}
}

// writeFeedback echoes the dispatched alert back into the audit store as a
// SECURITY_ALERT event, closing the loop that lets the alert-storm meta-rule
// observe the engine's own output. Best-effort: a failed write is logged and
// nothing else.
func (d *Dispatcher) writeFeedback(ctx context.Context, alert *engine.Alert) {
	if d.feedback == nil {
		return
	}

	event := &models.AuditEvent{
		EventType: models.EventTypeSecurityAlert,
		Severity:  alert.Rule.Severity,
		Details: models.JSONMap{
			"rule_id":     alert.Rule.ID,
			"message":     alert.Message,
			"event_count": alert.EventCount,
			"channels":    []string(alert.Rule.Channels),
		},
	}
	if err := d.feedback.InsertEvent(ctx, event); err != nil {
		slog.Error("failed to write security alert feedback event",
			"rule", alert.Rule.ID, "error", err)
	}
}
