package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/phi-sentinel/phi-sentinel/internal/db/models"
	"github.com/phi-sentinel/phi-sentinel/internal/rules"
	"github.com/phi-sentinel/phi-sentinel/internal/telemetry"
)

// Dispatcher fans a triggered alert out to its configured channels. Dispatch
// blocks until every channel attempt settles but never returns an error to
// the tick: channel failures are the dispatcher's problem, not the engine's.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *Alert)
}

// AlertResult is the per-alert entry in a check response.
type AlertResult struct {
	Rule       string `json:"rule"`
	Severity   string `json:"severity"`
	Message    string `json:"message"`
	EventCount int    `json:"event_count"`
}

// CheckSummary is the result of one complete evaluation tick.
type CheckSummary struct {
	Success         bool          `json:"success"`
	CheckedRules    int           `json:"checked_rules"`
	AlertsTriggered int           `json:"alerts_triggered"`
	Alerts          []AlertResult `json:"alerts"`
}

// Engine orchestrates one tick: load rules, evaluate each in isolation,
// dispatch whatever fired, summarize.
type Engine struct {
	loader       *rules.Loader
	evaluator    *Evaluator
	dispatcher   Dispatcher
	queryTimeout time.Duration
}

// New creates an Engine.
func New(loader *rules.Loader, evaluator *Evaluator, dispatcher Dispatcher, queryTimeout time.Duration) *Engine {
	return &Engine{
		loader:       loader,
		evaluator:    evaluator,
		dispatcher:   dispatcher,
		queryTimeout: queryTimeout,
	}
}

// Check runs one evaluation tick. An optional rule override replaces the
// catalog for this invocation only. Per-rule failures are logged and counted
// but never abort the tick; Check only returns an error when the invoking
// context is done before evaluation could complete.
func (e *Engine) Check(ctx context.Context, override []*models.AlertRule) (*CheckSummary, error) {
	start := time.Now()
	ruleSet := e.loader.Load(ctx, override)

	summary := &CheckSummary{
		Success:      true,
		CheckedRules: len(ruleSet),
		Alerts:       make([]AlertResult, 0),
	}

	for _, rule := range ruleSet {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		alert, err := e.evaluateWithTimeout(ctx, rule)
		if err != nil {
			slog.Error("rule evaluation failed, continuing with remaining rules",
				"rule", rule.ID, "error", err)
			telemetry.RuleEvaluationErrorsTotal.WithLabelValues(rule.ID).Inc()
			continue
		}
		if alert == nil {
			continue
		}

		slog.Info("alert triggered",
			"rule", rule.ID, "severity", rule.Severity, "event_count", alert.EventCount)
		telemetry.AlertsTriggeredTotal.WithLabelValues(rule.ID, rule.Severity).Inc()

		e.dispatcher.Dispatch(ctx, alert)

		summary.AlertsTriggered++
		summary.Alerts = append(summary.Alerts, AlertResult{
			Rule:       rule.Name,
			Severity:   rule.Severity,
			Message:    alert.Message,
			EventCount: alert.EventCount,
		})
	}

	telemetry.RuleChecksTotal.Inc()
	telemetry.TickDuration.Observe(time.Since(start).Seconds())
	return summary, nil
}

func (e *Engine) evaluateWithTimeout(ctx context.Context, rule *models.AlertRule) (*Alert, error) {
	qctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()
	return e.evaluator.Evaluate(qctx, rule)
}
