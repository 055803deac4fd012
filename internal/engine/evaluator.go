// Package engine implements the rule evaluation core: sliding-window threshold
// counting, immediate-trigger detection with a recency filter, the after-hours
// override, and the per-tick orchestration that keeps one rule's failure from
// touching any other rule.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phi-sentinel/phi-sentinel/internal/db/models"
)

// AfterHoursRuleID is the single rule evaluated with the after-hours override
// instead of the generic immediate-trigger path.
const AfterHoursRuleID = "after-hours-phi"

// EventSource is the sole read path into the audit store. Events are returned
// newest first.
type EventSource interface {
	FindEventsByTypesSince(ctx context.Context, eventTypes []string, since time.Time) ([]*models.AuditEvent, error)
}

// Alert is the ephemeral output of one triggered rule in one tick. Events
// holds a bounded evidence sample: the first `threshold` events for threshold
// rules, the new events for immediate rules. EventCount is the full matching
// count, which for threshold rules can exceed len(Events).
type Alert struct {
	Rule       *models.AlertRule
	Events     []*models.AuditEvent
	EventCount int
	Message    string
}

// EvaluatorConfig carries the tunables the evaluator needs from the engine
// configuration.
type EvaluatorConfig struct {
	// DefaultWindowMinutes applies when a rule has no explicit window.
	DefaultWindowMinutes int
	// RecencyWindow bounds the "new since last tick" filter for immediate rules.
	RecencyWindow time.Duration
	// Location is the timezone the after-hours predicate evaluates wall-clock
	// hours in.
	Location *time.Location
	// AfterHoursStartHour / AfterHoursEndHour delimit the business day: hours
	// at/after start or before end are after-hours.
	AfterHoursStartHour int
	AfterHoursEndHour   int
}

// Evaluator applies a single rule to the audit stream. It holds no mutable
// state; the injected clock exists so tests can pin wall-clock time.
type Evaluator struct {
	source EventSource
	cfg    EvaluatorConfig
	now    func() time.Time
}

// NewEvaluator creates an Evaluator. nowFn may be nil, in which case
// time.Now is used.
func NewEvaluator(source EventSource, cfg EvaluatorConfig, nowFn func() time.Time) *Evaluator {
	if nowFn == nil {
		nowFn = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Evaluator{source: source, cfg: cfg, now: nowFn}
}

// Evaluate applies one rule and returns a non-nil Alert if it triggered.
// A nil Alert with a nil error means the rule simply did not fire.
func (e *Evaluator) Evaluate(ctx context.Context, rule *models.AlertRule) (*Alert, error) {
	now := e.now()
	since := now.Add(-rule.Window(e.cfg.DefaultWindowMinutes))

	events, err := e.source.FindEventsByTypesSince(ctx, rule.EventTypes, since)
	if err != nil {
		return nil, fmt.Errorf("query events for rule %q: %w", rule.ID, err)
	}

	if rule.ID == AfterHoursRuleID && !rule.IsThresholdRule() {
		return e.evaluateAfterHours(rule, events, now), nil
	}
	if rule.IsThresholdRule() {
		return e.evaluateThreshold(rule, events), nil
	}
	return e.evaluateImmediate(rule, events, now), nil
}

// evaluateThreshold fires when the matching-event count within the window
// meets or exceeds the rule's threshold. The evidence sample is capped at the
// threshold; the count reported is the full window count.
func (e *Evaluator) evaluateThreshold(rule *models.AlertRule, events []*models.AuditEvent) *Alert {
	count := len(events)
	if count < *rule.Threshold {
		return nil
	}
	evidence := events
	if len(evidence) > *rule.Threshold {
		evidence = evidence[:*rule.Threshold]
	}
	return &Alert{
		Rule:       rule,
		Events:     evidence,
		EventCount: count,
		Message: fmt.Sprintf("Threshold exceeded: %d events in the last %d minutes (threshold: %d)",
			count, rule.WindowMinutes(e.cfg.DefaultWindowMinutes), *rule.Threshold),
	}
}

// evaluateImmediate fires on any event newer than the recency window. The
// wider rule window only bounds the query; without the recency filter the
// same event would re-trigger the rule on every tick for an hour.
func (e *Evaluator) evaluateImmediate(rule *models.AlertRule, events []*models.AuditEvent, now time.Time) *Alert {
	cutoff := now.Add(-e.cfg.RecencyWindow)
	fresh := make([]*models.AuditEvent, 0, len(events))
	for _, ev := range events {
		if !ev.CreatedAt.Before(cutoff) {
			fresh = append(fresh, ev)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	return &Alert{
		Rule:       rule,
		Events:     fresh,
		EventCount: len(fresh),
		Message:    immediateMessage(rule, len(fresh)),
	}
}

// evaluateAfterHours implements the policy override for the after-hours rule:
// during off-hours any matching event in the window triggers, with no recency
// dedup and no threshold. During business hours the rule never fires — the
// same access is considered routine then.
func (e *Evaluator) evaluateAfterHours(rule *models.AlertRule, events []*models.AuditEvent, now time.Time) *Alert {
	if !e.IsAfterHours(now) || len(events) == 0 {
		return nil
	}
	return &Alert{
		Rule:       rule,
		Events:     events,
		EventCount: len(events),
		Message:    immediateMessage(rule, len(events)),
	}
}

// IsAfterHours reports whether t falls outside business hours in the
// configured timezone.
func (e *Evaluator) IsAfterHours(t time.Time) bool {
	hour := t.In(e.cfg.Location).Hour()
	return hour >= e.cfg.AfterHoursStartHour || hour < e.cfg.AfterHoursEndHour
}

func immediateMessage(rule *models.AlertRule, count int) string {
	return fmt.Sprintf("%d %s event(s) detected", count, strings.Join(rule.EventTypes, "/"))
}
