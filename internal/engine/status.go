package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/phi-sentinel/phi-sentinel/internal/db/models"
)

// Status classification labels.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// warningStatusThreshold is the WARNING-event count above which the rolling
// 24-hour window is classified "warning" rather than "healthy".
const warningStatusThreshold = 5

// SeverityCounter aggregates audit events by severity over a window.
// Implemented by the audit event repository.
type SeverityCounter interface {
	CountEventsBySeveritySince(ctx context.Context, since time.Time) (map[string]int, error)
}

// Last24hCounts breaks down the rolling 24-hour event window.
type Last24hCounts struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
}

// StatusSummary is the status action's response: a read-only aggregate of the
// last 24 hours, independent of the dispatch path, suitable for a liveness
// probe.
type StatusSummary struct {
	Status      string        `json:"status"`
	RulesActive int           `json:"rules_active"`
	Last24h     Last24hCounts `json:"last_24h"`
}

// StatusReporter classifies recent audit activity.
type StatusReporter struct {
	counter   SeverityCounter
	loadRules func(ctx context.Context) []*models.AlertRule
	now       func() time.Time
}

// NewStatusReporter creates a StatusReporter. loadRules supplies the active
// rule set (typically rules.Loader.Load with a nil override). nowFn may be
// nil, in which case time.Now is used.
func NewStatusReporter(counter SeverityCounter, loadRules func(ctx context.Context) []*models.AlertRule, nowFn func() time.Time) *StatusReporter {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &StatusReporter{
		counter:   counter,
		loadRules: loadRules,
		now:       nowFn,
	}
}

// Report computes the current status. Classification: critical if any
// CRITICAL event occurred in the last 24 hours; else warning if more than
// five WARNING events; else healthy.
func (s *StatusReporter) Report(ctx context.Context) (*StatusSummary, error) {
	since := s.now().Add(-24 * time.Hour)
	counts, err := s.counter.CountEventsBySeveritySince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("count events by severity: %w", err)
	}

	last24h := Last24hCounts{
		Critical: counts[models.SeverityCritical],
		Warning:  counts[models.SeverityWarning],
	}
	for _, n := range counts {
		last24h.Total += n
	}

	status := StatusHealthy
	switch {
	case last24h.Critical > 0:
		status = StatusCritical
	case last24h.Warning > warningStatusThreshold:
		status = StatusWarning
	}

	return &StatusSummary{
		Status:      status,
		RulesActive: len(s.loadRules(ctx)),
		Last24h:     last24h,
	}, nil
}
