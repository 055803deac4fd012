// Package rules owns the alert rule catalog: the compiled-in defaults, the
// resolution order applied on every evaluation tick, and the optional
// YAML-file rule source with hot reload.
//
// Resolution order, strongest first:
//
//  1. an explicit override supplied by the caller (the configure action's
//     one-shot evaluation path)
//  2. rules from a configuration store (database table or watched YAML file)
//  3. the built-in default catalog
//
// A failing store never aborts a tick; the loader logs the failure and falls
// back to the defaults. Rule loading is configuration, not business logic.
package rules

import (
	"context"
	"log/slog"

	"github.com/lib/pq"

	"github.com/phi-sentinel/phi-sentinel/internal/db/models"
)

func intPtr(n int) *int { return &n }

// DefaultCatalog returns the built-in rule set. A fresh slice is returned on
// every call so callers can modify their copy without affecting others; the
// engine constructs its working set once per tick.
func DefaultCatalog() []*models.AlertRule {
	return []*models.AlertRule{
		{
			ID:                "failed-logins",
			Name:              "Excessive Failed Logins",
			EventTypes:        pq.StringArray{"LOGIN_FAILED"},
			Threshold:         intPtr(5),
			TimeWindowMinutes: intPtr(15),
			Severity:          models.SeverityWarning,
			Channels:          pq.StringArray{models.ChannelSlack, models.ChannelEmail},
			Enabled:           true,
		},
		{
			ID:                "phi-bulk-export",
			Name:              "Bulk PHI Export",
			EventTypes:        pq.StringArray{"PHI_EXPORT"},
			Threshold:         intPtr(3),
			TimeWindowMinutes: intPtr(60),
			Severity:          models.SeverityCritical,
			Channels:          pq.StringArray{models.ChannelSlack, models.ChannelPagerDuty, models.ChannelEmail},
			Enabled:           true,
		},
		{
			// Evaluated with the after-hours override in the engine: any
			// matching event during off-hours triggers, regardless of count.
			ID:                "after-hours-phi",
			Name:              "After-Hours PHI Access",
			EventTypes:        pq.StringArray{"PHI_ACCESS", "PHI_EXPORT"},
			TimeWindowMinutes: intPtr(60),
			Severity:          models.SeverityWarning,
			Channels:          pq.StringArray{models.ChannelSlack, models.ChannelEmail},
			Enabled:           true,
		},
		{
			ID:         "admin-role-change",
			Name:       "Administrator Role Change",
			EventTypes: pq.StringArray{"ROLE_CHANGE"},
			Severity:   models.SeverityWarning,
			Channels:   pq.StringArray{models.ChannelSlack, models.ChannelEmail},
			Enabled:    true,
		},
		{
			ID:         "emergency-access",
			Name:       "Emergency Access Activated",
			EventTypes: pq.StringArray{"EMERGENCY_ACCESS"},
			Severity:   models.SeverityCritical,
			Channels:   pq.StringArray{models.ChannelSlack, models.ChannelPagerDuty, models.ChannelEmail},
			Enabled:    true,
		},
		{
			// Meta-rule over the engine's own feedback-loop writes: a burst
			// of SECURITY_ALERT records means an alert storm is in progress.
			ID:                "security-alert",
			Name:              "Alert Storm Detected",
			EventTypes:        pq.StringArray{models.EventTypeSecurityAlert},
			Threshold:         intPtr(10),
			TimeWindowMinutes: intPtr(60),
			Severity:          models.SeverityCritical,
			Channels:          pq.StringArray{models.ChannelPagerDuty, models.ChannelEmail},
			Enabled:           true,
		},
		{
			ID:                "rate-limit",
			Name:              "Rate Limit Exceeded",
			EventTypes:        pq.StringArray{"RATE_LIMIT_EXCEEDED"},
			Threshold:         intPtr(10),
			TimeWindowMinutes: intPtr(15),
			Severity:          models.SeverityWarning,
			Channels:          pq.StringArray{models.ChannelSlack},
			Enabled:           true,
		},
	}
}

// Store is the configuration-store source of rule overrides. Implemented by
// the database rule repository; the file watcher provides its own Loader.
type Store interface {
	ListRules(ctx context.Context) ([]*models.AlertRule, error)
}

// Loader resolves the effective rule set for a tick.
type Loader struct {
	store Store
}

// NewLoader creates a Loader backed by the given store. A nil store is valid
// and means "defaults only".
func NewLoader(store Store) *Loader {
	return &Loader{store: store}
}

// Load returns the enabled rules for one evaluation tick, applying the
// resolution order. The returned slice contains only enabled rules.
func (l *Loader) Load(ctx context.Context, override []*models.AlertRule) []*models.AlertRule {
	if len(override) > 0 {
		return enabledOnly(override)
	}

	if l.store != nil {
		stored, err := l.store.ListRules(ctx)
		if err != nil {
			slog.Warn("rule store unavailable, falling back to default catalog", "error", err)
		} else if len(stored) > 0 {
			return enabledOnly(stored)
		}
	}

	return enabledOnly(DefaultCatalog())
}

func enabledOnly(rules []*models.AlertRule) []*models.AlertRule {
	out := make([]*models.AlertRule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}
