// Package models - alert_rule.go defines the AlertRule model describing when the
// engine should raise an alert and where to send it. Rules come in two shapes:
// threshold rules (N matching events within a sliding window) and immediate rules
// (any new matching event, deduplicated by recency).
package models

import (
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Notification channel identifiers a rule may name.
const (
	ChannelSlack     = "slack"
	ChannelPagerDuty = "pagerduty"
	ChannelEmail     = "email"
	ChannelWebhook   = "webhook"
)

// AlertRule represents one row in the alert_rules table, or one entry in the
// compiled-in default catalog.
type AlertRule struct {
	ID         string         `json:"id" db:"id"`
	Name       string         `json:"name" db:"name"`
	EventTypes pq.StringArray `json:"event_types" db:"event_types"`
	// Threshold, when set, makes this a threshold rule: the rule fires when at
	// least Threshold matching events fall inside the sliding window. When nil
	// the rule is immediate: any new matching event fires it.
	Threshold *int `json:"threshold,omitempty" db:"threshold"`
	// TimeWindowMinutes bounds the sliding window. Nil means the engine's
	// configured default window applies.
	TimeWindowMinutes *int           `json:"time_window_minutes,omitempty" db:"time_window_minutes"`
	Severity          string         `json:"severity" db:"severity"` // CRITICAL | WARNING | INFO
	Channels          pq.StringArray `json:"channels" db:"channels"`
	Enabled           bool           `json:"enabled" db:"enabled"`
	UpdatedAt         time.Time      `json:"updated_at,omitempty" db:"updated_at"`
}

// IsThresholdRule reports whether the rule fires on an event count rather than
// on any single new event.
func (r *AlertRule) IsThresholdRule() bool {
	return r.Threshold != nil
}

// Window returns the rule's sliding-window duration, falling back to
// defaultMinutes when the rule does not specify one.
func (r *AlertRule) Window(defaultMinutes int) time.Duration {
	minutes := defaultMinutes
	if r.TimeWindowMinutes != nil {
		minutes = *r.TimeWindowMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// WindowMinutes returns the window length in whole minutes, falling back to
// defaultMinutes. Used for message formatting, which reports minutes.
func (r *AlertRule) WindowMinutes(defaultMinutes int) int {
	if r.TimeWindowMinutes != nil {
		return *r.TimeWindowMinutes
	}
	return defaultMinutes
}

// Validate checks the rule definition is internally consistent. It is applied
// to rules arriving via the configure action before they are persisted.
func (r *AlertRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("rule %q: name is required", r.ID)
	}
	if len(r.EventTypes) == 0 {
		return fmt.Errorf("rule %q: at least one event type is required", r.ID)
	}
	if r.Threshold != nil && *r.Threshold < 1 {
		return fmt.Errorf("rule %q: threshold must be at least 1, got %d", r.ID, *r.Threshold)
	}
	if r.TimeWindowMinutes != nil && *r.TimeWindowMinutes < 1 {
		return fmt.Errorf("rule %q: time_window_minutes must be at least 1, got %d", r.ID, *r.TimeWindowMinutes)
	}
	switch r.Severity {
	case SeverityCritical, SeverityWarning, SeverityInfo:
	default:
		return fmt.Errorf("rule %q: invalid severity %q", r.ID, r.Severity)
	}
	valid := map[string]bool{
		ChannelSlack:     true,
		ChannelPagerDuty: true,
		ChannelEmail:     true,
		ChannelWebhook:   true,
	}
	for _, ch := range r.Channels {
		if !valid[ch] {
			return fmt.Errorf("rule %q: unknown channel %q", r.ID, ch)
		}
	}
	return nil
}
