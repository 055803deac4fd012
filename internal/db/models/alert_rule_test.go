package models

import (
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
)

func intPtr(n int) *int { return &n }

// ---------------------------------------------------------------------------
// AlertRule.IsThresholdRule / Window / WindowMinutes
// ---------------------------------------------------------------------------

func TestAlertRule_IsThresholdRule(t *testing.T) {
	threshold := &AlertRule{Threshold: intPtr(5)}
	if !threshold.IsThresholdRule() {
		t.Error("IsThresholdRule() should be true when Threshold is set")
	}
	immediate := &AlertRule{}
	if immediate.IsThresholdRule() {
		t.Error("IsThresholdRule() should be false when Threshold is nil")
	}
}

func TestAlertRule_Window_Explicit(t *testing.T) {
	r := &AlertRule{TimeWindowMinutes: intPtr(15)}
	if got := r.Window(60); got != 15*time.Minute {
		t.Errorf("Window(60) = %v, want 15m", got)
	}
	if got := r.WindowMinutes(60); got != 15 {
		t.Errorf("WindowMinutes(60) = %d, want 15", got)
	}
}

func TestAlertRule_Window_Default(t *testing.T) {
	r := &AlertRule{}
	if got := r.Window(60); got != time.Hour {
		t.Errorf("Window(60) = %v, want 1h", got)
	}
	if got := r.WindowMinutes(60); got != 60 {
		t.Errorf("WindowMinutes(60) = %d, want 60", got)
	}
}

// ---------------------------------------------------------------------------
// AlertRule.Validate
// ---------------------------------------------------------------------------

func validRule() *AlertRule {
	return &AlertRule{
		ID:                "failed-logins",
		Name:              "Excessive Failed Logins",
		EventTypes:        pq.StringArray{"LOGIN_FAILED"},
		Threshold:         intPtr(5),
		TimeWindowMinutes: intPtr(15),
		Severity:          SeverityWarning,
		Channels:          pq.StringArray{ChannelSlack, ChannelEmail},
		Enabled:           true,
	}
}

func TestAlertRule_Validate_Success(t *testing.T) {
	if err := validRule().Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAlertRule_Validate_ImmediateRule(t *testing.T) {
	r := validRule()
	r.Threshold = nil
	r.TimeWindowMinutes = nil
	if err := r.Validate(); err != nil {
		t.Errorf("immediate rule (nil threshold and window) should be valid: %v", err)
	}
}

func TestAlertRule_Validate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AlertRule)
		wantSub string
	}{
		{"empty id", func(r *AlertRule) { r.ID = "" }, "id is required"},
		{"empty name", func(r *AlertRule) { r.Name = "" }, "name is required"},
		{"no event types", func(r *AlertRule) { r.EventTypes = nil }, "event type"},
		{"zero threshold", func(r *AlertRule) { r.Threshold = intPtr(0) }, "threshold"},
		{"zero window", func(r *AlertRule) { r.TimeWindowMinutes = intPtr(0) }, "time_window_minutes"},
		{"bad severity", func(r *AlertRule) { r.Severity = "FATAL" }, "invalid severity"},
		{"unknown channel", func(r *AlertRule) { r.Channels = pq.StringArray{"pigeon"} }, "unknown channel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(r)
			err := r.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %q, want substring %q", err, tt.wantSub)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// JSONMap Value / Scan round trip
// ---------------------------------------------------------------------------

func TestJSONMap_Value_Nil(t *testing.T) {
	var m JSONMap
	v, err := m.Value()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(v.([]byte)) != "{}" {
		t.Errorf("nil JSONMap value = %s, want {}", v)
	}
}

func TestJSONMap_ScanBytes(t *testing.T) {
	var m JSONMap
	if err := m.Scan([]byte(`{"rule_id":"failed-logins","event_count":7}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["rule_id"] != "failed-logins" {
		t.Errorf("rule_id = %v, want failed-logins", m["rule_id"])
	}
	if m["event_count"] != float64(7) {
		t.Errorf("event_count = %v, want 7", m["event_count"])
	}
}

func TestJSONMap_ScanNil(t *testing.T) {
	m := JSONMap{"stale": true}
	if err := m.Scan(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Errorf("Scan(nil) should reset the map, got %v", m)
	}
}

func TestJSONMap_ScanUnsupportedType(t *testing.T) {
	var m JSONMap
	if err := m.Scan(42); err == nil {
		t.Error("expected error scanning int, got nil")
	}
}
