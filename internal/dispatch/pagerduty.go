// pagerduty.go implements the PagerDuty channel via the Events API v2
// "trigger" action. The wire format is PagerDuty's fixed contract.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/phi-sentinel/phi-sentinel/internal/config"
	"github.com/phi-sentinel/phi-sentinel/internal/db/models"
	"github.com/phi-sentinel/phi-sentinel/internal/engine"
)

type pagerDutyPayload struct {
	Summary       string                 `json:"summary"`
	Source        string                 `json:"source"`
	Severity      string                 `json:"severity"`
	CustomDetails map[string]interface{} `json:"custom_details,omitempty"`
}

type pagerDutyEvent struct {
	RoutingKey  string           `json:"routing_key"`
	EventAction string           `json:"event_action"`
	Payload     pagerDutyPayload `json:"payload"`
}

// PagerDutySender triggers PagerDuty incidents for alerts.
type PagerDutySender struct {
	cfg    config.PagerDutyConfig
	client *http.Client
}

// NewPagerDutySender creates a PagerDutySender. client may be nil, in which
// case http.DefaultClient is used.
func NewPagerDutySender(cfg config.PagerDutyConfig, client *http.Client) *PagerDutySender {
	if client == nil {
		client = http.DefaultClient
	}
	return &PagerDutySender{cfg: cfg, client: client}
}

// Name implements Sender.
func (s *PagerDutySender) Name() string { return models.ChannelPagerDuty }

// Send implements Sender.
func (s *PagerDutySender) Send(ctx context.Context, alert *engine.Alert) error {
	if s.cfg.RoutingKey == "" {
		return ErrChannelNotConfigured
	}

	event := pagerDutyEvent{
		RoutingKey:  s.cfg.RoutingKey,
		EventAction: "trigger",
		Payload: pagerDutyPayload{
			Summary:  fmt.Sprintf("%s: %s", alert.Rule.Name, alert.Message),
			Source:   "phi-sentinel",
			Severity: pagerDutySeverity(alert.Rule.Severity),
			CustomDetails: map[string]interface{}{
				"rule_id":     alert.Rule.ID,
				"event_count": alert.EventCount,
			},
		},
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal pagerduty event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create pagerduty request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to pagerduty: %w", err)
	}
	defer resp.Body.Close()

	// The Events API returns 202 on success
	if resp.StatusCode >= 400 {
		return fmt.Errorf("pagerduty returned status %d", resp.StatusCode)
	}
	return nil
}

// pagerDutySeverity maps rule severities onto the Events API's fixed set.
func pagerDutySeverity(severity string) string {
	switch severity {
	case models.SeverityCritical:
		return "critical"
	case models.SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}
