// slack.go implements the Slack channel: a single incoming-webhook POST with
// a severity-colored attachment.
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

// Attachment colors by severity.
const (
	slackColorCritical = "#d32f2f"
	slackColorWarning  = "#f9a825"
	slackColorInfo     = "#1976d2"
)

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields"`
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

// SlackSender posts alerts to a Slack incoming webhook.
type SlackSender struct {
	cfg    config.SlackConfig
	client *http.Client
}

// NewSlackSender creates a SlackSender. client may be nil, in which case
// http.DefaultClient is used; per-send timeouts come from the dispatcher's
// context.
func NewSlackSender(cfg config.SlackConfig, client *http.Client) *SlackSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &SlackSender{cfg: cfg, client: client}
}

// Name implements Sender.
func (s *SlackSender) Name() string { return models.ChannelSlack }

// Send implements Sender.
func (s *SlackSender) Send(ctx context.Context, alert *engine.Alert) error {
	if s.cfg.WebhookURL == "" {
		return ErrChannelNotConfigured
	}

	payload := slackPayload{
		Channel:  s.cfg.Channel,
		Username: s.cfg.Username,
		Attachments: []slackAttachment{{
			Color: slackColor(alert.Rule.Severity),
			Title: alert.Rule.Name,
			Text:  alert.Message,
			Fields: []slackField{
				{Title: "Severity", Value: alert.Rule.Severity, Short: true},
				{Title: "Event Count", Value: fmt.Sprintf("%d", alert.EventCount), Short: true},
			},
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

func slackColor(severity string) string {
	switch severity {
	case models.SeverityCritical:
		return slackColorCritical
	case models.SeverityWarning:
		return slackColorWarning
	default:
		return slackColorInfo
	}
}
