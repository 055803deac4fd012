// webhook.go implements the generic webhook channel: a JSON POST carrying the
// alert, its rule, and a truncated event sample, optionally signed with an
// HMAC-SHA256 header so receivers can authenticate the sender.
package dispatch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/phi-sentinel/phi-sentinel/internal/config"
	"github.com/phi-sentinel/phi-sentinel/internal/db/models"
	"github.com/phi-sentinel/phi-sentinel/internal/engine"
)

// webhookMaxEvents bounds the payload size: only the first N events ride
// along, however many matched.
const webhookMaxEvents = 10

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the request body
// when a signing secret is configured.
const SignatureHeader = "X-Sentinel-Signature"

type webhookRule struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Severity string `json:"severity"`
}

type webhookPayload struct {
	Type       string               `json:"type"`
	Rule       webhookRule          `json:"rule"`
	Message    string               `json:"message"`
	EventCount int                  `json:"event_count"`
	Events     []*models.AuditEvent `json:"events"`
	Timestamp  time.Time            `json:"timestamp"`
}

// WebhookSender posts alerts to a configured generic endpoint.
type WebhookSender struct {
	cfg    config.WebhookConfig
	client *http.Client
	now    func() time.Time
}

// NewWebhookSender creates a WebhookSender. client may be nil, in which case
// http.DefaultClient is used.
func NewWebhookSender(cfg config.WebhookConfig, client *http.Client) *WebhookSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookSender{cfg: cfg, client: client, now: time.Now}
}

// Name implements Sender.
func (s *WebhookSender) Name() string { return models.ChannelWebhook }

// Send implements Sender.
func (s *WebhookSender) Send(ctx context.Context, alert *engine.Alert) error {
	if s.cfg.URL == "" {
		return ErrChannelNotConfigured
	}

	events := alert.Events
	if len(events) > webhookMaxEvents {
		events = events[:webhookMaxEvents]
	}

	payload := webhookPayload{
		Type: "security_alert",
		Rule: webhookRule{
			ID:       alert.Rule.ID,
			Name:     alert.Rule.Name,
			Severity: alert.Rule.Severity,
		},
		Message:    alert.Message,
		EventCount: alert.EventCount,
		Events:     events,
		Timestamp:  s.now().UTC(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}
	if s.cfg.SigningSecret != "" {
		req.Header.Set(SignatureHeader, sign(body, s.cfg.SigningSecret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
