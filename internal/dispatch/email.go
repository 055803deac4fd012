// email.go implements the email channel: a plain-text alert mail to the
// configured security officer address, delivered over SMTP. No officer
// address means the channel is a no-op for every rule that names it.
package dispatch

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/phi-sentinel/phi-sentinel/internal/config"
	"github.com/phi-sentinel/phi-sentinel/internal/db/models"
	"github.com/phi-sentinel/phi-sentinel/internal/engine"
)

// mailFunc sends one composed message. Swappable so tests never open sockets.
type mailFunc func(ctx context.Context, addr string, host string, useTLS bool, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailSender mails alerts to the security officer.
type EmailSender struct {
	cfg  config.EmailConfig
	send mailFunc
}

// NewEmailSender creates an EmailSender.
func NewEmailSender(cfg config.EmailConfig) *EmailSender {
	return &EmailSender{cfg: cfg, send: deliverMail}
}

// Name implements Sender.
func (s *EmailSender) Name() string { return models.ChannelEmail }

// Send implements Sender. The context bounds the whole SMTP session: the
// dial honors cancellation and the connection deadline is taken from the
// context, so a server that stalls mid-session cannot exceed the
// dispatcher's per-channel bound.
func (s *EmailSender) Send(ctx context.Context, alert *engine.Alert) error {
	if s.cfg.OfficerEmail == "" || s.cfg.SMTP.Host == "" {
		return ErrChannelNotConfigured
	}

	subject := fmt.Sprintf("[%s] Security Alert: %s", alert.Rule.Severity, alert.Rule.Name)
	body := strings.Join([]string{
		"A security alert rule has triggered.",
		"",
		fmt.Sprintf("Rule:        %s (%s)", alert.Rule.Name, alert.Rule.ID),
		fmt.Sprintf("Severity:    %s", alert.Rule.Severity),
		fmt.Sprintf("Event count: %d", alert.EventCount),
		"",
		alert.Message,
		"",
		"Review the audit trail for the matching events.",
		"",
		"— phi-sentinel",
	}, "\r\n")

	smtpCfg := s.cfg.SMTP
	headers := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n",
		smtpCfg.From, s.cfg.OfficerEmail, subject,
	)
	msg := []byte(headers + body + "\r\n")

	addr := fmt.Sprintf("%s:%d", smtpCfg.Host, smtpCfg.Port)
	var auth smtp.Auth
	if smtpCfg.Username != "" {
		auth = smtp.PlainAuth("", smtpCfg.Username, smtpCfg.Password, smtpCfg.Host)
	}

	return s.send(ctx, addr, smtpCfg.Host, smtpCfg.UseTLS, auth, smtpCfg.From, []string{s.cfg.OfficerEmail}, msg)
}

// deliverMail dials the SMTP server under the caller's context and runs the
// whole session against its deadline. UseTLS=true means implicit TLS (port
// 465 / SMTPS); otherwise the session upgrades via STARTTLS when the server
// offers it (port 587 pattern).
func deliverMail(ctx context.Context, addr, host string, useTLS bool, auth smtp.Auth, from string, to []string, msg []byte) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	// One deadline covers the whole session, so a server that accepts the
	// connection and then stalls mid-transaction cannot outlive the
	// dispatcher's per-channel budget.
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return fmt.Errorf("smtp set deadline: %w", err)
		}
	}

	tlsConfig := &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}
	if useTLS {
		conn = tls.Client(conn, tlsConfig)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer c.Quit() //nolint:errcheck

	if !useTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	return w.Close()
}
