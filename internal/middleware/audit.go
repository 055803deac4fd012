// audit.go provides Gin middleware that records security-relevant API
// activity back into the audit event stream the engine itself evaluates:
// rejected credentials become LOGIN_FAILED events and rule reconfigurations
// become CONFIG_CHANGED events, so the service's own surface is covered by
// the same rules as the systems it watches.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/phi-sentinel/phi-sentinel/internal/db/models"
	"github.com/phi-sentinel/phi-sentinel/internal/safego"
)

// Self-audit event types.
const (
	EventTypeLoginFailed   = "LOGIN_FAILED"
	EventTypeConfigChanged = "CONFIG_CHANGED"
)

// EventWriter appends one audit event. Implemented by the audit event
// repository.
type EventWriter interface {
	InsertEvent(ctx context.Context, event *models.AuditEvent) error
}

// AuditMiddleware records self-audit events after the handler runs. Writes
// are asynchronous so audit persistence never adds latency to the request
// path; a failed write is logged and dropped.
func AuditMiddleware(writer EventWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if writer == nil || c.Request.Method == http.MethodOptions {
			return
		}

		event := selfAuditEvent(c)
		if event == nil {
			return
		}

		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := writer.InsertEvent(ctx, event); err != nil {
				slog.Error("failed to write self-audit event",
					"event_type", event.EventType, "error", err)
			}
		})
	}
}

// selfAuditEvent maps a completed request to the audit event it should leave
// behind, or nil when the request is not audit-relevant.
func selfAuditEvent(c *gin.Context) *models.AuditEvent {
	status := c.Writer.Status()
	ip := c.ClientIP()

	if status == http.StatusUnauthorized {
		return &models.AuditEvent{
			EventType: EventTypeLoginFailed,
			Severity:  models.SeverityWarning,
			IPAddress: &ip,
			Details: models.JSONMap{
				"path":        c.Request.URL.Path,
				"method":      c.Request.Method,
				"status_code": status,
			},
		}
	}

	// Successful rule reconfiguration by an authenticated caller.
	if c.GetString("alert_action") == "configure" && status >= 200 && status < 300 {
		event := &models.AuditEvent{
			EventType: EventTypeConfigChanged,
			Severity:  models.SeverityInfo,
			IPAddress: &ip,
			Details: models.JSONMap{
				"path":        c.Request.URL.Path,
				"status_code": status,
			},
		}
		if subject := c.GetString(AuthSubjectKey); subject != "" {
			event.Actor = &subject
			event.Details["auth_method"] = c.GetString(AuthMethodKey)
		}
		return event
	}

	return nil
}
