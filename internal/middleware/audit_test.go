package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/phi-sentinel/phi-sentinel/internal/db/models"
)

// memoryEventWriter collects inserted events for assertion. Writes happen on
// a background goroutine, so access is mutex-guarded and tests poll.
type memoryEventWriter struct {
	mu     sync.Mutex
	events []*models.AuditEvent
	err    error
}

func (w *memoryEventWriter) InsertEvent(_ context.Context, event *models.AuditEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.events = append(w.events, event)
	return nil
}

func (w *memoryEventWriter) snapshot() []*models.AuditEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*models.AuditEvent, len(w.events))
	copy(out, w.events)
	return out
}

// waitForEvents polls until the writer holds n events or the deadline passes.
func waitForEvents(t *testing.T, w *memoryEventWriter, n int) []*models.AuditEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events := w.snapshot(); len(events) >= n {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d audit events, have %d", n, len(w.snapshot()))
	return nil
}

func newAuditRouter(writer EventWriter, handler gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.POST("/v1/alerts", AuditMiddleware(writer), handler)
	return r
}

// ---------------------------------------------------------------------------
// AuditMiddleware tests
// ---------------------------------------------------------------------------

func TestAuditMiddleware_RecordsUnauthorizedAsLoginFailed(t *testing.T) {
	writer := &memoryEventWriter{}
	r := newAuditRouter(writer, func(c *gin.Context) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/alerts", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	events := waitForEvents(t, writer, 1)
	event := events[0]
	if event.EventType != EventTypeLoginFailed {
		t.Errorf("EventType = %q, want %q", event.EventType, EventTypeLoginFailed)
	}
	if event.Severity != models.SeverityWarning {
		t.Errorf("Severity = %q, want WARNING", event.Severity)
	}
	if event.IPAddress == nil || *event.IPAddress == "" {
		t.Error("expected IPAddress to be set")
	}
	if event.Details["path"] != "/v1/alerts" {
		t.Errorf("Details[path] = %v, want /v1/alerts", event.Details["path"])
	}
}

func TestAuditMiddleware_RecordsConfigureAsConfigChanged(t *testing.T) {
	writer := &memoryEventWriter{}
	r := newAuditRouter(writer, func(c *gin.Context) {
		c.Set("alert_action", "configure")
		c.Set(AuthSubjectKey, "operator")
		c.Set(AuthMethodKey, "token")
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/alerts", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	events := waitForEvents(t, writer, 1)
	event := events[0]
	if event.EventType != EventTypeConfigChanged {
		t.Errorf("EventType = %q, want %q", event.EventType, EventTypeConfigChanged)
	}
	if event.Severity != models.SeverityInfo {
		t.Errorf("Severity = %q, want INFO", event.Severity)
	}
	if event.Actor == nil || *event.Actor != "operator" {
		t.Errorf("Actor = %v, want operator", event.Actor)
	}
	if event.Details["auth_method"] != "token" {
		t.Errorf("Details[auth_method] = %v, want token", event.Details["auth_method"])
	}
}

func TestAuditMiddleware_IgnoresRoutineRequests(t *testing.T) {
	writer := &memoryEventWriter{}
	r := newAuditRouter(writer, func(c *gin.Context) {
		c.Set("alert_action", "check")
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/alerts", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	// Give any stray goroutine a moment, then confirm nothing was written.
	time.Sleep(50 * time.Millisecond)
	if events := writer.snapshot(); len(events) != 0 {
		t.Errorf("expected no audit events for a check action, got %d", len(events))
	}
}

func TestAuditMiddleware_FailedConfigureNotRecorded(t *testing.T) {
	writer := &memoryEventWriter{}
	r := newAuditRouter(writer, func(c *gin.Context) {
		c.Set("alert_action", "configure")
		c.JSON(http.StatusBadRequest, gin.H{"success": false})
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/alerts", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	time.Sleep(50 * time.Millisecond)
	if events := writer.snapshot(); len(events) != 0 {
		t.Errorf("expected no audit events for a failed configure, got %d", len(events))
	}
}

func TestAuditMiddleware_WriteFailureDoesNotAffectResponse(t *testing.T) {
	writer := &memoryEventWriter{err: errors.New("db down")}
	r := newAuditRouter(writer, func(c *gin.Context) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/alerts", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected handler status to pass through, got %d", w.Code)
	}
}

func TestAuditMiddleware_NilWriter(t *testing.T) {
	r := newAuditRouter(nil, func(c *gin.Context) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/alerts", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}
