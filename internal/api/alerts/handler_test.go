package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/phi-sentinel/phi-sentinel/internal/db/models"
	"github.com/phi-sentinel/phi-sentinel/internal/engine"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var errStore = errors.New("store error")

// --- fakes ---

type fakeChecker struct {
	summary     *engine.CheckSummary
	err         error
	gotOverride []*models.AlertRule
}

func (f *fakeChecker) Check(_ context.Context, override []*models.AlertRule) (*engine.CheckSummary, error) {
	f.gotOverride = override
	return f.summary, f.err
}

type fakeReporter struct {
	summary *engine.StatusSummary
	err     error
}

func (f *fakeReporter) Report(context.Context) (*engine.StatusSummary, error) {
	return f.summary, f.err
}

type fakeRuleStore struct {
	gotRules []*models.AlertRule
	err      error
}

func (f *fakeRuleStore) ReplaceRules(_ context.Context, rules []*models.AlertRule) error {
	f.gotRules = rules
	return f.err
}

type fakeLister struct {
	events   []*models.AuditEvent
	err      error
	gotLimit int
}

func (f *fakeLister) ListRecentAlerts(_ context.Context, limit int) ([]*models.AuditEvent, error) {
	f.gotLimit = limit
	return f.events, f.err
}

func newTestRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.POST("/v1/alerts", h.HandleAction)
	r.GET("/v1/alerts/status", h.GetStatus)
	r.GET("/v1/alerts/recent", h.ListRecent)
	return r
}

func postAction(t *testing.T, r *gin.Engine, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/alerts", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response body %q: %v", w.Body.String(), err)
	}
	return body
}

// --- check action ---

func TestHandleAction_Check(t *testing.T) {
	checker := &fakeChecker{summary: &engine.CheckSummary{
		Success:         true,
		CheckedRules:    7,
		AlertsTriggered: 1,
		Alerts: []engine.AlertResult{{
			Rule:       "Excessive Failed Logins",
			Severity:   models.SeverityWarning,
			Message:    "Threshold exceeded: 6 events in the last 15 minutes (threshold: 5)",
			EventCount: 6,
		}},
	}}
	h := NewHandler(checker, &fakeReporter{}, &fakeRuleStore{}, &fakeLister{})
	r := newTestRouter(h)

	w := postAction(t, r, gin.H{"action": "check"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["success"] != true {
		t.Error("expected success true")
	}
	if body["checked_rules"] != float64(7) {
		t.Errorf("expected checked_rules 7, got %v", body["checked_rules"])
	}
	if body["alerts_triggered"] != float64(1) {
		t.Errorf("expected alerts_triggered 1, got %v", body["alerts_triggered"])
	}
	alerts, ok := body["alerts"].([]interface{})
	if !ok || len(alerts) != 1 {
		t.Fatalf("expected 1 alert in response, got %v", body["alerts"])
	}
	if checker.gotOverride != nil {
		t.Error("expected no rules override for plain check")
	}
}

func TestHandleAction_CheckWithRulesOverride(t *testing.T) {
	checker := &fakeChecker{summary: &engine.CheckSummary{Success: true, CheckedRules: 1}}
	h := NewHandler(checker, &fakeReporter{}, &fakeRuleStore{}, &fakeLister{})
	r := newTestRouter(h)

	w := postAction(t, r, gin.H{
		"action": "check",
		"rules": []gin.H{{
			"id":          "one-shot",
			"name":        "One Shot",
			"event_types": []string{"PHI_EXPORT"},
			"threshold":   2,
			"severity":    models.SeverityCritical,
			"channels":    []string{models.ChannelSlack},
		}},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	if len(checker.gotOverride) != 1 {
		t.Fatalf("expected 1 override rule, got %d", len(checker.gotOverride))
	}
	rule := checker.gotOverride[0]
	if rule.ID != "one-shot" {
		t.Errorf("expected override rule id one-shot, got %q", rule.ID)
	}
	if !rule.Enabled {
		t.Error("expected enabled to default to true")
	}
}

func TestHandleAction_CheckInvalidOverrideRule(t *testing.T) {
	h := NewHandler(&fakeChecker{}, &fakeReporter{}, &fakeRuleStore{}, &fakeLister{})
	r := newTestRouter(h)

	// missing event_types
	w := postAction(t, r, gin.H{
		"action": "check",
		"rules":  []gin.H{{"id": "bad", "name": "Bad", "event_types": []string{}}},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid rule, got %d", w.Code)
	}
}

func TestHandleAction_CheckEngineError(t *testing.T) {
	h := NewHandler(&fakeChecker{err: errStore}, &fakeReporter{}, &fakeRuleStore{}, &fakeLister{})
	r := newTestRouter(h)

	w := postAction(t, r, gin.H{"action": "check"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["success"] != false {
		t.Error("expected success false on engine error")
	}
}

// --- status action ---

func TestHandleAction_Status(t *testing.T) {
	reporter := &fakeReporter{summary: &engine.StatusSummary{
		Status:      engine.StatusCritical,
		RulesActive: 7,
		Last24h:     engine.Last24hCounts{Total: 42, Critical: 2, Warning: 11},
	}}
	h := NewHandler(&fakeChecker{}, reporter, &fakeRuleStore{}, &fakeLister{})
	r := newTestRouter(h)

	w := postAction(t, r, gin.H{"action": "status"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["status"] != "critical" {
		t.Errorf("expected status critical, got %v", body["status"])
	}
	if body["rules_active"] != float64(7) {
		t.Errorf("expected rules_active 7, got %v", body["rules_active"])
	}
	last24h, ok := body["last_24h"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected last_24h object, got %v", body["last_24h"])
	}
	if last24h["total"] != float64(42) || last24h["critical"] != float64(2) || last24h["warning"] != float64(11) {
		t.Errorf("unexpected last_24h counts: %v", last24h)
	}
}

func TestGetStatus_ReadOnlyVariant(t *testing.T) {
	reporter := &fakeReporter{summary: &engine.StatusSummary{Status: engine.StatusHealthy, RulesActive: 7}}
	h := NewHandler(&fakeChecker{}, reporter, &fakeRuleStore{}, &fakeLister{})
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/v1/alerts/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "healthy" {
		t.Errorf("expected status healthy, got %v", body["status"])
	}
}

// --- configure action ---

func TestHandleAction_Configure(t *testing.T) {
	store := &fakeRuleStore{}
	h := NewHandler(&fakeChecker{}, &fakeReporter{}, store, &fakeLister{})
	r := newTestRouter(h)

	w := postAction(t, r, gin.H{
		"action": "configure",
		"rules": []gin.H{
			{
				"id":                  "custom-rule",
				"name":                "Custom Rule",
				"event_types":         []string{"LOGIN_FAILED"},
				"threshold":           3,
				"time_window_minutes": 10,
				"channels":            []string{models.ChannelEmail},
			},
			{
				"id":          "custom-immediate",
				"name":        "Custom Immediate",
				"event_types": []string{"EMERGENCY_ACCESS"},
				"severity":    models.SeverityCritical,
				"channels":    []string{models.ChannelPagerDuty},
				"enabled":     false,
			},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	body := decodeBody(t, w)
	if body["success"] != true || body["rules_configured"] != float64(2) {
		t.Errorf("unexpected configure response: %v", body)
	}

	if len(store.gotRules) != 2 {
		t.Fatalf("expected 2 stored rules, got %d", len(store.gotRules))
	}
	if store.gotRules[0].Severity != models.SeverityWarning {
		t.Errorf("expected severity to default to WARNING, got %q", store.gotRules[0].Severity)
	}
	if store.gotRules[1].Enabled {
		t.Error("expected explicit enabled=false to be preserved")
	}
}

func TestHandleAction_ConfigureRejectsEmptyAndDuplicates(t *testing.T) {
	h := NewHandler(&fakeChecker{}, &fakeReporter{}, &fakeRuleStore{}, &fakeLister{})
	r := newTestRouter(h)

	w := postAction(t, r, gin.H{"action": "configure"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty rules, got %d", w.Code)
	}

	dup := gin.H{"id": "dup", "name": "Dup", "event_types": []string{"X"}, "channels": []string{models.ChannelSlack}}
	w = postAction(t, r, gin.H{"action": "configure", "rules": []gin.H{dup, dup}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for duplicate ids, got %d", w.Code)
	}
}

func TestHandleAction_ConfigureStoreError(t *testing.T) {
	h := NewHandler(&fakeChecker{}, &fakeReporter{}, &fakeRuleStore{err: errStore}, &fakeLister{})
	r := newTestRouter(h)

	w := postAction(t, r, gin.H{
		"action": "configure",
		"rules":  []gin.H{{"id": "x", "name": "X", "event_types": []string{"X"}, "channels": []string{models.ChannelSlack}}},
	})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on store error, got %d", w.Code)
	}
}

func TestHandleAction_ConfigureWithoutStore(t *testing.T) {
	h := NewHandler(&fakeChecker{}, &fakeReporter{}, nil, &fakeLister{})
	r := newTestRouter(h)

	w := postAction(t, r, gin.H{
		"action": "configure",
		"rules":  []gin.H{{"id": "x", "name": "X", "event_types": []string{"X"}, "channels": []string{models.ChannelSlack}}},
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 with nil rule store, got %d", w.Code)
	}
}

// --- dispatch errors ---

func TestHandleAction_UnknownAction(t *testing.T) {
	h := NewHandler(&fakeChecker{}, &fakeReporter{}, &fakeRuleStore{}, &fakeLister{})
	r := newTestRouter(h)

	w := postAction(t, r, gin.H{"action": "reboot"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", w.Code)
	}

	w = postAction(t, r, gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing action, got %d", w.Code)
	}
}

// --- recent alerts ---

func TestListRecent(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	lister := &fakeLister{events: []*models.AuditEvent{{
		ID:        uuid.New(),
		EventType: models.EventTypeSecurityAlert,
		Severity:  models.SeverityCritical,
		Details:   models.JSONMap{"rule_id": "phi-bulk-export"},
		CreatedAt: now,
	}}}
	h := NewHandler(&fakeChecker{}, &fakeReporter{}, &fakeRuleStore{}, lister)
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/v1/alerts/recent", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if lister.gotLimit != defaultRecentLimit {
		t.Errorf("expected default limit %d, got %d", defaultRecentLimit, lister.gotLimit)
	}
	body := decodeBody(t, w)
	alerts, ok := body["alerts"].([]interface{})
	if !ok || len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %v", body["alerts"])
	}
}

func TestListRecent_LimitHandling(t *testing.T) {
	lister := &fakeLister{}
	h := NewHandler(&fakeChecker{}, &fakeReporter{}, &fakeRuleStore{}, lister)
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/v1/alerts/recent?limit=9999", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if lister.gotLimit != maxRecentLimit {
		t.Errorf("expected limit capped at %d, got %d", maxRecentLimit, lister.gotLimit)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/alerts/recent?limit=abc", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/alerts/recent?limit=0", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero limit, got %d", w.Code)
	}
}

func TestListRecent_EmptyIsArray(t *testing.T) {
	h := NewHandler(&fakeChecker{}, &fakeReporter{}, &fakeRuleStore{}, &fakeLister{})
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/v1/alerts/recent", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() == "" || !bytes.Contains(w.Body.Bytes(), []byte(`"alerts":[]`)) {
		t.Errorf("expected empty alerts array, got %s", w.Body.String())
	}
}

func TestListRecent_StoreError(t *testing.T) {
	h := NewHandler(&fakeChecker{}, &fakeReporter{}, &fakeRuleStore{}, &fakeLister{err: errStore})
	r := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/v1/alerts/recent", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on store error, got %d", w.Code)
	}
}
