// Package alerts exposes the security alert engine over HTTP. The primary
// surface is a single action-dispatch endpoint: callers POST {"action": ...}
// and the handler routes to a rule check, a status report, or a rule
// reconfiguration. Read-only GET variants exist for status and recent alert
// history so dashboards do not need to POST.
package alerts

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/phi-sentinel/phi-sentinel/internal/db/models"
	"github.com/phi-sentinel/phi-sentinel/internal/engine"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
)

// Checker runs one evaluation tick. Implemented by engine.Engine.
type Checker interface {
	Check(ctx context.Context, override []*models.AlertRule) (*engine.CheckSummary, error)
}

// StatusReporter summarizes system health. Implemented by engine.StatusReporter.
type StatusReporter interface {
	Report(ctx context.Context) (*engine.StatusSummary, error)
}

// RuleStore persists a replacement rule set. Implemented by the rule repository.
type RuleStore interface {
	ReplaceRules(ctx context.Context, rules []*models.AlertRule) error
}

// AlertLister reads back previously dispatched alerts. Implemented by the
// audit event repository.
type AlertLister interface {
	ListRecentAlerts(ctx context.Context, limit int) ([]*models.AuditEvent, error)
}

// Handler serves the alert engine endpoints.
type Handler struct {
	checker  Checker
	reporter StatusReporter
	rules    RuleStore
	lister   AlertLister
}

// NewHandler creates an alerts Handler. rules may be nil when no writable
// rule store is configured (file-based catalogs); the configure action then
// returns 503.
func NewHandler(checker Checker, reporter StatusReporter, rules RuleStore, lister AlertLister) *Handler {
	return &Handler{
		checker:  checker,
		reporter: reporter,
		rules:    rules,
		lister:   lister,
	}
}

// ruleSpec is the wire form of an alert rule. Pointers distinguish "absent"
// from zero values so configure requests can omit enabled and severity.
type ruleSpec struct {
	ID                string   `json:"id" binding:"required"`
	Name              string   `json:"name" binding:"required"`
	EventTypes        []string `json:"event_types" binding:"required"`
	Threshold         *int     `json:"threshold"`
	TimeWindowMinutes *int     `json:"time_window_minutes"`
	Severity          string   `json:"severity"`
	Channels          []string `json:"channels"`
	Enabled           *bool    `json:"enabled"`
}

// toModel converts the wire form to a models.AlertRule, applying the same
// defaults the database schema does.
func (rs *ruleSpec) toModel() *models.AlertRule {
	rule := &models.AlertRule{
		ID:                rs.ID,
		Name:              rs.Name,
		EventTypes:        rs.EventTypes,
		Threshold:         rs.Threshold,
		TimeWindowMinutes: rs.TimeWindowMinutes,
		Severity:          rs.Severity,
		Channels:          rs.Channels,
		Enabled:           true,
	}
	if rule.Severity == "" {
		rule.Severity = models.SeverityWarning
	}
	if rs.Enabled != nil {
		rule.Enabled = *rs.Enabled
	}
	return rule
}

// actionRequest is the body of the action-dispatch endpoint.
type actionRequest struct {
	Action string     `json:"action" binding:"required"`
	Rules  []ruleSpec `json:"rules"`
}

// @Summary      Invoke an alert engine action
// @Description  Dispatches on the action field: "check" runs one evaluation tick over the active rule set
// @Description  (or the supplied one-shot rules override), "status" returns the 24-hour health summary, and
// @Description  "configure" validates and persists a replacement rule set. Unknown actions return 400.
// @Tags         Alerts
// @Accept       json
// @Produce      json
// @Param        body  body  actionRequest  true  "action plus optional rules (check override or configure payload)"
// @Success      200  {object}  map[string]interface{}  "action-specific response"
// @Failure      400  {object}  map[string]interface{}  "missing/unknown action or invalid rule"
// @Failure      500  {object}  map[string]interface{}  "engine or store failure"
// @Router       /v1/alerts [post]
// HandleAction routes {"action": ...} requests.
// POST /v1/alerts
func (h *Handler) HandleAction(c *gin.Context) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid request: " + err.Error(),
		})
		return
	}

	// Exposed for the audit middleware, which records rule reconfigurations.
	c.Set("alert_action", req.Action)

	switch req.Action {
	case "check":
		h.runCheck(c, req.Rules)
	case "status":
		h.reportStatus(c)
	case "configure":
		h.configureRules(c, req.Rules)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "unknown action: " + req.Action,
		})
	}
}

// runCheck executes one evaluation tick. A non-nil rules payload evaluates
// those rules instead of the active set, without persisting anything.
func (h *Handler) runCheck(c *gin.Context, specs []ruleSpec) {
	var override []*models.AlertRule
	for i := range specs {
		rule := specs[i].toModel()
		if err := rule.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "invalid rule " + rule.ID + ": " + err.Error(),
			})
			return
		}
		override = append(override, rule)
	}

	summary, err := h.checker.Check(c.Request.Context(), override)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "check failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *Handler) reportStatus(c *gin.Context) {
	summary, err := h.reporter.Report(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "status report failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// configureRules validates and persists a replacement rule set. The new set
// takes effect on the next tick.
func (h *Handler) configureRules(c *gin.Context, specs []ruleSpec) {
	if h.rules == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "rule store is not configured",
		})
		return
	}
	if len(specs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "configure requires a non-empty rules array",
		})
		return
	}

	rules := make([]*models.AlertRule, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for i := range specs {
		rule := specs[i].toModel()
		if err := rule.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "invalid rule " + rule.ID + ": " + err.Error(),
			})
			return
		}
		if seen[rule.ID] {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "duplicate rule id: " + rule.ID,
			})
			return
		}
		seen[rule.ID] = true
		rules = append(rules, rule)
	}

	if err := h.rules.ReplaceRules(c.Request.Context(), rules); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to store rules: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"rules_configured": len(rules),
	})
}

// @Summary      Alert engine status
// @Description  Returns the 24-hour health classification (healthy/warning/critical), the active rule count,
// @Description  and event totals by severity.
// @Tags         Alerts
// @Produce      json
// @Success      200  {object}  engine.StatusSummary
// @Failure      500  {object}  map[string]interface{}
// @Router       /v1/alerts/status [get]
// GetStatus is the read-only variant of the "status" action.
// GET /v1/alerts/status
func (h *Handler) GetStatus(c *gin.Context) {
	h.reportStatus(c)
}

// @Summary      Recent dispatched alerts
// @Description  Returns the most recent SECURITY_ALERT feedback events, newest first.
// @Tags         Alerts
// @Produce      json
// @Param        limit  query  int  false  "maximum events to return (default 50, max 500)"
// @Success      200  {object}  map[string]interface{}  "alerts: array of audit events"
// @Failure      400  {object}  map[string]interface{}  "invalid limit"
// @Failure      500  {object}  map[string]interface{}
// @Router       /v1/alerts/recent [get]
// ListRecent returns the dispatched-alert history.
// GET /v1/alerts/recent
func (h *Handler) ListRecent(c *gin.Context) {
	limit := defaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	events, err := h.lister.ListRecentAlerts(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "failed to list alerts: " + err.Error(),
		})
		return
	}
	if events == nil {
		events = []*models.AuditEvent{}
	}

	c.JSON(http.StatusOK, gin.H{"alerts": events})
}
