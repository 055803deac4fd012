// Package api wires together all HTTP routes for the alert engine.
//
// Route grouping philosophy:
//   - /health, /ready, /version, and GET /v1/alerts/status are intentionally
//     unauthenticated so liveness probes and dashboards work without
//     credentials. The status action on the POST endpoint is open for the
//     same reason.
//   - The check and configure actions mutate state (alerts are dispatched,
//     rules replaced) and require authentication when any mechanism is
//     configured.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/phi-sentinel/phi-sentinel/internal/api/alerts"
	"github.com/phi-sentinel/phi-sentinel/internal/config"
	"github.com/phi-sentinel/phi-sentinel/internal/db/models"
	"github.com/phi-sentinel/phi-sentinel/internal/db/repositories"
	"github.com/phi-sentinel/phi-sentinel/internal/dispatch"
	"github.com/phi-sentinel/phi-sentinel/internal/engine"
	"github.com/phi-sentinel/phi-sentinel/internal/jobs"
	"github.com/phi-sentinel/phi-sentinel/internal/middleware"
	"github.com/phi-sentinel/phi-sentinel/internal/rules"
)

// BackgroundServices holds references to background goroutines and resources
// that must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	tickRunner   *jobs.TickRunner
	rateLimiters []*middleware.TokenBucketLimiter
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests drain first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.tickRunner != nil {
		bg.tickRunner.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router and all engine components.
func NewRouter(cfg *config.Config, db *sqlx.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Repositories
	eventRepo := repositories.NewAuditEventRepository(db)
	ruleRepo := repositories.NewRuleRepository(db)

	// Rule catalog: the store tier is the rules file when configured, the
	// database table otherwise.
	var store rules.Store = ruleRepo
	if cfg.Engine.RulesFile != "" {
		fileStore, err := rules.NewFileStore(cfg.Engine.RulesFile)
		if err != nil {
			log.Fatalf("Failed to load rules file %s: %v", cfg.Engine.RulesFile, err)
		}
		store = fileStore
		slog.Info("rule catalog backed by file", "path", cfg.Engine.RulesFile)
	}
	loader := rules.NewLoader(store)

	// Evaluator
	loc, err := time.LoadLocation(cfg.Engine.Timezone)
	if err != nil {
		log.Fatalf("Invalid engine timezone %q: %v", cfg.Engine.Timezone, err)
	}
	evaluator := engine.NewEvaluator(eventRepo, engine.EvaluatorConfig{
		DefaultWindowMinutes: cfg.Engine.DefaultWindowMinutes,
		RecencyWindow:        cfg.Engine.RecencyWindow,
		Location:             loc,
		AfterHoursStartHour:  cfg.Engine.AfterHoursStartHour,
		AfterHoursEndHour:    cfg.Engine.AfterHoursEndHour,
	}, nil)

	// Channel senders
	registry := dispatch.NewRegistry()
	registry.Register(dispatch.NewSlackSender(cfg.Channels.Slack, nil))
	registry.Register(dispatch.NewPagerDutySender(cfg.Channels.PagerDuty, nil))
	registry.Register(dispatch.NewEmailSender(cfg.Channels.Email))
	registry.Register(dispatch.NewWebhookSender(cfg.Channels.Webhook, nil))

	dispatcher := dispatch.NewDispatcher(registry, eventRepo, cfg.Engine.DispatchTimeout)
	eng := engine.New(loader, evaluator, dispatcher, cfg.Engine.QueryTimeout)
	reporter := engine.NewStatusReporter(eventRepo, func(ctx context.Context) []*models.AlertRule {
		return loader.Load(ctx, nil)
	}, nil)

	// Optional internal tick scheduler. Most deployments trigger checks
	// externally (cron hitting the check action); the runner covers the rest.
	var tickRunner *jobs.TickRunner
	if cfg.Engine.TickInterval > 0 {
		tickRunner = jobs.NewTickRunner(eng, cfg.Engine.TickInterval)
		tickRunner.Start(context.Background())
		slog.Info("internal tick runner started", "interval", cfg.Engine.TickInterval)
	}

	if !middleware.AuthRequired(cfg) {
		slog.Warn("no API authentication configured, check/configure actions are open")
	}

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db))
	router.GET("/version", versionHandler())

	// Rate limiting: Redis-backed when configured so replicas share budgets,
	// in-process token bucket otherwise.
	bg := &BackgroundServices{tickRunner: tickRunner}
	var limiter middleware.Limiter
	rlConfig := middleware.RateLimitConfig{
		RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
		BurstSize:         cfg.Security.RateLimiting.Burst,
		CleanupInterval:   5 * time.Minute,
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		limiter = middleware.NewRedisLimiter(rdb, rlConfig)
		slog.Info("rate limiting backed by redis", "addr", cfg.Redis.Addr)
	} else {
		bucket := middleware.NewTokenBucketLimiter(rlConfig)
		bg.rateLimiters = append(bg.rateLimiters, bucket)
		limiter = bucket
	}

	// With a file-backed catalog the configure action is disabled: writing
	// rules to the database while the file shadows them would silently
	// discard the write.
	var writableRules alerts.RuleStore = ruleRepo
	if cfg.Engine.RulesFile != "" {
		writableRules = nil
	}
	handler := alerts.NewHandler(eng, reporter, writableRules, eventRepo)

	v1 := router.Group("/v1/alerts")
	if cfg.Security.RateLimiting.Enabled {
		v1.Use(middleware.RateLimitMiddleware(limiter, rlConfig))
	}
	// Self-audit: rejected credentials and rule reconfigurations land in the
	// same audit trail the engine evaluates.
	v1.Use(middleware.AuditMiddleware(eventRepo))
	{
		v1.POST("", actionAuthMiddleware(cfg), handler.HandleAction)
		v1.GET("/status", handler.GetStatus)
		v1.GET("/recent", middleware.AuthMiddleware(cfg), handler.ListRecent)
	}

	return router, bg
}

// actionAuthMiddleware authenticates the action-dispatch endpoint with one
// exception: the read-only status action stays open, matching the GET
// variant. The body is peeked for the action field and restored for the
// handler's full bind.
func actionAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !middleware.AuthRequired(cfg) {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "failed to read request body",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		var peek struct {
			Action string `json:"action"`
		}
		// Malformed JSON falls through to the handler's bind for a uniform
		// 400 response.
		if json.Unmarshal(body, &peek) == nil && peek.Action == "status" {
			c.Next()
			return
		}

		subject, method, err := middleware.Authenticate(cfg, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   err.Error(),
			})
			return
		}

		c.Set(middleware.AuthSubjectKey, subject)
		c.Set(middleware.AuthMethodKey, method)
		c.Next()
	}
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to evaluate rules. Checks database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: database not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service. The audit
// store is the only hard dependency; channels are probed lazily at dispatch.
func readinessHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current service and API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.Any("request_id", requestID),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
