// auth.go guards the mutating alert API actions. Two credentials are
// accepted: the static operator token (verified against its bcrypt hash from
// config) and, when enabled, an HS256 service JWT. When neither mechanism is
// configured the API is open, which is logged loudly at startup and intended
// only for network-isolated deployments.
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/phi-sentinel/phi-sentinel/internal/auth"
	"github.com/phi-sentinel/phi-sentinel/internal/config"
)

const (
	// AuthSubjectKey is the gin.Context key holding the authenticated caller
	// identity ("operator" for the static token, the JWT subject otherwise).
	AuthSubjectKey = "auth_subject"

	// AuthMethodKey is the gin.Context key holding how the caller authenticated.
	AuthMethodKey = "auth_method"
)

// AuthRequired reports whether the configuration enables any authentication
// mechanism. Used at startup to warn about an open API.
func AuthRequired(cfg *config.Config) bool {
	return cfg.Auth.APITokenHash != "" || cfg.Auth.JWTEnabled
}

// Authenticate validates an Authorization header value against the configured
// credentials and returns the caller identity. The static token is tried
// first: it is the common case (cron invoking the tick endpoint) and a bcrypt
// comparison against a single configured hash is cheaper to reason about than
// JWT parsing. JWT validation runs only when enabled in config.
//
// Exposed as a plain function so the router can make per-action auth
// decisions (the status action stays open for probes) without duplicating
// the credential logic.
func Authenticate(cfg *config.Config, authHeader string) (subject, method string, err error) {
	token, err := auth.ExtractBearerToken(authHeader)
	if err != nil {
		return "", "", err
	}

	if cfg.Auth.APITokenHash != "" && auth.ValidateToken(token, cfg.Auth.APITokenHash) {
		return "operator", "token", nil
	}

	if cfg.Auth.JWTEnabled {
		if claims, jwtErr := auth.ValidateJWT(token); jwtErr == nil {
			return claims.Subject, "jwt", nil
		}
	}

	return "", "", errors.New("invalid credentials")
}

// AuthMiddleware validates the caller's credential on every request.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !AuthRequired(cfg) {
			c.Set(AuthSubjectKey, "anonymous")
			c.Set(AuthMethodKey, "none")
			c.Next()
			return
		}

		subject, method, err := Authenticate(cfg, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
			})
			return
		}

		c.Set(AuthSubjectKey, subject)
		c.Set(AuthMethodKey, method)
		c.Next()
	}
}
