package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hpn/hpn-c-relay/internal/adapter"
	"github.com/hpn/hpn-c-relay/internal/domain"
	"github.com/hpn/hpn-c-relay/internal/security"
	"github.com/hpn/hpn-c-relay/internal/ui"
)

// CORSMiddleware returns a middleware that enables permissive CORS.
// This allows web applications to call the API directly.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// LoggingMiddleware logs each request with the session that served it.
// With console enabled a colored line is printed as well.
func LoggingMiddleware(logger *slog.Logger, console bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		sessionKey := c.GetString(ctxSessionUsed)
		attempts := c.GetInt(ctxAttempts)

		logger.Info("request completed",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", latency),
			slog.String("client_ip", c.ClientIP()),
			slog.String("session", maskSession(sessionKey)),
			slog.Int("attempts", attempts),
			slog.String("user_agent", c.Request.UserAgent()),
		)

		if console {
			ui.PrintRequest(c.Request.Method, path, c.Writer.Status(), latency, sessionKey, attempts)
		}
	}
}

// RecoveryMiddleware returns a middleware that recovers from panics.
// It logs the error and returns a 500 response in OpenAI-compatible format.
func RecoveryMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					slog.Any("error", err),
					slog.String("path", c.Request.URL.Path),
				)

				code := "internal_error"
				c.AbortWithStatusJSON(http.StatusInternalServerError, adapter.OpenAIError{
					Error: adapter.OpenAIErrorDetail{
						Message: "Internal server error",
						Type:    "server_error",
						Code:    &code,
					},
				})
			}
		}()

		c.Next()
	}
}

// APIKeyAuthMiddleware checks the bearer token against apiKey. When
// allowHeaderSession is set, any other bearer value is read as
// "sessionKey[:orgId]" and becomes a single-credential pool for the request.
// An empty apiKey disables the check.
func APIKeyAuthMiddleware(apiKey string, allowHeaderSession bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))

		switch {
		case apiKey != "" && subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) == 1:
			c.Next()
			return

		case allowHeaderSession && token != "":
			cred := domain.ParseCredential(token)
			if cred.IsValid() {
				c.Set(ctxHeaderPool, domain.NewCredentialPool([]domain.Credential{cred}))
				c.Next()
				return
			}

		case apiKey == "":
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, adapter.OpenAIError{
			Error: adapter.OpenAIErrorDetail{
				Message: "Invalid or missing API key",
				Type:    "invalid_request_error",
			},
		})
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

func maskSession(key string) string {
	if key == "" {
		return ""
	}
	return security.MaskKey(key)
}
