package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/hpn/hpn-c-relay/internal/metrics"
)

// RouterConfig holds the settings NewRouter needs beyond the handler.
type RouterConfig struct {
	APIKey             string
	AllowHeaderSession bool
	Metrics            *metrics.Metrics
	MetricsPath        string
	Console            bool
	Logger             *slog.Logger
}

// NewRouter registers the relay routes. Chat and model routes are served
// with and without the /v1 prefix.
func NewRouter(h *ProxyHandler, cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()

	router.Use(RecoveryMiddleware(logger))
	router.Use(CORSMiddleware())
	router.Use(LoggingMiddleware(logger, cfg.Console))

	router.GET("/health", h.HandleHealth)

	if cfg.Metrics != nil && cfg.MetricsPath != "" {
		router.GET(cfg.MetricsPath, gin.WrapH(cfg.Metrics.Handler()))
	}

	auth := APIKeyAuthMiddleware(cfg.APIKey, cfg.AllowHeaderSession)
	for _, prefix := range []string{"/v1", ""} {
		api := router.Group(prefix, auth)
		api.POST("/chat/completions", h.HandleChatCompletion)
		api.GET("/models", h.HandleModels)
	}

	return router
}
