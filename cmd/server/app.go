package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hpn/hpn-c-relay/internal/adapter"
	"github.com/hpn/hpn-c-relay/internal/config"
	"github.com/hpn/hpn-c-relay/internal/domain"
	"github.com/hpn/hpn-c-relay/internal/handler"
	"github.com/hpn/hpn-c-relay/internal/metrics"
	"github.com/hpn/hpn-c-relay/internal/prompt"
	"github.com/hpn/hpn-c-relay/internal/relay"
	"github.com/hpn/hpn-c-relay/internal/ui"
)

// app is the wired relay: pool, upstream factory, background cleanup and
// the HTTP router.
type app struct {
	cfg          *config.Configuration
	pool         *domain.CredentialPool
	metrics      *metrics.Metrics
	scheduler    *relay.CleanupScheduler
	orchestrator *relay.Orchestrator
	router       *gin.Engine
	logger       *slog.Logger
}

// newApp wires every component from cfg. ctx bounds the cleanup workers;
// call shutdown to drain them.
func newApp(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) *app {
	pool := domain.NewCredentialPool(cfg.Credentials())

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(nil)
		m.SetPool(pool.Size(), pool.ResolvedCount())
	}

	factory := clientFactory(cfg, m, logger)

	scheduler := relay.NewCleanupScheduler(ctx, relay.CleanupConfig{
		Attempts:      cfg.Cleanup.Attempts,
		Delay:         cfg.CleanupDelay(),
		Workers:       cfg.Cleanup.Workers,
		QueueSize:     cfg.Cleanup.QueueSize,
		RatePerSecond: cfg.Cleanup.RatePerSecond,
	},
		relay.WithCleanupLogger(logger),
		relay.WithCleanupMetrics(m),
		relay.WithFailureHook(func(task relay.CleanupTask, err error) {
			ui.PrintCleanupFailed(task.Conversation.ID, task.SessionKey)
		}),
	)

	orchestrator := relay.NewOrchestrator(pool, factory,
		relay.WithRetryCount(cfg.Relay.RetryCount),
		relay.WithChatDelete(cfg.Relay.ChatDelete),
		relay.WithScheduler(scheduler),
		relay.WithLogger(logger),
		relay.WithMetrics(m),
		relay.WithSwitchHook(ui.PrintSwitching),
		relay.WithAttemptFailedHook(func(attempt int, sessionKey string, err error) {
			ui.PrintAttemptFailed(attempt, sessionKey, err.Error())
		}),
	)

	proxy := handler.NewProxyHandler(orchestrator,
		handler.WithLogger(logger),
		handler.WithMetrics(m),
		handler.WithPromptOptions(prompt.Options{
			NoRolePrefix:     cfg.Relay.NoRolePrefix,
			DisableArtifacts: cfg.Relay.PromptDisableArtifacts,
			MaxLength:        cfg.Relay.MaxChatHistoryLength,
		}),
		handler.WithWrapThinking(cfg.Relay.WrapThinking),
	)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handler.NewRouter(proxy, handler.RouterConfig{
		APIKey:             cfg.Auth.APIKey,
		AllowHeaderSession: cfg.Relay.AllowHeaderSession,
		Metrics:            m,
		MetricsPath:        cfg.Metrics.Path,
		Console:            cfg.Logging.Console,
		Logger:             logger,
	})

	return &app{
		cfg:          cfg,
		pool:         pool,
		metrics:      m,
		scheduler:    scheduler,
		orchestrator: orchestrator,
		router:       router,
		logger:       logger,
	}
}

// clientFactory returns a factory that binds one session to a fresh client.
// All clients share one transport.
func clientFactory(cfg *config.Configuration, m *metrics.Metrics, logger *slog.Logger) relay.ClientFactory {
	httpClient := adapter.NewHTTPClient(cfg.Upstream.Proxy, cfg.UpstreamTimeout())

	return func(cred domain.Credential) adapter.Upstream {
		opts := []adapter.ClaudeClientOption{
			adapter.WithHTTPClient(httpClient),
			adapter.WithOrganization(cred.OrganizationID),
			adapter.WithClientLogger(logger),
		}
		if cfg.Upstream.BaseURL != "" {
			opts = append(opts, adapter.WithBaseURL(cfg.Upstream.BaseURL))
		}
		if m != nil {
			opts = append(opts, adapter.WithStatusObserver(m.ObserveUpstream))
		}
		return adapter.NewClaudeClient(cred.SessionKey, opts...)
	}
}

// server returns the HTTP server for the app.
func (a *app) server() *http.Server {
	return &http.Server{
		Addr:         a.cfg.Address(),
		Handler:      a.router,
		ReadTimeout:  time.Duration(a.cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.cfg.Server.WriteTimeoutSeconds) * time.Second,
	}
}

// drain waits for queued conversation deletes until ctx expires.
func (a *app) drain(ctx context.Context) error {
	return a.scheduler.Stop(ctx)
}

// startupInfo describes the app for the console banner.
func (a *app) startupInfo() ui.StartupInfo {
	return ui.StartupInfo{
		Address:      a.cfg.Address(),
		Sessions:     a.pool.Size(),
		Resolved:     a.pool.ResolvedCount(),
		RetryCount:   a.orchestrator.RetryCount(a.pool),
		ChatDelete:   a.cfg.Relay.ChatDelete,
		AuthEnabled:  a.cfg.Auth.APIKey != "",
		MetricsPath:  a.metricsPath(),
		HeaderSource: a.cfg.Relay.AllowHeaderSession,
	}
}

func (a *app) metricsPath() string {
	if a.metrics == nil {
		return ""
	}
	return a.cfg.Metrics.Path
}
