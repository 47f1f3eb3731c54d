package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hpn/hpn-c-relay/internal/config"
	"github.com/hpn/hpn-c-relay/internal/ui"
)

var serveFlags struct {
	host   string
	port   int
	dryRun bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay server",
	Long: `Start the relay server with the specified configuration.

Sessions come from HPN_SESSIONS ("key[:org],key2,...") or the sessions list
in the config file. Running the binary without a subcommand is the same as
running serve.

Examples:
  # Start with .env / config.yaml settings
  hpn-c-relay serve

  # Start with a custom config and port
  hpn-c-relay serve --config /etc/hpn-c-relay/config.yaml --port 9000

  # Validate config without starting the server
  hpn-c-relay serve --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveFlags.host, "host", "", "override listen host")
		cmd.Flags().IntVarP(&serveFlags.port, "port", "p", 0, "override listen port")
		cmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "validate config without starting server")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if serveFlags.host != "" {
		cfg.Server.Host = serveFlags.host
	}
	if serveFlags.port != 0 {
		cfg.Server.Port = serveFlags.port
	}

	logger, closeLog, err := setupLogger(cfg.Logging, verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	if !cfg.Logging.Console {
		ui.SetOutput(nil)
	}

	logger.Info("configuration loaded",
		slog.String("address", cfg.Address()),
		slog.Int("sessions", len(cfg.Credentials())),
		slog.String("session_source", cfg.SessionSource),
		slog.Bool("chat_delete", cfg.Relay.ChatDelete),
		slog.Bool("header_session", cfg.Relay.AllowHeaderSession),
	)

	if serveFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// loadConfig reads .env files then the config file and environment.
func loadConfig() (*config.Configuration, error) {
	config.LoadEnvFiles()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// serve runs the relay until ctx is cancelled, then shuts down the HTTP
// server and drains pending conversation deletes.
func serve(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) error {
	// Cleanup outlives the signal context so queued deletes can finish.
	bgCtx, cancelBg := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBg()

	a := newApp(bgCtx, cfg, logger)
	srv := a.server()

	ui.PrintBanner(Version)
	ui.PrintStartupInfo(a.startupInfo())

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			logger.Error("server error", slog.String("error", err.Error()))
			_ = a.drain(context.Background())
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	ui.PrintShutdown()

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}

	if err := a.drain(shutdownCtx); err != nil {
		logger.Warn("pending conversation deletes abandoned", slog.String("error", err.Error()))
	}

	logger.Info("server stopped gracefully")
	ui.PrintGoodbye()
	return nil
}
