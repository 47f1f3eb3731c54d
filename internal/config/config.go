// Package config loads the relay configuration from environment variables,
// .env files and config.yaml using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hpn/hpn-c-relay/internal/domain"
)

// Configuration holds all application configuration values.
type Configuration struct {
	// Server configuration
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Auth protects the OpenAI-compatible routes.
	Auth AuthConfig `json:"auth" mapstructure:"auth"`

	// Sessions is the upstream credential pool in load order.
	Sessions []domain.Credential `json:"sessions" mapstructure:"sessions"`

	// Relay tunes the request pipeline.
	Relay RelayConfig `json:"relay" mapstructure:"relay"`

	// Upstream configures the claude.ai HTTP client.
	Upstream UpstreamConfig `json:"upstream" mapstructure:"upstream"`

	// Cleanup configures background conversation deletion.
	Cleanup CleanupConfig `json:"cleanup" mapstructure:"cleanup"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// SessionSource records where Sessions came from ("env", "file" or "").
	SessionSource string `json:"-" mapstructure:"-"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	// Host is the server bind address.
	Host string `json:"host" mapstructure:"host"`

	// Port is the server port number.
	Port int `json:"port" mapstructure:"port"`

	// ReadTimeoutSeconds is the maximum duration for reading the entire request.
	ReadTimeoutSeconds int `json:"read_timeout_seconds" mapstructure:"read_timeout_seconds"`

	// WriteTimeoutSeconds bounds response writes. Zero keeps long streams open.
	WriteTimeoutSeconds int `json:"write_timeout_seconds" mapstructure:"write_timeout_seconds"`

	// ShutdownTimeoutSeconds is the maximum duration to wait for active connections to finish.
	ShutdownTimeoutSeconds int `json:"shutdown_timeout_seconds" mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig holds inbound authentication settings.
type AuthConfig struct {
	// APIKey is the bearer token callers must present. Empty disables the check.
	APIKey string `json:"api_key" mapstructure:"api_key"`
}

// RelayConfig holds pipeline behaviour flags.
type RelayConfig struct {
	// RetryCount is the number of retries after the first attempt.
	// Zero derives min(len(sessions), 5).
	RetryCount int `json:"retry_count" mapstructure:"retry_count"`

	// ChatDelete deletes every created conversation after the request.
	ChatDelete bool `json:"chat_delete" mapstructure:"chat_delete"`

	// MaxChatHistoryLength is the prompt length above which the text moves
	// into a context.txt attachment.
	MaxChatHistoryLength int `json:"max_chat_history_length" mapstructure:"max_chat_history_length"`

	// NoRolePrefix drops "Human: "-style prefixes.
	NoRolePrefix bool `json:"no_role_prefix" mapstructure:"no_role_prefix"`

	// PromptDisableArtifacts prepends the no-artifacts directive.
	PromptDisableArtifacts bool `json:"prompt_disable_artifacts" mapstructure:"prompt_disable_artifacts"`

	// WrapThinking wraps reasoning deltas in <think> tags when streaming.
	WrapThinking bool `json:"wrap_thinking" mapstructure:"wrap_thinking"`

	// AllowHeaderSession accepts "sessionKey[:orgId]" bearer tokens as a
	// per-request credential.
	AllowHeaderSession bool `json:"allow_header_session" mapstructure:"allow_header_session"`
}

// UpstreamConfig holds claude.ai client settings.
type UpstreamConfig struct {
	BaseURL        string `json:"base_url" mapstructure:"base_url"`
	Proxy          string `json:"proxy" mapstructure:"proxy"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// CleanupConfig holds conversation deletion settings.
type CleanupConfig struct {
	Attempts      int     `json:"attempts" mapstructure:"attempts"`
	DelaySeconds  float64 `json:"delay_seconds" mapstructure:"delay_seconds"`
	Workers       int     `json:"workers" mapstructure:"workers"`
	QueueSize     int     `json:"queue_size" mapstructure:"queue_size"`
	RatePerSecond float64 `json:"rate_per_second" mapstructure:"rate_per_second"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `json:"level" mapstructure:"level"`

	// Format is the log format (json, text).
	Format string `json:"format" mapstructure:"format"`

	// OutputPath is the file path for log output (empty for stdout).
	OutputPath string `json:"output_path" mapstructure:"output_path"`

	// Console enables the colored console lines.
	Console bool `json:"console" mapstructure:"console"`
}

// Validate validates the configuration and returns an error if required fields are missing.
func (c *Configuration) Validate() error {
	var validationErrors []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		validationErrors = append(validationErrors, "server.port must be between 1 and 65535")
	}

	if len(c.Sessions) == 0 && !c.Relay.AllowHeaderSession {
		validationErrors = append(validationErrors,
			"sessions cannot be empty, set HPN_SESSIONS or enable relay.allow_header_session")
	}

	for i, s := range c.Sessions {
		if !s.IsValid() {
			validationErrors = append(validationErrors, fmt.Sprintf("sessions[%d].session_key is required", i))
		}
	}

	if c.Relay.RetryCount < 0 {
		validationErrors = append(validationErrors, "relay.retry_count cannot be negative")
	}

	if c.Relay.MaxChatHistoryLength < 0 {
		validationErrors = append(validationErrors, "relay.max_chat_history_length cannot be negative")
	}

	if !strings.HasPrefix(c.Upstream.BaseURL, "http://") && !strings.HasPrefix(c.Upstream.BaseURL, "https://") {
		validationErrors = append(validationErrors, fmt.Sprintf(
			"upstream.base_url '%s' must be an http(s) URL", c.Upstream.BaseURL,
		))
	}

	if c.Cleanup.Attempts < 0 || c.Cleanup.Workers < 0 || c.Cleanup.QueueSize < 0 {
		validationErrors = append(validationErrors, "cleanup.attempts, cleanup.workers and cleanup.queue_size cannot be negative")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		validationErrors = append(validationErrors, "metrics.path must start with '/'")
	}

	if c.Logging.Level != "" && !isValidLogLevel(c.Logging.Level) {
		validationErrors = append(validationErrors, fmt.Sprintf(
			"logging.level '%s' is invalid, must be one of: debug, info, warn, error",
			c.Logging.Level,
		))
	}

	if c.Logging.Format != "" && c.Logging.Format != "json" && c.Logging.Format != "text" {
		validationErrors = append(validationErrors, fmt.Sprintf(
			"logging.format '%s' is invalid, must be one of: json, text",
			c.Logging.Format,
		))
	}

	if len(validationErrors) > 0 {
		return &ValidationError{Errors: validationErrors}
	}

	return nil
}

// isValidLogLevel checks if the log level is valid.
func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// Credentials returns the configured sessions with duplicates removed.
func (c *Configuration) Credentials() []domain.Credential {
	seen := make(map[string]bool, len(c.Sessions))
	creds := make([]domain.Credential, 0, len(c.Sessions))
	for _, s := range c.Sessions {
		if !s.IsValid() || seen[s.SessionKey] {
			continue
		}
		seen[s.SessionKey] = true
		creds = append(creds, s)
	}
	return creds
}

// UpstreamTimeout returns the upstream HTTP timeout.
func (c *Configuration) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}

// CleanupDelay returns the pause between failed deletions.
func (c *Configuration) CleanupDelay() time.Duration {
	return time.Duration(c.Cleanup.DelaySeconds * float64(time.Second))
}

// Address returns the listen address.
func (c *Configuration) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
