package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hpn/hpn-c-relay/internal/domain"
)

const (
	defaultConfigName = "config"
	defaultConfigType = "yaml"
	envPrefix         = "HPN_RELAY"

	// EnvSessions is the primary credential source: comma-separated
	// "sessionKey" or "sessionKey:orgId" entries. It takes priority over
	// sessions listed in config.yaml.
	EnvSessions = "HPN_SESSIONS"
)

// Session sources reported in Configuration.SessionSource.
const (
	SourceEnv  = "env"
	SourceFile = "file"
)

// envFiles are loaded before anything else. Existing variables win.
var envFiles = []string{".env", ".env.local"}

// LoadEnvFiles loads .env files from the working directory. Missing files are
// ignored and variables already set in the environment are never overwritten.
func LoadEnvFiles() {
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}
}

// Load builds the configuration. Priority order (highest to lowest):
// 1. HPN_SESSIONS env var for the credential pool
// 2. Environment variables (prefixed with HPN_RELAY_)
// 3. config.yaml (configPath, or the default search paths)
// 4. Default values
func Load(configPath string) (*Configuration, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName(defaultConfigName)
	v.SetConfigType(defaultConfigType)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hpn-c-relay")
		v.AddConfigPath("$HOME/.hpn-c-relay")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, &ConfigError{
				Op:  "read",
				Err: fmt.Errorf("failed to read config file: %w", err),
			}
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{
			Op:  "unmarshal",
			Err: fmt.Errorf("failed to unmarshal config: %w", err),
		}
	}

	if len(cfg.Sessions) > 0 {
		cfg.SessionSource = SourceFile
	}

	if sessions := parseSessions(os.Getenv(EnvSessions)); len(sessions) > 0 {
		cfg.Sessions = sessions
		cfg.SessionSource = SourceEnv
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 30)
	v.SetDefault("server.write_timeout_seconds", 0)
	v.SetDefault("server.shutdown_timeout_seconds", 15)

	v.SetDefault("auth.api_key", "")

	// Relay defaults
	v.SetDefault("relay.retry_count", 0)
	v.SetDefault("relay.chat_delete", true)
	v.SetDefault("relay.max_chat_history_length", 10000)
	v.SetDefault("relay.no_role_prefix", false)
	v.SetDefault("relay.prompt_disable_artifacts", false)
	v.SetDefault("relay.wrap_thinking", false)
	v.SetDefault("relay.allow_header_session", false)

	// Upstream defaults
	v.SetDefault("upstream.base_url", "https://claude.ai/api")
	v.SetDefault("upstream.proxy", "")
	v.SetDefault("upstream.timeout_seconds", 300)

	// Cleanup defaults
	v.SetDefault("cleanup.attempts", 3)
	v.SetDefault("cleanup.delay_seconds", 2)
	v.SetDefault("cleanup.workers", 4)
	v.SetDefault("cleanup.queue_size", 256)
	v.SetDefault("cleanup.rate_per_second", 5)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "")
	v.SetDefault("logging.console", true)
}

// parseSessions splits a comma-separated HPN_SESSIONS value. Blank entries
// and repeated session keys are dropped.
func parseSessions(raw string) []domain.Credential {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	seen := make(map[string]bool)
	var creds []domain.Credential
	for _, entry := range strings.Split(raw, ",") {
		cred := domain.ParseCredential(entry)
		if !cred.IsValid() || seen[cred.SessionKey] {
			continue
		}
		seen[cred.SessionKey] = true
		creds = append(creds, cred)
	}
	return creds
}
