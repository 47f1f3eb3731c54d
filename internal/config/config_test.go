package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hpn/hpn-c-relay/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvSessions, "sk-ant-sid01-aaaa,sk-ant-sid01-bbbb:org-b")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"server.port", cfg.Server.Port, 8080},
		{"server.write_timeout_seconds", cfg.Server.WriteTimeoutSeconds, 0},
		{"relay.retry_count", cfg.Relay.RetryCount, 0},
		{"relay.chat_delete", cfg.Relay.ChatDelete, true},
		{"relay.max_chat_history_length", cfg.Relay.MaxChatHistoryLength, 10000},
		{"upstream.base_url", cfg.Upstream.BaseURL, "https://claude.ai/api"},
		{"upstream timeout", cfg.UpstreamTimeout(), 300 * time.Second},
		{"cleanup.attempts", cfg.Cleanup.Attempts, 3},
		{"cleanup delay", cfg.CleanupDelay(), 2 * time.Second},
		{"metrics.path", cfg.Metrics.Path, "/metrics"},
		{"logging.level", cfg.Logging.Level, "info"},
		{"logging.console", cfg.Logging.Console, true},
		{"session source", cfg.SessionSource, SourceEnv},
		{"sessions", len(cfg.Sessions), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}

	if cfg.Sessions[1].OrganizationID != "org-b" {
		t.Errorf("Sessions[1].OrganizationID = %q, want org-b", cfg.Sessions[1].OrganizationID)
	}
}

func TestLoad_File(t *testing.T) {
	t.Setenv(EnvSessions, "")
	path := writeConfig(t, `
server:
  port: 9000
auth:
  api_key: relay-secret
sessions:
  - session_key: sk-ant-sid01-file
    org_id: org-file
  - session_key: sk-ant-sid01-other
relay:
  retry_count: 2
  chat_delete: false
  wrap_thinking: true
cleanup:
  delay_seconds: 0.5
logging:
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Auth.APIKey != "relay-secret" {
		t.Errorf("Auth.APIKey = %q, want relay-secret", cfg.Auth.APIKey)
	}
	if len(cfg.Sessions) != 2 || cfg.Sessions[0].OrganizationID != "org-file" {
		t.Errorf("Sessions = %+v", cfg.Sessions)
	}
	if cfg.SessionSource != SourceFile {
		t.Errorf("SessionSource = %q, want %q", cfg.SessionSource, SourceFile)
	}
	if cfg.Relay.RetryCount != 2 || cfg.Relay.ChatDelete || !cfg.Relay.WrapThinking {
		t.Errorf("Relay = %+v", cfg.Relay)
	}
	if cfg.CleanupDelay() != 500*time.Millisecond {
		t.Errorf("CleanupDelay() = %v, want 500ms", cfg.CleanupDelay())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
sessions:
  - session_key: sk-ant-sid01-file
`)
	t.Setenv(EnvSessions, "sk-ant-sid01-env")
	t.Setenv("HPN_RELAY_SERVER_PORT", "9191")
	t.Setenv("HPN_RELAY_RELAY_RETRY_COUNT", "4")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.Relay.RetryCount != 4 {
		t.Errorf("Relay.RetryCount = %d, want 4", cfg.Relay.RetryCount)
	}
	if len(cfg.Sessions) != 1 || cfg.Sessions[0].SessionKey != "sk-ant-sid01-env" {
		t.Errorf("Sessions = %+v, want only the env session", cfg.Sessions)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Setenv(EnvSessions, "sk-ant-sid01-env")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !IsConfigError(err) {
		t.Errorf("Load() error = %v, want ConfigError", err)
	}
}

func TestLoad_NoSessions(t *testing.T) {
	t.Setenv(EnvSessions, "")
	path := writeConfig(t, "server:\n  port: 8080\n")

	_, err := Load(path)
	if !IsValidationError(err) {
		t.Fatalf("Load() error = %v, want ValidationError", err)
	}
	if ve := err.(*ValidationError); !ve.HasError("sessions") {
		t.Errorf("ValidationError = %v, want a sessions entry", ve)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Configuration {
		return Configuration{
			Server:   ServerConfig{Port: 8080},
			Sessions: nil,
			Relay:    RelayConfig{AllowHeaderSession: true},
			Upstream: UpstreamConfig{BaseURL: "https://claude.ai/api"},
			Metrics:  MetricsConfig{Enabled: true, Path: "/metrics"},
			Logging:  LoggingConfig{Level: "info", Format: "json"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Configuration)
		wantErr string
	}{
		{"valid with header sessions", func(c *Configuration) {}, ""},
		{"bad port", func(c *Configuration) { c.Server.Port = 70000 }, "server.port"},
		{"no sessions", func(c *Configuration) { c.Relay.AllowHeaderSession = false }, "sessions"},
		{"negative retries", func(c *Configuration) { c.Relay.RetryCount = -1 }, "relay.retry_count"},
		{"bad base url", func(c *Configuration) { c.Upstream.BaseURL = "claude.ai" }, "upstream.base_url"},
		{"bad metrics path", func(c *Configuration) { c.Metrics.Path = "metrics" }, "metrics.path"},
		{"bad log level", func(c *Configuration) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Configuration) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			ve, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("Validate() error = %v, want ValidationError", err)
			}
			if !ve.HasError(tt.wantErr) {
				t.Errorf("Validate() = %v, want an error about %s", ve, tt.wantErr)
			}
		})
	}
}

func TestParseSessions(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKeys []string
		wantOrgs []string
	}{
		{"empty", "", nil, nil},
		{"single", "key-a", []string{"key-a"}, []string{""}},
		{"with org", "key-a:org-a, key-b", []string{"key-a", "key-b"}, []string{"org-a", ""}},
		{"blanks and duplicates", " ,key-a,,key-a:org-x", []string{"key-a"}, []string{""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseSessions(tt.raw)
			if len(got) != len(tt.wantKeys) {
				t.Fatalf("parseSessions(%q) = %+v, want %d entries", tt.raw, got, len(tt.wantKeys))
			}
			for i := range got {
				if got[i].SessionKey != tt.wantKeys[i] || got[i].OrganizationID != tt.wantOrgs[i] {
					t.Errorf("entry %d = %+v, want %s:%s", i, got[i], tt.wantKeys[i], tt.wantOrgs[i])
				}
			}
		})
	}
}

func TestCredentials_Dedup(t *testing.T) {
	cfg := Configuration{Sessions: []domain.Credential{
		{SessionKey: "a"},
		{OrganizationID: "x"},
		{SessionKey: "a", OrganizationID: "org"},
		{SessionKey: "b", OrganizationID: "org-b"},
	}}

	got := cfg.Credentials()
	if len(got) != 2 || got[0].SessionKey != "a" || got[1].OrganizationID != "org-b" {
		t.Errorf("Credentials() = %+v", got)
	}
}

func TestLoadEnvFiles_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("HPN_TEST_FROM_FILE=file\nHPN_TEST_PRESET=file\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd() error = %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir() error = %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("HPN_TEST_PRESET", "env")
	t.Setenv("HPN_TEST_FROM_FILE", "")
	os.Unsetenv("HPN_TEST_FROM_FILE")

	LoadEnvFiles()

	if got := os.Getenv("HPN_TEST_FROM_FILE"); got != "file" {
		t.Errorf("HPN_TEST_FROM_FILE = %q, want file", got)
	}
	if got := os.Getenv("HPN_TEST_PRESET"); got != "env" {
		t.Errorf("HPN_TEST_PRESET = %q, want env", got)
	}
}
