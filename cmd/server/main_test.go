package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hpn/hpn-c-relay/internal/adapter"
	"github.com/hpn/hpn-c-relay/internal/config"
	"github.com/hpn/hpn-c-relay/internal/domain"
	"github.com/hpn/hpn-c-relay/internal/ui"
)

const (
	limitedKey = "sk-ant-REDACTED"
	goodKey    = "sk-ant-REDACTED"
	deniedKey  = "sk-ant-REDACTED"
	testAPIKey = "relay-test-key"
)

func init() {
	gin.SetMode(gin.TestMode)
	ui.SetOutput(nil)
}

// fakeClaude simulates the claude.ai web API:
//   - limitedKey: completion answers 429
//   - deniedKey:  organization lookup answers 401
//   - goodKey:    streams "Hello" + " world"
type fakeClaude struct {
	mu          sync.Mutex
	created     []string
	completions map[string]int
	deleted     []string
	prompts     []string
}

func newFakeClaude(t *testing.T) (*fakeClaude, *httptest.Server) {
	t.Helper()

	f := &fakeClaude{completions: make(map[string]int)}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeClaude) serve(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie("sessionKey")
	if err != nil {
		http.Error(w, `{"error":{"message":"no session"}}`, http.StatusUnauthorized)
		return
	}
	key := cookie.Value
	path := r.URL.Path

	switch {
	case r.Method == http.MethodGet && path == "/organizations":
		if key == deniedKey {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"type":"permission_error","message":"Invalid authorization"}}`)
			return
		}
		fmt.Fprintf(w, `[{"uuid":"org-%s","rate_limit_tier":"default_claude_ai"}]`, key[len(key)-4:])

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/chat_conversations"):
		var body struct {
			UUID string `json:"uuid"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.created = append(f.created, body.UUID)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"uuid":%q}`, body.UUID)

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/completion"):
		var body struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.completions[key]++
		f.prompts = append(f.prompts, body.Prompt)
		f.mu.Unlock()

		if key == limitedKey {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error":{"type":"rate_limit_error","message":"rate limited"}}`)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, text := range []string{"Hello", " world"} {
			fmt.Fprintf(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n\n", text)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")

	case r.Method == http.MethodDelete && strings.Contains(path, "/chat_conversations/"):
		f.mu.Lock()
		f.deleted = append(f.deleted, path[strings.LastIndex(path, "/")+1:])
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeClaude) snapshot() (created, deleted []string, completions map[string]int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := make(map[string]int, len(f.completions))
	for k, v := range f.completions {
		c[k] = v
	}
	return append([]string(nil), f.created...), append([]string(nil), f.deleted...), c
}

func testConfig(baseURL string, keys ...string) *config.Configuration {
	sessions := make([]domain.Credential, 0, len(keys))
	for _, k := range keys {
		sessions = append(sessions, domain.Credential{SessionKey: k})
	}
	return &config.Configuration{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 8080, ShutdownTimeoutSeconds: 5},
		Auth:     config.AuthConfig{APIKey: testAPIKey},
		Sessions: sessions,
		Relay: config.RelayConfig{
			ChatDelete:           true,
			MaxChatHistoryLength: 10000,
		},
		Upstream: config.UpstreamConfig{BaseURL: baseURL, TimeoutSeconds: 10},
		Cleanup: config.CleanupConfig{
			Attempts:      3,
			DelaySeconds:  0.01,
			Workers:       2,
			QueueSize:     16,
			RatePerSecond: 100,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Logging: config.LoggingConfig{Level: "debug", Format: "json"},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startRelay wires a full app against the fake upstream.
func startRelay(t *testing.T, cfg *config.Configuration) (*app, *httptest.Server) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	a := newApp(ctx, cfg, discardLogger())
	srv := httptest.NewServer(a.router)

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return a, srv
}

func postChat(t *testing.T, url string, stream bool) *http.Response {
	t.Helper()

	payload := fmt.Sprintf(`{"model":"claude-3-7-sonnet-20250219","stream":%t,"messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"}]}`, stream)
	req, err := http.NewRequest(http.MethodPost, url+"/v1/chat/completions", bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testAPIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /v1/chat/completions error = %v", err)
	}
	return resp
}

func drainApp(t *testing.T, a *app) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.drain(ctx); err != nil {
		t.Fatalf("drain() error = %v", err)
	}
}

func TestE2E_StreamFailsOverAndCleansUp(t *testing.T) {
	fake, upstream := newFakeClaude(t)
	a, srv := startRelay(t, testConfig(upstream.URL, limitedKey, goodKey))

	resp := postChat(t, srv.URL, true)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	var (
		content strings.Builder
		frames  []string
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		frames = append(frames, data)
		if data == "[DONE]" {
			continue
		}
		var chunk adapter.OpenAIStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			t.Fatalf("chunk %q is not JSON: %v", data, err)
		}
		if chunk.Object != "chat.completion.chunk" {
			t.Errorf("chunk object = %q, want chat.completion.chunk", chunk.Object)
		}
		for _, choice := range chunk.Choices {
			content.WriteString(choice.Delta.Content)
		}
	}

	if got := content.String(); got != "Hello world" {
		t.Errorf("streamed content = %q, want %q", got, "Hello world")
	}
	if len(frames) == 0 || frames[len(frames)-1] != "[DONE]" {
		t.Errorf("last frame = %v, want [DONE]", frames)
	}

	drainApp(t, a)

	created, deleted, completions := fake.snapshot()
	if completions[limitedKey] != 1 || completions[goodKey] != 1 {
		t.Errorf("completions = %v, want one per session", completions)
	}
	if len(created) != 2 {
		t.Fatalf("created conversations = %d, want 2", len(created))
	}
	if len(deleted) != len(created) {
		t.Errorf("deleted = %v, want every created conversation %v", deleted, created)
	}
	if a.pool.ResolvedCount() != 2 {
		t.Errorf("ResolvedCount() = %d, want 2", a.pool.ResolvedCount())
	}
}

func TestE2E_NonStream(t *testing.T) {
	fake, upstream := newFakeClaude(t)
	a, srv := startRelay(t, testConfig(upstream.URL, goodKey))

	resp := postChat(t, srv.URL, false)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var out adapter.OpenAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if out.Object != "chat.completion" {
		t.Errorf("object = %q, want chat.completion", out.Object)
	}
	if len(out.Choices) != 1 || out.Choices[0].Message.Content != "Hello world" {
		t.Errorf("choices = %+v, want one with content %q", out.Choices, "Hello world")
	}

	drainApp(t, a)

	fake.mu.Lock()
	prompt := fake.prompts[0]
	fake.mu.Unlock()
	if !strings.Contains(prompt, "System: be brief") || !strings.Contains(prompt, "Human: hi") {
		t.Errorf("upstream prompt = %q, want role-prefixed turns", prompt)
	}
}

func TestE2E_AllSessionsFail(t *testing.T) {
	_, upstream := newFakeClaude(t)
	_, srv := startRelay(t, testConfig(upstream.URL, limitedKey))

	resp := postChat(t, srv.URL, true)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}

	var out adapter.OpenAIError
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if out.Error.Message == "" {
		t.Error("error message is empty")
	}
	if strings.Contains(out.Error.Message, limitedKey) {
		t.Errorf("error message leaks the session key: %q", out.Error.Message)
	}
}

func TestE2E_RequiresAPIKey(t *testing.T) {
	_, upstream := newFakeClaude(t)
	_, srv := startRelay(t, testConfig(upstream.URL, goodKey))

	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestE2E_MetricsAfterRequest(t *testing.T) {
	_, upstream := newFakeClaude(t)
	a, srv := startRelay(t, testConfig(upstream.URL, goodKey))

	resp := postChat(t, srv.URL, false)
	resp.Body.Close()
	drainApp(t, a)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer metricsResp.Body.Close()

	body, _ := io.ReadAll(metricsResp.Body)
	for _, want := range []string{
		`hpn_relay_requests_total`,
		`hpn_relay_upstream_responses_total`,
		`hpn_relay_cleanup_total{outcome="deleted"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("/metrics missing %q", want)
		}
	}
}

func TestResolveOrganizations(t *testing.T) {
	_, upstream := newFakeClaude(t)
	cfg := testConfig(upstream.URL)
	creds := []domain.Credential{
		{SessionKey: goodKey},
		{SessionKey: deniedKey},
		{SessionKey: limitedKey, OrganizationID: "org-preset"},
	}

	results := resolveOrganizations(context.Background(), cfg, creds, 2, discardLogger())

	if len(results) != len(creds) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(creds))
	}
	if results[0].Err != nil || results[0].OrganizationID != "org-0002" {
		t.Errorf("results[0] = %+v, want org-0002", results[0])
	}
	if results[1].Err == nil {
		t.Errorf("results[1].Err = nil, want lookup failure")
	}
	if results[2].OrganizationID != "org-preset" || results[2].Err != nil {
		t.Errorf("results[2] = %+v, want preset organization untouched", results[2])
	}

	var out bytes.Buffer
	if failed := printOrgResults(&out, results); failed != 1 {
		t.Errorf("printOrgResults() failed = %d, want 1", failed)
	}
	for _, key := range []string{goodKey, deniedKey, limitedKey} {
		if strings.Contains(out.String(), key) {
			t.Errorf("output leaks session key %q", key)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)

	if !strings.Contains(out.String(), "HPN C-Relay "+Version) {
		t.Errorf("version output = %q, want version line", out.String())
	}
}
