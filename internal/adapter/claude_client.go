package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/hpn/hpn-c-relay/internal/domain"
)

const (
	// DefaultClaudeBaseURL is the default conversation API endpoint.
	DefaultClaudeBaseURL = "https://claude.ai/api"

	// DefaultTimeout bounds a whole upstream exchange, streamed body included.
	DefaultTimeout = 300 * time.Second

	// ThinkSuffix on a model name requests extended reasoning.
	ThinkSuffix = "-think"

	// defaultOrgTier marks the organization picked when a session has several.
	defaultOrgTier = "default_claude_ai"

	webOrigin = "https://claude.ai"

	// maxErrorBody caps how much of a failed response is read for its message.
	maxErrorBody = 64 * 1024
)

var defaultHeaders = map[string]string{
	"Accept":                    "text/event-stream, text/event-stream",
	"Accept-Language":           "en-US,en;q=0.9",
	"Anthropic-Client-Platform": "web_claude_ai",
	"Content-Type":              "application/json",
	"Origin":                    webOrigin,
	"Priority":                  "u=1, i",
}

// ClaudeClient talks to the claude.ai web conversation API on behalf of one
// session credential.
type ClaudeClient struct {
	sessionKey string
	orgID      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	observer   StatusObserver
}

// StatusObserver is notified of every upstream HTTP status.
type StatusObserver func(op string, status int)

// ClaudeClientOption is a functional option for configuring ClaudeClient.
type ClaudeClientOption func(*ClaudeClient)

// WithBaseURL sets a custom base URL for the conversation API.
func WithBaseURL(url string) ClaudeClientOption {
	return func(c *ClaudeClient) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client. Clients are usually shared across
// attempts so connections are reused.
func WithHTTPClient(client *http.Client) ClaudeClientOption {
	return func(c *ClaudeClient) {
		c.httpClient = client
	}
}

// WithOrganization presets an already resolved organization id.
func WithOrganization(orgID string) ClaudeClientOption {
	return func(c *ClaudeClient) {
		c.orgID = orgID
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClaudeClientOption {
	return func(c *ClaudeClient) {
		c.logger = logger
	}
}

// WithStatusObserver registers a callback for upstream status codes.
func WithStatusObserver(fn StatusObserver) ClaudeClientOption {
	return func(c *ClaudeClient) {
		c.observer = fn
	}
}

// NewHTTPClient builds the transport used for upstream calls. An empty proxy
// falls back to the environment proxy settings.
func NewHTTPClient(proxy string, timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:                 proxyFunc(proxy),
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Transport: tr, Timeout: timeout}
}

func proxyFunc(proxy string) func(*http.Request) (*url.URL, error) {
	if proxy != "" {
		if parsed, err := url.Parse(proxy); err == nil {
			return http.ProxyURL(parsed)
		}
	}
	return http.ProxyFromEnvironment
}

// NewClaudeClient binds a session key to a client. No network call is made.
func NewClaudeClient(sessionKey string, opts ...ClaudeClientOption) *ClaudeClient {
	c := &ClaudeClient{
		sessionKey: sessionKey,
		baseURL:    DefaultClaudeBaseURL,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = NewHTTPClient("", DefaultTimeout)
	}

	return c
}

// Organization returns the active organization id.
func (c *ClaudeClient) Organization() string {
	return c.orgID
}

// SetOrganization sets the active organization id.
func (c *ClaudeClient) SetOrganization(orgID string) {
	c.orgID = orgID
}

// ResolveOrganization lists the session's organizations. A single
// organization is used as is; otherwise the default-tier one is chosen.
func (c *ClaudeClient) ResolveOrganization(ctx context.Context) (string, error) {
	const op = "resolve_organization"

	resp, err := c.do(ctx, op, http.MethodGet, "/organizations", nil, map[string]string{
		"Referer": webOrigin + "/new",
	})
	if err != nil {
		return "", newUpstreamError(op, domain.ErrAuthResolution, 0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", newUpstreamError(op, domain.ErrAuthResolution, resp.StatusCode, "read body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", newUpstreamError(op, domain.ErrAuthResolution, resp.StatusCode, errorMessage(body), nil)
	}

	orgID, err := selectOrganization(body)
	if err != nil {
		return "", newUpstreamError(op, domain.ErrAuthResolution, resp.StatusCode, err.Error(), nil)
	}

	c.orgID = orgID
	return orgID, nil
}

func selectOrganization(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("invalid organizations payload")
	}
	orgs := gjson.ParseBytes(body).Array()
	if len(orgs) == 0 {
		return "", fmt.Errorf("no organizations found")
	}
	if len(orgs) == 1 {
		if id := orgs[0].Get("uuid").String(); id != "" {
			return id, nil
		}
		return "", fmt.Errorf("organization has no uuid")
	}
	for _, org := range orgs {
		if org.Get("rate_limit_tier").String() == defaultOrgTier {
			if id := org.Get("uuid").String(); id != "" {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("no default organization among %d", len(orgs))
}

type createConversationRequest struct {
	UUID                           string `json:"uuid"`
	Name                           string `json:"name"`
	Model                          string `json:"model"`
	IncludeConversationPreferences bool   `json:"include_conversation_preferences"`
	PaprikaMode                    string `json:"paprika_mode,omitempty"`
}

// CreateConversation opens a conversation. A model ending in ThinkSuffix is
// sent without the suffix and with extended reasoning enabled.
func (c *ClaudeClient) CreateConversation(ctx context.Context, model string) (domain.Conversation, error) {
	const op = "create_conversation"

	if c.orgID == "" {
		return domain.Conversation{}, newUpstreamError(op, domain.ErrConversationCreate, 0, "organization not set", nil)
	}

	payload := createConversationRequest{
		UUID:                           uuid.NewString(),
		Model:                          model,
		IncludeConversationPreferences: true,
	}
	if base, ok := strings.CutSuffix(model, ThinkSuffix); ok {
		payload.Model = base
		payload.PaprikaMode = "extended"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("failed to marshal conversation request: %w", err)
	}

	path := fmt.Sprintf("/organizations/%s/chat_conversations", c.orgID)
	resp, err := c.do(ctx, op, http.MethodPost, path, bytes.NewReader(body), map[string]string{
		"Referer": webOrigin + "/new",
	})
	if err != nil {
		return domain.Conversation{}, newUpstreamError(op, domain.ErrConversationCreate, 0, "", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return domain.Conversation{}, newUpstreamError(op, domain.ErrConversationCreate, resp.StatusCode, "read body", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return domain.Conversation{}, newUpstreamError(op, domain.ErrConversationCreate, resp.StatusCode, errorMessage(respBody), nil)
	}

	id := gjson.GetBytes(respBody, "uuid").String()
	if id == "" {
		return domain.Conversation{}, newUpstreamError(op, domain.ErrConversationCreate, resp.StatusCode, "response has no conversation uuid", nil)
	}

	return domain.Conversation{ID: id, OrganizationID: c.orgID}, nil
}

// DeleteConversation removes conv. Only 200 and 204 count as success.
func (c *ClaudeClient) DeleteConversation(ctx context.Context, conv domain.Conversation) error {
	const op = "delete_conversation"

	orgID := conv.OrganizationID
	if orgID == "" {
		orgID = c.orgID
	}
	if orgID == "" {
		return newUpstreamError(op, domain.ErrCleanupFailed, 0, "organization not set", nil)
	}

	body, err := json.Marshal(map[string]string{"uuid": conv.ID})
	if err != nil {
		return fmt.Errorf("failed to marshal delete request: %w", err)
	}

	path := fmt.Sprintf("/organizations/%s/chat_conversations/%s", orgID, conv.ID)
	resp, err := c.do(ctx, op, http.MethodDelete, path, bytes.NewReader(body), map[string]string{
		"Referer": webOrigin + "/chat/" + conv.ID,
	})
	if err != nil {
		return newUpstreamError(op, domain.ErrCleanupFailed, 0, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return newUpstreamError(op, domain.ErrCleanupFailed, resp.StatusCode, errorMessage(respBody), nil)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// do builds and executes an authenticated request against the base URL.
func (c *ClaudeClient) do(ctx context.Context, op, method, path string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for k, v := range defaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.AddCookie(&http.Cookie{Name: "sessionKey", Value: c.sessionKey})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("upstream response",
		slog.String("op", op),
		slog.Int("status", resp.StatusCode),
	)
	if c.observer != nil {
		c.observer(op, resp.StatusCode)
	}

	return resp, nil
}

// errorMessage extracts a readable reason from an upstream error body.
func errorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return msg.String()
	}
	if detail := gjson.GetBytes(body, "detail"); detail.Exists() && detail.Type == gjson.String {
		return detail.String()
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
