// Package relay drives one chat request across the credential pool: it runs
// the per-attempt conversation lifecycle, fails over between credentials and
// hands created conversations to the cleanup scheduler.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hpn/hpn-c-relay/internal/adapter"
	"github.com/hpn/hpn-c-relay/internal/domain"
	"github.com/hpn/hpn-c-relay/internal/metrics"
	"github.com/hpn/hpn-c-relay/internal/prompt"
	"github.com/hpn/hpn-c-relay/internal/security"
)

// MaxDefaultRetries caps the retry count derived from the pool size.
const MaxDefaultRetries = 5

// ClientFactory binds a credential to a fresh upstream client.
type ClientFactory func(cred domain.Credential) adapter.Upstream

// Scheduler accepts conversations for background deletion.
type Scheduler interface {
	Schedule(task CleanupTask)
}

// EventSink receives content events as they arrive for streaming requests.
// A non-nil error means the caller is gone.
type EventSink func(ev domain.Event) error

// Request is one chat completion handed to the orchestrator.
type Request struct {
	Model  string
	Stream bool

	// Prompt is the assembled prompt; each attempt works on a restored copy.
	Prompt prompt.AssembledPrompt

	// Assembler applies the oversized-context policy per attempt.
	Assembler *prompt.Assembler

	// Pool overrides the orchestrator's pool for this request when set.
	Pool *domain.CredentialPool
}

// Result describes a successful request.
type Result struct {
	// Text is every content delta concatenated; for non-streaming requests
	// it is the response body.
	Text string

	// Attempts is the number of attempts made, including the successful one.
	Attempts int

	// SessionKey identifies the credential that served the request.
	SessionKey string

	// Events counts content events delivered to the sink.
	Events int
}

// AttemptError is returned when an upstream failure happened after content
// had already been streamed to the caller, so no retry was possible.
type AttemptError struct {
	Attempt int
	Err     error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("attempt %d failed after streaming began: %v", e.Attempt, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// Orchestrator runs requests with cross-credential failover.
type Orchestrator struct {
	pool       *domain.CredentialPool
	newClient  ClientFactory
	scheduler  Scheduler
	retryCount int
	chatDelete bool

	logger          *slog.Logger
	metrics         *metrics.Metrics
	onSwitch        func(from, to string)
	onAttemptFailed func(attempt int, sessionKey string, err error)
}

// OrchestratorOption configures the Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithRetryCount sets the retry count; zero or less derives it from the pool size.
func WithRetryCount(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.retryCount = n
	}
}

// WithChatDelete toggles deletion of created conversations.
func WithChatDelete(enabled bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.chatDelete = enabled
	}
}

// WithScheduler sets the cleanup scheduler.
func WithScheduler(s Scheduler) OrchestratorOption {
	return func(o *Orchestrator) {
		o.scheduler = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithSwitchHook is called when an attempt moves to a different credential.
func WithSwitchHook(fn func(from, to string)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.onSwitch = fn
	}
}

// WithAttemptFailedHook is called for every failed attempt.
func WithAttemptFailedHook(fn func(attempt int, sessionKey string, err error)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.onAttemptFailed = fn
	}
}

// NewOrchestrator creates an Orchestrator over pool.
func NewOrchestrator(pool *domain.CredentialPool, factory ClientFactory, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		pool:       pool,
		newClient:  factory,
		chatDelete: true,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Pool returns the shared credential pool.
func (o *Orchestrator) Pool() *domain.CredentialPool {
	return o.pool
}

// RetryCount returns the effective retry count for pool.
func (o *Orchestrator) RetryCount(pool *domain.CredentialPool) int {
	if o.retryCount > 0 {
		return o.retryCount
	}
	return min(pool.Size(), MaxDefaultRetries)
}

// Execute runs attempts 0..RetryCount inclusive until one completes with
// content. Streaming content is pushed to sink as it arrives.
func (o *Orchestrator) Execute(ctx context.Context, req Request, sink EventSink) (Result, error) {
	pool := req.Pool
	if pool == nil {
		pool = o.pool
	}
	retries := o.RetryCount(pool)

	var lastErr error
	var prevKey string

	for attempt := 0; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			return Result{Attempts: attempt}, domain.ErrClientDisconnected
		}

		cred, err := pool.Next()
		if err != nil {
			o.logger.Warn("no credential available",
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
			)
			o.metrics.IncAttempt("pool_exhausted")
			lastErr = err
			continue
		}

		if attempt > 0 && o.onSwitch != nil && prevKey != "" {
			o.onSwitch(prevKey, cred.SessionKey)
		}
		prevKey = cred.SessionKey

		if attempt > 0 && req.Assembler != nil {
			req.Assembler.Reset()
		}

		res, err := o.attempt(ctx, attempt+1, pool, cred, req, sink)
		res.Attempts = attempt + 1
		if err == nil {
			o.metrics.IncAttempt("success")
			o.logger.Info("request served",
				slog.String("session", security.MaskKey(cred.SessionKey)),
				slog.Int("attempts", res.Attempts),
			)
			return res, nil
		}

		o.metrics.IncAttempt("failed")
		o.logger.Warn("attempt failed",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", retries+1),
			slog.String("session", security.MaskKey(cred.SessionKey)),
			slog.String("error", err.Error()),
		)
		if o.onAttemptFailed != nil {
			o.onAttemptFailed(attempt+1, cred.SessionKey, err)
		}

		if errors.Is(err, domain.ErrClientDisconnected) {
			return res, err
		}
		var committed *AttemptError
		if errors.As(err, &committed) {
			return res, err
		}

		lastErr = err
	}

	if lastErr == nil {
		lastErr = domain.ErrPoolExhausted
	}
	return Result{Attempts: retries + 1}, fmt.Errorf("%w: %w", domain.ErrAllAttemptsFailed, lastErr)
}

// attempt runs one full conversation lifecycle on cred.
func (o *Orchestrator) attempt(ctx context.Context, n int, pool *domain.CredentialPool, cred domain.Credential, req Request, sink EventSink) (Result, error) {
	res := Result{SessionKey: cred.SessionKey}
	client := o.newClient(cred)

	// released on return so an abandoned stream reader stops
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cred.HasOrganization() {
		client.SetOrganization(cred.OrganizationID)
	} else {
		orgID, err := client.ResolveOrganization(attemptCtx)
		if err != nil {
			return res, disconnectOr(ctx, err)
		}
		pool.SetOrganizationID(cred.SessionKey, orgID)
		o.metrics.SetPool(pool.Size(), pool.ResolvedCount())
	}

	p := req.Prompt.Restore()

	fileIDs, err := client.UploadFiles(attemptCtx, p.Images)
	if err != nil {
		return res, disconnectOr(ctx, err)
	}

	conv, err := client.CreateConversation(attemptCtx, req.Model)
	if err != nil {
		return res, disconnectOr(ctx, err)
	}
	defer o.scheduleCleanup(client, conv, cred.SessionKey)

	if req.Assembler != nil {
		p = req.Assembler.ApplyContextLimit(p)
	}

	send := adapter.SendRequest{
		Prompt:  p.Text,
		FileIDs: fileIDs,
		Stream:  req.Stream,
	}
	if p.Context != nil {
		send.Attachments = []domain.TextAttachment{*p.Context}
	}

	events, err := client.SendMessage(attemptCtx, conv, send)
	if err != nil {
		return res, disconnectOr(ctx, err)
	}

	var text strings.Builder
	delivered := false
	for ev := range events {
		if ctx.Err() != nil {
			return res, domain.ErrClientDisconnected
		}

		switch ev.Type {
		case domain.EventError:
			err := fmt.Errorf("%w: %s", streamErrorKind(ev.Content), ev.Content)
			if delivered && req.Stream {
				return res, &AttemptError{Attempt: n, Err: err}
			}
			return res, err

		case domain.EventText, domain.EventThinking:
			if !ev.IsContent() {
				continue
			}
			text.WriteString(ev.Content)
			if req.Stream {
				if err := sink(ev); err != nil {
					return res, fmt.Errorf("%w: %v", domain.ErrClientDisconnected, err)
				}
				o.metrics.IncEvent(string(ev.Type))
				res.Events++
			}
			delivered = true

		case domain.EventDone:
			if !delivered {
				return res, domain.ErrEmptyCompletion
			}
			res.Text = text.String()
			return res, nil
		}
	}

	if ctx.Err() != nil {
		return res, domain.ErrClientDisconnected
	}
	err = fmt.Errorf("%w: stream ended without a terminal event", domain.ErrUpstreamStream)
	if delivered && req.Stream {
		return res, &AttemptError{Attempt: n, Err: err}
	}
	return res, err
}

func (o *Orchestrator) scheduleCleanup(client adapter.Upstream, conv domain.Conversation, sessionKey string) {
	if !o.chatDelete || o.scheduler == nil {
		return
	}
	o.scheduler.Schedule(CleanupTask{
		Deleter:      client,
		Conversation: conv,
		SessionKey:   sessionKey,
	})
}

// disconnectOr maps a failure caused by the caller going away to
// ErrClientDisconnected.
func disconnectOr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", domain.ErrClientDisconnected, err)
	}
	return err
}

func streamErrorKind(msg string) error {
	if msg == adapter.RateLimitMessage {
		return domain.ErrUpstreamRateLimited
	}
	return domain.ErrUpstreamStream
}
