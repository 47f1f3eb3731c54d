// Package handler provides the OpenAI-compatible HTTP surface of the relay.
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hpn/hpn-c-relay/internal/adapter"
	"github.com/hpn/hpn-c-relay/internal/domain"
	"github.com/hpn/hpn-c-relay/internal/metrics"
	"github.com/hpn/hpn-c-relay/internal/prompt"
	"github.com/hpn/hpn-c-relay/internal/relay"
	"github.com/hpn/hpn-c-relay/internal/security"
)

const (
	// DefaultModel is used when a request names no model.
	DefaultModel = "claude-3-7-sonnet-20250219"

	// modelCreated is the fixed creation timestamp reported by /v1/models.
	modelCreated = 1740441600
)

// DefaultModels are advertised by GET /v1/models.
var DefaultModels = []string{
	DefaultModel,
	DefaultModel + adapter.ThinkSuffix,
}

// Context keys shared with the middleware.
const (
	ctxSessionUsed = "session_used"
	ctxAttempts    = "attempts"
	ctxHeaderPool  = "header_pool"
)

// ProxyHandler serves chat completions through the relay orchestrator.
type ProxyHandler struct {
	orchestrator *relay.Orchestrator
	promptOpts   prompt.Options
	wrapThinking bool
	models       []string
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// ProxyHandlerOption is a functional option for configuring ProxyHandler.
type ProxyHandlerOption func(*ProxyHandler)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ProxyHandlerOption {
	return func(h *ProxyHandler) {
		h.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) ProxyHandlerOption {
	return func(h *ProxyHandler) {
		h.metrics = m
	}
}

// WithPromptOptions sets the prompt assembly options used for every request.
func WithPromptOptions(opts prompt.Options) ProxyHandlerOption {
	return func(h *ProxyHandler) {
		h.promptOpts = opts
	}
}

// WithWrapThinking wraps streamed reasoning in <think> tags.
func WithWrapThinking(enabled bool) ProxyHandlerOption {
	return func(h *ProxyHandler) {
		h.wrapThinking = enabled
	}
}

// WithModels overrides the advertised model list.
func WithModels(models []string) ProxyHandlerOption {
	return func(h *ProxyHandler) {
		if len(models) > 0 {
			h.models = models
		}
	}
}

// NewProxyHandler creates a new ProxyHandler.
func NewProxyHandler(orchestrator *relay.Orchestrator, opts ...ProxyHandlerOption) *ProxyHandler {
	h := &ProxyHandler{
		orchestrator: orchestrator,
		promptOpts:   prompt.Options{MaxLength: prompt.DefaultMaxLength},
		models:       DefaultModels,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// HandleChatCompletion handles POST /v1/chat/completions.
func (h *ProxyHandler) HandleChatCompletion(c *gin.Context) {
	start := time.Now()

	var req adapter.OpenAIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.sendOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "Invalid request body: "+err.Error())
		return
	}

	if len(req.Messages) == 0 {
		h.sendOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "messages array is required")
		return
	}

	if req.Model == "" {
		req.Model = DefaultModel
	}

	assembler := prompt.NewAssembler(h.promptOpts, prompt.WithLogger(h.logger))
	assembled := assembler.Assemble(req.Messages)
	if assembled.IsEmpty() {
		h.sendOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "messages contain no text or image content")
		return
	}

	relayReq := relay.Request{
		Model:     req.Model,
		Stream:    req.Stream,
		Prompt:    assembled,
		Assembler: assembler,
		Pool:      headerPool(c),
	}

	h.logger.Debug("chat completion received",
		slog.String("model", req.Model),
		slog.Bool("stream", req.Stream),
		slog.Int("messages", len(req.Messages)),
		slog.Int("images", len(assembled.Images)),
	)

	translator := relay.NewTranslator(req.Model, h.wrapThinking && req.Stream)

	if req.Stream {
		h.stream(c, relayReq, translator, start)
		return
	}

	res, err := h.orchestrator.Execute(c.Request.Context(), relayReq, discard)
	h.annotate(c, res)

	if err != nil {
		h.finish(req.Stream, err, start)
		if errors.Is(err, domain.ErrClientDisconnected) {
			c.Abort()
			return
		}
		h.sendOpenAIError(c, http.StatusServiceUnavailable, "server_error", clientMessage(err))
		return
	}

	h.finish(req.Stream, nil, start)
	c.JSON(http.StatusOK, translator.Completion(res.Text))
}

// stream runs a streaming request. Content chunks are written as they
// arrive; a failure after the first chunk is reported inside the stream.
func (h *ProxyHandler) stream(c *gin.Context, req relay.Request, translator *relay.Translator, start time.Time) {
	w := newStreamWriter(c)

	sink := func(ev domain.Event) error {
		chunk, ok := translator.Chunk(ev)
		if !ok {
			return nil
		}
		return w.json(chunk)
	}

	res, err := h.orchestrator.Execute(c.Request.Context(), req, sink)
	h.annotate(c, res)
	defer h.finish(true, err, start)

	switch {
	case err == nil:
		if chunk, ok := translator.Finish(); ok {
			_ = w.json(chunk)
		}
		_ = w.done()

	case errors.Is(err, domain.ErrClientDisconnected):
		c.Abort()

	case w.started:
		if chunk, ok := translator.Finish(); ok {
			_ = w.json(chunk)
		}
		_ = w.json(translator.ErrorChunk(clientMessage(err)))
		_ = w.done()

	default:
		h.sendOpenAIError(c, http.StatusServiceUnavailable, "server_error", clientMessage(err))
	}
}

// annotate stores request metadata for the logging middleware.
func (h *ProxyHandler) annotate(c *gin.Context, res relay.Result) {
	c.Set(ctxAttempts, res.Attempts)
	if res.SessionKey != "" {
		c.Set(ctxSessionUsed, res.SessionKey)
	}
}

// finish records the request outcome.
func (h *ProxyHandler) finish(stream bool, err error, start time.Time) {
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrClientDisconnected):
		outcome = "disconnected"
	default:
		outcome = "failed"
		h.logger.Error("chat completion failed",
			slog.Bool("stream", stream),
			slog.String("error", err.Error()),
		)
	}
	h.metrics.ObserveRequest(stream, outcome, time.Since(start))
}

// sendOpenAIError sends an error response in OpenAI-compatible format.
func (h *ProxyHandler) sendOpenAIError(c *gin.Context, status int, errType, message string) {
	c.AbortWithStatusJSON(status, adapter.OpenAIError{
		Error: adapter.OpenAIErrorDetail{
			Message: message,
			Type:    errType,
		},
	})
}

// HandleModels handles GET /v1/models.
func (h *ProxyHandler) HandleModels(c *gin.Context) {
	list := adapter.OpenAIModelList{
		Object: "list",
		Data:   make([]adapter.OpenAIModel, 0, len(h.models)),
	}
	for _, id := range h.models {
		list.Data = append(list.Data, adapter.OpenAIModel{
			ID:      id,
			Object:  "model",
			Created: modelCreated,
			OwnedBy: "anthropic",
		})
	}
	c.JSON(http.StatusOK, list)
}

// HandleHealth handles GET /health.
func (h *ProxyHandler) HandleHealth(c *gin.Context) {
	pool := h.orchestrator.Pool()

	status := "ok"
	if pool.Size() == 0 {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        status,
		"sessions":      pool.Size(),
		"resolved_orgs": pool.ResolvedCount(),
	})
}

// headerPool returns the per-request pool installed by APIKeyAuthMiddleware.
func headerPool(c *gin.Context) *domain.CredentialPool {
	v, ok := c.Get(ctxHeaderPool)
	if !ok {
		return nil
	}
	pool, _ := v.(*domain.CredentialPool)
	return pool
}

// clientMessage is the human-readable failure forwarded to callers.
func clientMessage(err error) string {
	return security.Redact(err.Error())
}

func discard(domain.Event) error { return nil }
