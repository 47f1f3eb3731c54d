package adapter

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/hpn/hpn-c-relay/internal/domain"
)

const (
	scannerInitialBuffer = 64 * 1024
	scannerMaxBuffer     = 8 * 1024 * 1024

	// RateLimitMessage is reported when the completion endpoint returns 429.
	RateLimitMessage = "Rate limit exceeded"
)

// completionTemplate holds the fixed attributes of every completion request.
const completionTemplate = `{
  "personalized_styles": [{
    "type": "default",
    "key": "Default",
    "name": "Normal",
    "nameKey": "normal_style_name",
    "prompt": "Normal",
    "summary": "Default responses from Claude",
    "summaryKey": "normal_style_summary",
    "isDefault": true
  }],
  "tools": [{"type": "web_search_v0", "name": "web_search"}],
  "parent_message_uuid": "00000000-0000-4000-8000-000000000000",
  "attachments": [],
  "files": [],
  "sync_sources": [],
  "rendering_mode": "messages",
  "timezone": "America/New_York"
}`

// BuildCompletionPayload fills the completion template for req.
func BuildCompletionPayload(req SendRequest) ([]byte, error) {
	payload, err := sjson.SetBytes([]byte(completionTemplate), "prompt", req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("set prompt: %w", err)
	}
	if len(req.FileIDs) > 0 {
		if payload, err = sjson.SetBytes(payload, "files", req.FileIDs); err != nil {
			return nil, fmt.Errorf("set files: %w", err)
		}
	}
	if len(req.Attachments) > 0 {
		if payload, err = sjson.SetBytes(payload, "attachments", req.Attachments); err != nil {
			return nil, fmt.Errorf("set attachments: %w", err)
		}
	}
	return payload, nil
}

// SendMessage posts the prompt to conv and decodes the streamed reply.
// A transport failure is returned as an error; any non-2xx status yields a
// channel carrying a single Error event.
func (c *ClaudeClient) SendMessage(ctx context.Context, conv domain.Conversation, req SendRequest) (<-chan domain.Event, error) {
	const op = "completion"

	orgID := conv.OrganizationID
	if orgID == "" {
		orgID = c.orgID
	}
	if orgID == "" {
		return nil, newUpstreamError(op, domain.ErrUpstreamStream, 0, "organization not set", nil)
	}

	payload, err := BuildCompletionPayload(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build completion payload: %w", err)
	}

	path := fmt.Sprintf("/organizations/%s/chat_conversations/%s/completion", orgID, conv.ID)
	resp, err := c.do(ctx, op, http.MethodPost, path, bytes.NewReader(payload), map[string]string{
		"Referer":       webOrigin + "/chat/" + conv.ID,
		"Cache-Control": "no-cache",
	})
	if err != nil {
		return nil, newUpstreamError(op, domain.ErrUpstreamStream, 0, "", err)
	}

	c.logger.Info("completion response", slog.Int("status", resp.StatusCode))

	events := make(chan domain.Event, 16)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := RateLimitMessage
		if resp.StatusCode != http.StatusTooManyRequests {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			msg = fmt.Sprintf("upstream returned status %d", resp.StatusCode)
			if reason := errorMessage(body); reason != "" {
				msg += ": " + reason
			}
		}
		resp.Body.Close()
		events <- domain.ErrorEvent(msg)
		close(events)
		return events, nil
	}

	go func() {
		defer close(events)
		defer resp.Body.Close()
		NewStreamDecoder(resp.Body, req.Stream, c.logger).Run(ctx, events)
	}()

	return events, nil
}

// StreamDecoder turns upstream "data: " lines into normalized events.
type StreamDecoder struct {
	r      io.Reader
	stream bool
	logger *slog.Logger
}

// NewStreamDecoder creates a decoder. When stream is false the deltas are
// only accumulated and emitted as one Text event at the end.
func NewStreamDecoder(r io.Reader, stream bool, logger *slog.Logger) *StreamDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamDecoder{r: r, stream: stream, logger: logger}
}

// Run decodes until the reader closes, an error event arrives, or ctx is
// done. Every clean close ends with exactly one Done event.
func (d *StreamDecoder) Run(ctx context.Context, out chan<- domain.Event) {
	emit := func(ev domain.Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(d.r)
	scanner.Buffer(make([]byte, 0, scannerInitialBuffer), scannerMaxBuffer)

	var full strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := line[len("data: "):]
		if data == "" {
			continue
		}
		if !gjson.Valid(data) {
			d.logger.Warn("failed to parse stream event", slog.String("data", truncate(data, 200)))
			continue
		}

		ev, ok := classify(gjson.Parse(data))
		if !ok {
			continue
		}
		if ev.Type == domain.EventError {
			emit(ev)
			return
		}

		full.WriteString(ev.Content)
		if d.stream && !emit(ev) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		d.logger.Error("stream read failed", slog.String("error", err.Error()))
		emit(domain.ErrorEvent(fmt.Sprintf("stream read failed: %v", err)))
		return
	}

	if !d.stream && !emit(domain.TextEvent(full.String())) {
		return
	}
	emit(domain.DoneEvent())
}

// classify maps one decoded payload to an event. Provider completion and
// message_stop markers are ignored; the reader closing ends the stream.
func classify(payload gjson.Result) (domain.Event, bool) {
	if msg := payload.Get("error.message"); msg.Exists() {
		return domain.ErrorEvent(msg.String()), true
	}

	delta := payload.Get("delta")
	switch delta.Get("type").String() {
	case "text_delta":
		if text := delta.Get("text"); text.Exists() {
			return domain.TextEvent(text.String()), true
		}
	case "thinking_delta":
		if text := delta.Get("thinking"); text.Exists() {
			return domain.ThinkingEvent(text.String()), true
		}
		if text := delta.Get("THINKING"); text.Exists() {
			return domain.ThinkingEvent(text.String()), true
		}
	}

	return domain.Event{}, false
}
