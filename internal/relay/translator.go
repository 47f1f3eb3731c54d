package relay

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hpn/hpn-c-relay/internal/adapter"
	"github.com/hpn/hpn-c-relay/internal/domain"
)

// DoneMarker terminates an OpenAI event stream.
const DoneMarker = "[DONE]"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>\n"
)

// Translator converts normalized events into OpenAI response objects for one
// request. With thinking wrapped, reasoning deltas are enclosed in
// <think></think> tags in the content stream.
type Translator struct {
	id           string
	model        string
	created      int64
	wrapThinking bool
	inThinking   bool
}

// NewTranslator creates a translator with a fresh completion id.
func NewTranslator(model string, wrapThinking bool) *Translator {
	return &Translator{
		id:           "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		model:        model,
		created:      time.Now().Unix(),
		wrapThinking: wrapThinking,
	}
}

// ID returns the completion id shared by every chunk.
func (t *Translator) ID() string {
	return t.id
}

// Chunk maps a Text or Thinking event to a streaming chunk. Other events
// and empty content produce no chunk.
func (t *Translator) Chunk(ev domain.Event) (adapter.OpenAIStreamResponse, bool) {
	if !ev.IsContent() {
		return adapter.OpenAIStreamResponse{}, false
	}

	content := ev.Content
	if t.wrapThinking {
		switch {
		case ev.Type == domain.EventThinking && !t.inThinking:
			content = thinkOpen + content
			t.inThinking = true
		case ev.Type == domain.EventText && t.inThinking:
			content = thinkClose + content
			t.inThinking = false
		}
	}

	return t.chunk(content, nil), true
}

// Finish returns a closing chunk when a thinking block is still open.
func (t *Translator) Finish() (adapter.OpenAIStreamResponse, bool) {
	if !t.inThinking {
		return adapter.OpenAIStreamResponse{}, false
	}
	t.inThinking = false
	return t.chunk(thinkClose, nil), true
}

// ErrorChunk reports a failure inside an already started stream.
func (t *Translator) ErrorChunk(message string) adapter.OpenAIStreamResponse {
	return t.chunk("\n\n[relay error] "+message, "error")
}

// Completion builds the non-streaming response with zeroed usage.
func (t *Translator) Completion(text string) adapter.OpenAIResponse {
	return adapter.OpenAIResponse{
		ID:      t.id,
		Object:  "chat.completion",
		Created: t.created,
		Model:   t.model,
		Choices: []adapter.OpenAIChoice{
			{
				Index: 0,
				Message: adapter.OpenAIResponseMessage{
					Role:       "assistant",
					Content:    text,
					Annotation: []interface{}{},
				},
				FinishReason: "stop",
			},
		},
		Usage: adapter.OpenAIUsage{},
	}
}

func (t *Translator) chunk(content string, finish interface{}) adapter.OpenAIStreamResponse {
	return adapter.OpenAIStreamResponse{
		ID:      t.id,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Model:   t.model,
		Choices: []adapter.OpenAIStreamChoice{
			{
				Index:        0,
				Delta:        adapter.OpenAIDelta{Content: content},
				FinishReason: finish,
			},
		},
	}
}
