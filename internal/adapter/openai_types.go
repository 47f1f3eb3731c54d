// Package adapter provides implementations for external AI provider integrations.
package adapter

import (
	"bytes"
	"encoding/json"
)

// OpenAI-compatible request/response types.
// These types mirror the OpenAI API format for maximum compatibility.

// OpenAIRequest represents an OpenAI chat completion request.
type OpenAIRequest struct {
	// Model specifies which model to use (e.g., "claude-3-7-sonnet-20250219").
	Model string `json:"model"`

	// Messages contains the conversation history.
	Messages []OpenAIMessage `json:"messages"`

	// Stream enables server-sent events for streaming.
	Stream bool `json:"stream"`

	// Tools is accepted for compatibility and ignored.
	Tools []json.RawMessage `json:"tools,omitempty"`
}

// OpenAIMessage represents a single message in the conversation.
type OpenAIMessage struct {
	// Role is one of: "system", "user", "assistant". Other values are relayed as "Unknown".
	Role string `json:"role"`

	// Content is either a plain string or an ordered list of typed parts.
	Content MessageContent `json:"content"`
}

// MessageContent holds a message body that is either a string or a list of parts.
type MessageContent struct {
	// Present is false when the field was missing or null.
	Present bool

	// IsText is true when the JSON value was a string.
	IsText bool

	// Text is the string body when IsText is set.
	Text string

	// Parts is the typed part list when the JSON value was an array.
	Parts []ContentPart
}

// ContentPart is one element of an array-valued message content.
type ContentPart struct {
	// Type is "text" or "image_url"; anything else is ignored by the assembler.
	Type string `json:"type"`

	// Text is set for "text" parts.
	Text *string `json:"text,omitempty"`

	// ImageURL is set for "image_url" parts.
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL wraps an image reference, usually a data URI.
type ImageURL struct {
	URL string `json:"url"`
}

// TextContent builds a string-valued MessageContent.
func TextContent(s string) MessageContent {
	return MessageContent{Present: true, IsText: true, Text: s}
}

// PartsContent builds an array-valued MessageContent.
func PartsContent(parts ...ContentPart) MessageContent {
	return MessageContent{Present: true, Parts: parts}
}

// TextPart builds a "text" part.
func TextPart(s string) ContentPart {
	return ContentPart{Type: "text", Text: &s}
}

// ImagePart builds an "image_url" part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}}
}

// UnmarshalJSON accepts a string, an array of parts, or null.
// Array elements that are not objects are dropped rather than rejected.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	*c = MessageContent{}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	c.Present = true
	switch trimmed[0] {
	case '"':
		c.IsText = true
		return json.Unmarshal(trimmed, &c.Text)
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		for _, item := range raw {
			var part ContentPart
			if err := json.Unmarshal(item, &part); err != nil {
				continue
			}
			c.Parts = append(c.Parts, part)
		}
	}
	return nil
}

// MarshalJSON writes the string or part list form.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	switch {
	case !c.Present:
		return []byte("null"), nil
	case c.IsText:
		return json.Marshal(c.Text)
	default:
		if c.Parts == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.Parts)
	}
}

// OpenAIResponse represents an OpenAI chat completion response.
type OpenAIResponse struct {
	// ID is the unique identifier for this completion.
	ID string `json:"id"`

	// Object is always "chat.completion".
	Object string `json:"object"`

	// Created is the Unix timestamp of when the completion was created.
	Created int64 `json:"created"`

	// Model is the model used for completion.
	Model string `json:"model"`

	// Choices contains the generated completions.
	Choices []OpenAIChoice `json:"choices"`

	// Usage is always zero-valued; token accounting is not performed.
	Usage OpenAIUsage `json:"usage"`
}

// OpenAIChoice represents a single completion choice.
type OpenAIChoice struct {
	// Index is the position of this choice in the list.
	Index int `json:"index"`

	// Message contains the generated message.
	Message OpenAIResponseMessage `json:"message"`

	// Logprobs is always null.
	Logprobs interface{} `json:"logprobs"`

	// FinishReason indicates why the model stopped generating.
	FinishReason string `json:"finish_reason"`
}

// OpenAIResponseMessage is the assistant message of a non-streaming response.
type OpenAIResponseMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	Refusal    interface{}   `json:"refusal"`
	Annotation []interface{} `json:"annotation"`
}

// OpenAIStreamResponse represents one chat.completion.chunk.
type OpenAIStreamResponse struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []OpenAIStreamChoice `json:"choices"`
}

// OpenAIStreamChoice is a single choice inside a chunk.
type OpenAIStreamChoice struct {
	Index        int         `json:"index"`
	Delta        OpenAIDelta `json:"delta"`
	Logprobs     interface{} `json:"logprobs"`
	FinishReason interface{} `json:"finish_reason"`
}

// OpenAIDelta carries incremental content.
type OpenAIDelta struct {
	Content string `json:"content"`
}

// OpenAIUsage contains token usage statistics.
type OpenAIUsage struct {
	// PromptTokens is the number of tokens in the prompt.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens is the number of tokens in the completion.
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is the sum of prompt and completion tokens.
	TotalTokens int `json:"total_tokens"`
}

// OpenAIModelList is the response of GET /v1/models.
type OpenAIModelList struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}

// OpenAIModel describes one model entry.
type OpenAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// OpenAIError represents an error response from OpenAI-compatible APIs.
type OpenAIError struct {
	Error OpenAIErrorDetail `json:"error"`
}

// OpenAIErrorDetail contains the error details.
type OpenAIErrorDetail struct {
	// Message is the human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error (e.g., "invalid_request_error").
	Type string `json:"type"`

	// Param is the parameter that caused the error.
	Param *string `json:"param"`

	// Code is the error code.
	Code *string `json:"code"`
}
