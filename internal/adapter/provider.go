// Package adapter provides implementations for external AI provider integrations.
// It uses the Adapter pattern to abstract provider-specific APIs behind a common interface.
package adapter

import (
	"context"

	"github.com/hpn/hpn-c-relay/internal/domain"
)

// Upstream is one credential's view of the conversation API. A value is
// created per attempt and is bound to a single session key.
type Upstream interface {
	// ResolveOrganization looks up the organization id for the bound session
	// and makes it the client's active organization.
	ResolveOrganization(ctx context.Context) (string, error)

	// SetOrganization sets a previously resolved organization id.
	SetOrganization(orgID string)

	// UploadFiles uploads each data URI and returns the upstream file ids in order.
	UploadFiles(ctx context.Context, dataURIs []string) ([]string, error)

	// CreateConversation opens a new conversation for model.
	CreateConversation(ctx context.Context, model string) (domain.Conversation, error)

	// SendMessage posts the prompt and returns the normalized event stream.
	// The channel is closed after a terminal event or when ctx is done.
	SendMessage(ctx context.Context, conv domain.Conversation, req SendRequest) (<-chan domain.Event, error)

	// DeleteConversation removes a conversation.
	DeleteConversation(ctx context.Context, conv domain.Conversation) error
}

// SendRequest is the per-attempt completion input.
type SendRequest struct {
	// Prompt is the text to send.
	Prompt string

	// FileIDs are upstream ids returned by UploadFiles.
	FileIDs []string

	// Attachments are inline text files, e.g. the oversized-context file.
	Attachments []domain.TextAttachment

	// Stream selects incremental events; otherwise one aggregated Text is emitted.
	Stream bool
}

var _ Upstream = (*ClaudeClient)(nil)
