package domain

import "errors"

// Retryable failures. The orchestrator absorbs these and moves on to the next
// credential.
var (
	// ErrPoolExhausted is returned when no credential is available in the pool.
	ErrPoolExhausted = errors.New("no session credentials available in the pool")

	// ErrAuthResolution is returned when the organization lookup fails.
	ErrAuthResolution = errors.New("organization resolution failed")

	// ErrAttachmentInvalid is returned for a malformed image data URI.
	ErrAttachmentInvalid = errors.New("invalid attachment data")

	// ErrAttachmentUpload is returned when the upstream rejects an upload.
	ErrAttachmentUpload = errors.New("attachment upload failed")

	// ErrConversationCreate is returned when the upstream refuses to create a conversation.
	ErrConversationCreate = errors.New("conversation creation failed")

	// ErrUpstreamRateLimited is returned for HTTP 429 from the completion endpoint.
	ErrUpstreamRateLimited = errors.New("upstream rate limit exceeded")

	// ErrUpstreamStream is returned when the upstream emits an error event or the
	// completion request cannot be opened.
	ErrUpstreamStream = errors.New("upstream stream error")

	// ErrEmptyCompletion is returned when a stream closes without delivering content.
	ErrEmptyCompletion = errors.New("upstream stream closed without content")
)

// Fatal or log-only failures.
var (
	// ErrClientDisconnected aborts the request without further retries.
	ErrClientDisconnected = errors.New("client disconnected")

	// ErrCleanupFailed is only ever logged.
	ErrCleanupFailed = errors.New("conversation cleanup failed")

	// ErrAllAttemptsFailed is the single generic failure surfaced after every
	// attempt has been spent.
	ErrAllAttemptsFailed = errors.New("all attempts failed")
)

// IsRetryable reports whether err should move the orchestrator to the next credential.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrClientDisconnected)
}
