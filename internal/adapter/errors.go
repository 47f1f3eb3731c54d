package adapter

import (
	"fmt"
)

// UpstreamError describes a failed call to the upstream conversation API.
// Kind is one of the domain sentinels so callers can use errors.Is.
type UpstreamError struct {
	// Op is the operation that failed (e.g., "create_conversation").
	Op string

	// StatusCode is the HTTP status, zero for transport failures.
	StatusCode int

	// Message is a short human-readable reason.
	Message string

	// Kind is the domain sentinel this failure maps to.
	Kind error

	// Err is the underlying transport or decoding error, if any.
	Err error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("upstream %s", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" [%d]", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *UpstreamError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newUpstreamError(op string, kind error, status int, message string, cause error) *UpstreamError {
	return &UpstreamError{
		Op:         op,
		StatusCode: status,
		Message:    message,
		Kind:       kind,
		Err:        cause,
	}
}
