package domain

// EventType tags a normalized stream event.
type EventType string

const (
	// EventText carries incremental (or, for non-streaming requests, aggregated) assistant text.
	EventText EventType = "text"

	// EventThinking carries incremental reasoning trace.
	EventThinking EventType = "thinking"

	// EventError is terminal and carries the upstream error message.
	EventError EventType = "error"

	// EventDone is terminal and marks a cleanly closed stream.
	EventDone EventType = "done"
)

// Event is the relay's internal representation of one upstream stream payload,
// independent of the upstream wire format.
type Event struct {
	Type    EventType
	Content string
}

// TextEvent returns a Text event.
func TextEvent(content string) Event { return Event{Type: EventText, Content: content} }

// ThinkingEvent returns a Thinking event.
func ThinkingEvent(content string) Event { return Event{Type: EventThinking, Content: content} }

// ErrorEvent returns an Error event.
func ErrorEvent(message string) Event { return Event{Type: EventError, Content: message} }

// DoneEvent returns the Done event.
func DoneEvent() Event { return Event{Type: EventDone} }

// IsTerminal reports whether no further events follow this one.
func (e Event) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// IsContent reports whether the event carries deliverable content.
func (e Event) IsContent() bool {
	return (e.Type == EventText || e.Type == EventThinking) && e.Content != ""
}
