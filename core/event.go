package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType categorizes an Event.
type EventType string

const (
	// EventMessage carries an assistant message appended to the transcript.
	EventMessage EventType = "message"
	// EventMessageDelta carries a fragment of assistant text still being
	// generated. The complete text follows in an EventMessage.
	EventMessageDelta EventType = "message_delta"
	// EventToolCall announces a tool call about to be dispatched.
	EventToolCall EventType = "tool_call"
	// EventToolResult carries the result of a dispatched tool call.
	EventToolResult EventType = "tool_result"
	// EventRunComplete is the terminal event of a successful run.
	EventRunComplete EventType = "run_complete"
)

// Usage holds token counters.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// MessageDelta is a fragment of a partial assistant message. Attempt numbers
// the model attempt that produced it; when a failed attempt is retried the
// fragments of the earlier attempt are void.
type MessageDelta struct {
	Text    string `json:"text"`
	Attempt int    `json:"attempt"`
}

// Event is the unit of communication between the engine and its consumers.
// After emission it should be treated as immutable. Exactly one of Message,
// ToolCall, ToolResult or Delta is set for the corresponding type; Usage is
// set on EventMessage (per-call usage) and EventRunComplete (run totals).
type Event struct {
	ID         string        `json:"id"`
	RunID      string        `json:"run_id"`
	Type       EventType     `json:"type"`
	Timestamp  time.Time     `json:"timestamp"`
	Message    *Message      `json:"message,omitempty"`
	ToolCall   *ToolCall     `json:"tool_call,omitempty"`
	ToolResult *ToolResult   `json:"tool_result,omitempty"`
	Delta      *MessageDelta `json:"delta,omitempty"`
	Usage      *Usage        `json:"usage,omitempty"`
}

// NewEvent creates a bare event bound to a run.
func NewEvent(runID string, typ EventType) Event {
	return Event{
		ID:        NewID(),
		RunID:     runID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
	}
}

// NewMessageEvent wraps an assistant message together with the usage of the
// model call that produced it.
func NewMessageEvent(runID string, m Message, usage Usage) Event {
	e := NewEvent(runID, EventMessage)
	e.Message = &m
	e.Usage = &usage
	return e
}

// NewMessageDeltaEvent wraps a fragment of assistant text.
func NewMessageDeltaEvent(runID, text string, attempt int) Event {
	e := NewEvent(runID, EventMessageDelta)
	e.Delta = &MessageDelta{Text: text, Attempt: attempt}
	return e
}

// NewToolCallEvent announces a tool call.
func NewToolCallEvent(runID string, call ToolCall) Event {
	e := NewEvent(runID, EventToolCall)
	e.ToolCall = &call
	return e
}

// NewToolResultEvent records the completion of a tool call.
func NewToolResultEvent(runID string, r ToolResult) Event {
	e := NewEvent(runID, EventToolResult)
	e.ToolResult = &r
	return e
}

// NewRunCompleteEvent marks successful termination with run totals.
func NewRunCompleteEvent(runID string, usage Usage) Event {
	e := NewEvent(runID, EventRunComplete)
	e.Usage = &usage
	return e
}

// NewID generates a new unique identifier.
func NewID() string { return uuid.NewString() }

// IsTerminal reports whether the event ends the run.
func (e Event) IsTerminal() bool { return e.Type == EventRunComplete }
