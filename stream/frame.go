package stream

import (
	"github.com/hupe1980/agentrun/core"
)

// FrameType names the SSE event of a frame.
type FrameType string

const (
	FrameMessage    FrameType = "message"
	FrameDelta      FrameType = "message_delta"
	FrameToolCall   FrameType = "tool_call"
	FrameToolResult FrameType = "tool_result"
	FrameDone       FrameType = "done"
	FrameError      FrameType = "error"
)

// Frame is the JSON payload of one SSE event.
type Frame struct {
	Type       FrameType        `json:"type"`
	RunID      string           `json:"run_id,omitempty"`
	Text       string           `json:"text,omitempty"`
	Attempt    int              `json:"attempt,omitempty"`
	ToolCalls  []core.ToolCall  `json:"tool_calls,omitempty"`
	ToolCall   *core.ToolCall   `json:"tool_call,omitempty"`
	ToolResult *core.ToolResult `json:"tool_result,omitempty"`
	Usage      *core.Usage      `json:"usage,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// IsTerminal reports whether f ends a stream.
func (f Frame) IsTerminal() bool { return f.Type == FrameDone || f.Type == FrameError }

// FromEvent converts a run event into a frame. Error-flagged tool results
// lose their payload, which may carry internal detail, and get a caller-safe
// message instead.
func FromEvent(ev core.Event) Frame {
	f := Frame{RunID: ev.RunID}
	switch ev.Type {
	case core.EventMessage:
		f.Type = FrameMessage
		if ev.Message != nil {
			f.Text = ev.Message.Text()
			f.ToolCalls = ev.Message.ToolCalls
		}
		f.Usage = ev.Usage
	case core.EventMessageDelta:
		f.Type = FrameDelta
		if ev.Delta != nil {
			f.Text = ev.Delta.Text
			f.Attempt = ev.Delta.Attempt
		}
	case core.EventToolCall:
		f.Type = FrameToolCall
		f.ToolCall = ev.ToolCall
	case core.EventToolResult:
		f.Type = FrameToolResult
		if ev.ToolResult != nil {
			r := *ev.ToolResult
			if r.IsError {
				f.Error = messageForCode(toolResultCode(r.Result))
				r.Result = nil
			}
			f.ToolResult = &r
		}
	case core.EventRunComplete:
		f.Type = FrameDone
		f.Usage = ev.Usage
	default:
		f.Type = FrameType(ev.Type)
	}
	return f
}

// ErrorFrame builds the terminal frame of a failed run.
func ErrorFrame(runID string, err error) Frame {
	return Frame{Type: FrameError, RunID: runID, Error: UserMessage(err)}
}
