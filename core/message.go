package core

import (
	"encoding/json"
	"strings"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall describes a tool invocation requested by an assistant message.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult describes the outcome of a previously issued ToolCall.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result,omitempty"`
	IsError    bool            `json:"is_error"`
}

// Message is a single transcript entry. Messages are treated as immutable once
// appended to a transcript.
//
// Assistant messages may carry ToolCalls. Tool messages carry ToolCallID, Name
// and IsError together with the JSON result encoded as a single TextPart.
type Message struct {
	Role       Role
	Parts      []Part
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
	IsError    bool
}

// NewTextMessage creates a message with a single text part.
func NewTextMessage(role Role, text string) Message {
	m := Message{Role: role}
	if text != "" {
		m.Parts = []Part{TextPart{Text: text}}
	}
	return m
}

// NewToolResultMessage wraps a ToolResult as a tool-role transcript message.
func NewToolResultMessage(r ToolResult) Message {
	m := Message{
		Role:       RoleTool,
		ToolCallID: r.ToolCallID,
		Name:       r.Name,
		IsError:    r.IsError,
	}
	if len(r.Result) > 0 {
		m.Parts = []Part{TextPart{Text: string(r.Result)}}
	}
	return m
}

// Text concatenates all text parts in order.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}

// HasToolCalls reports whether the message requests at least one tool call.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// ToolResult reconstructs the ToolResult carried by a tool-role message.
// The second return value is false for any other role.
func (m Message) ToolResult() (ToolResult, bool) {
	if m.Role != RoleTool {
		return ToolResult{}, false
	}
	r := ToolResult{ToolCallID: m.ToolCallID, Name: m.Name, IsError: m.IsError}
	if text := m.Text(); text != "" {
		r.Result = json.RawMessage(text)
	}
	return r, true
}

type wireMessage struct {
	Role       Role            `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
}

// MarshalJSON encodes content as a plain string when the message holds a single
// text part and as a block array otherwise.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		Role:       m.Role,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
		IsError:    m.IsError,
	}

	switch {
	case len(m.Parts) == 0:
	case len(m.Parts) == 1:
		if tp, ok := m.Parts[0].(TextPart); ok {
			raw, err := json.Marshal(tp.Text)
			if err != nil {
				return nil, err
			}
			w.Content = raw
			break
		}
		fallthrough
	default:
		blocks, err := marshalParts(m.Parts)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(blocks)
		if err != nil {
			return nil, err
		}
		w.Content = raw
	}

	return json.Marshal(w)
}

// UnmarshalJSON accepts content as either a string or an array of blocks.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parts, err := unmarshalParts(w.Content)
	if err != nil {
		return err
	}
	*m = Message{
		Role:       w.Role,
		Parts:      parts,
		ToolCalls:  w.ToolCalls,
		ToolCallID: w.ToolCallID,
		Name:       w.Name,
		IsError:    w.IsError,
	}
	return nil
}
