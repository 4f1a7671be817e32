package core

import (
	"encoding/json"
	"testing"
)

func TestEvent_Constructors(t *testing.T) {
	e := NewEvent("run-123", EventToolCall)
	if e.RunID != "run-123" || e.ID == "" || e.Timestamp.IsZero() || e.Type != EventToolCall {
		t.Fatalf("NewEvent did not initialize fields correctly: %+v", e)
	}

	msg := NewMessageEvent("run-1", NewTextMessage(RoleAssistant, "hello"), Usage{InputTokens: 3, OutputTokens: 1})
	if msg.Message == nil || msg.Message.Text() != "hello" || msg.Usage.InputTokens != 3 {
		t.Fatalf("NewMessageEvent malformed: %+v", msg)
	}

	call := NewToolCallEvent("run-1", ToolCall{ID: "c1", Name: "calculator"})
	if call.ToolCall == nil || call.ToolCall.Name != "calculator" {
		t.Fatalf("NewToolCallEvent malformed: %+v", call)
	}

	res := NewToolResultEvent("run-1", ToolResult{ToolCallID: "c1", Result: json.RawMessage(`4`)})
	if res.ToolResult == nil || string(res.ToolResult.Result) != "4" {
		t.Fatalf("NewToolResultEvent malformed: %+v", res)
	}
}

func TestEvent_IsTerminal(t *testing.T) {
	if NewEvent("r", EventMessage).IsTerminal() {
		t.Error("message event must not be terminal")
	}
	if !NewRunCompleteEvent("r", Usage{}).IsTerminal() {
		t.Error("run complete event must be terminal")
	}
}

func TestEvent_UniqueIDs(t *testing.T) {
	a := NewEvent("r", EventMessage)
	b := NewEvent("r", EventMessage)
	if a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %s twice", a.ID)
	}
}
