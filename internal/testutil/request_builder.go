package testutil

import (
	"encoding/json"

	"github.com/hupe1980/agentrun/core"
)

// Credentials is a complete set of caller credentials for tests.
var Credentials = core.Credentials{
	ClientUserID:         "user-1",
	ClientOrganizationID: "org-1",
	PlatformUserID:       "platform-1",
	PlatformAPIKey:       "test-key",
}

// RequestBuilder provides a fluent helper for constructing run requests.
// Example:
//
//	req := NewRequest().User("2+3?").AssistantCall("c1", "calculator", args).ToolResult("c1", "calculator", 5).Build()
//
// Credentials default to Credentials and the conversation id to "conv-1".
type RequestBuilder struct {
	req core.RunRequest
}

// NewRequest creates a builder with default credentials.
func NewRequest() *RequestBuilder {
	return &RequestBuilder{req: core.RunRequest{ConversationID: "conv-1", Credentials: Credentials}}
}

// Conversation sets the conversation id (chainable).
func (b *RequestBuilder) Conversation(id string) *RequestBuilder {
	b.req.ConversationID = id
	return b
}

// Credentials overrides the caller credentials (chainable).
func (b *RequestBuilder) Credentials(c core.Credentials) *RequestBuilder {
	b.req.Credentials = c
	return b
}

// User appends a user text message (chainable).
func (b *RequestBuilder) User(text string) *RequestBuilder {
	b.req.Messages = append(b.req.Messages, core.NewTextMessage(core.RoleUser, text))
	return b
}

// Assistant appends an assistant text message (chainable).
func (b *RequestBuilder) Assistant(text string) *RequestBuilder {
	b.req.Messages = append(b.req.Messages, core.NewTextMessage(core.RoleAssistant, text))
	return b
}

// AssistantCall appends an assistant message requesting one tool call (chainable).
func (b *RequestBuilder) AssistantCall(id, name string, args any) *RequestBuilder {
	b.req.Messages = append(b.req.Messages, core.Message{
		Role:      core.RoleAssistant,
		ToolCalls: []core.ToolCall{{ID: id, Name: name, Arguments: mustJSON(args)}},
	})
	return b
}

// ToolResult appends the result of a prior tool call (chainable).
func (b *RequestBuilder) ToolResult(callID, name string, result any) *RequestBuilder {
	b.req.Messages = append(b.req.Messages, core.NewToolResultMessage(core.ToolResult{
		ToolCallID: callID,
		Name:       name,
		Result:     mustJSON(result),
	}))
	return b
}

// Build returns the request. The message slice is copied.
func (b *RequestBuilder) Build() core.RunRequest {
	req := b.req
	req.Messages = append([]core.Message(nil), b.req.Messages...)
	return req
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
