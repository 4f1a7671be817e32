package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel(t *testing.T, handler http.HandlerFunc) *Model {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewModel(func(o *Options) {
		o.APIKey = "test-key"
		o.BaseURL = srv.URL
	})
}

func TestGenerate_TextAndToolUse(t *testing.T) {
	var body map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-sonnet-20241022",
			"content": [
				{"type": "text", "text": "Let me calculate."},
				{"type": "tool_use", "id": "toolu_1", "name": "calculator", "input": {"operation": "add", "a": 2, "b": 2}}
			],
			"stop_reason": "tool_use",
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`))
	})

	req := model.Request{
		System: "You are helpful.",
		Messages: []core.Message{
			core.NewTextMessage(core.RoleUser, "What's 2+2?"),
			{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{
				{ID: "toolu_0", Name: "calculator", Arguments: json.RawMessage(`{"operation":"add","a":1,"b":1}`)},
				{ID: "toolu_x", Name: "current_time", Arguments: json.RawMessage(`{}`)},
			}},
			core.NewToolResultMessage(core.ToolResult{ToolCallID: "toolu_0", Name: "calculator", Result: json.RawMessage(`2`)}),
			core.NewToolResultMessage(core.ToolResult{ToolCallID: "toolu_x", Name: "current_time", Result: json.RawMessage(`{"success":false}`), IsError: true}),
		},
		Tools: []model.ToolDefinition{{
			Name:        "calculator",
			Description: "Basic math",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"a": map[string]any{"type": "number"}},
				"required":   []string{"a"},
			},
		}},
	}

	resp, err := m.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, core.RoleAssistant, resp.Message.Role)
	assert.Equal(t, "Let me calculate.", resp.Message.Text())
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.Message.ToolCalls[0].ID)
	assert.JSONEq(t, `{"operation":"add","a":2,"b":2}`, string(resp.Message.ToolCalls[0].Arguments))
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 7, resp.Usage.OutputTokens)
	assert.Equal(t, "tool_use", resp.StopReason)

	// Tool results are grouped into one user message after the tool calls.
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", msgs[1].(map[string]any)["role"])
	results := msgs[2].(map[string]any)
	assert.Equal(t, "user", results["role"])
	blocks := results["content"].([]any)
	require.Len(t, blocks, 2)
	assert.Equal(t, "tool_result", blocks[0].(map[string]any)["type"])
	assert.Equal(t, "toolu_0", blocks[0].(map[string]any)["tool_use_id"])
	assert.Equal(t, true, blocks[1].(map[string]any)["is_error"])

	tools := body["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "calculator", tools[0].(map[string]any)["name"])
	assert.Equal(t, "Basic math", tools[0].(map[string]any)["description"])
}

const streamBody = `event: message_start
data: {"type":"message_start","message":{"id":"msg_2","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022","content":[],"stop_reason":null,"usage":{"input_tokens":9,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":4}}

event: message_stop
data: {"type":"message_stop"}

`

func TestGenerate_StreamsTextDeltas(t *testing.T) {
	var body map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(streamBody))
	})

	var deltas []string
	resp, err := m.Generate(context.Background(), model.Request{
		Messages: []core.Message{core.NewTextMessage(core.RoleUser, "hi")},
		OnDelta: func(text string) error {
			deltas = append(deltas, text)
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, true, body["stream"])
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, "Hello", resp.Message.Text())
	assert.Equal(t, "end_turn", resp.StopReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 9, resp.Usage.InputTokens)
	assert.Equal(t, 4, resp.Usage.OutputTokens)
}

func TestGenerate_StreamDeltaErrorAborts(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(streamBody))
	})

	sinkErr := errors.New("client gone")
	calls := 0
	_, err := m.Generate(context.Background(), model.Request{
		Messages: []core.Message{core.NewTextMessage(core.RoleUser, "hi")},
		OnDelta: func(string) error {
			calls++
			return sinkErr
		},
	})
	assert.ErrorIs(t, err, sinkErr)
	assert.Equal(t, 1, calls)
}

func TestGenerate_OverloadIsTransient(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusOverloaded)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	})

	_, err := m.Generate(context.Background(), model.Request{Messages: []core.Message{core.NewTextMessage(core.RoleUser, "hi")}})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrOverloaded)
	assert.Equal(t, model.KindTransient, model.Classify(err))
}

func TestGenerate_BadRequestIsFatal(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	})

	_, err := m.Generate(context.Background(), model.Request{Messages: []core.Message{core.NewTextMessage(core.RoleUser, "hi")}})
	require.Error(t, err)
	assert.Equal(t, model.KindFatal, model.Classify(err))
}

func TestInfo(t *testing.T) {
	m := NewModel(func(o *Options) { o.APIKey = "k" })
	info := m.Info()
	assert.Equal(t, "anthropic", info.Provider)
	assert.True(t, info.SupportsTools)
}
