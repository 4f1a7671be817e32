package openai

import (
	"context"
	"encoding/json"
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

func TestGenerate_ToolCalls(t *testing.T) {
	var body map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "calculator", "arguments": "{\"operation\":\"add\",\"a\":2,\"b\":2}"}}]
				}
			}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 9, "total_tokens": 29}
		}`))
	})

	req := model.Request{
		System: "sys",
		Messages: []core.Message{
			core.NewTextMessage(core.RoleUser, "2+2?"),
			{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{{ID: "call_0", Name: "calculator", Arguments: json.RawMessage(`{"a":1}`)}}},
			core.NewToolResultMessage(core.ToolResult{ToolCallID: "call_0", Name: "calculator", Result: json.RawMessage(`1`)}),
		},
		Tools: []model.ToolDefinition{{Name: "calculator", Description: "math", Parameters: map[string]any{"type": "object"}}},
	}

	resp, err := m.Generate(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, "calculator", resp.Message.ToolCalls[0].Name)
	assert.JSONEq(t, `{"operation":"add","a":2,"b":2}`, string(resp.Message.ToolCalls[0].Arguments))
	assert.Equal(t, 20, resp.Usage.InputTokens)
	assert.Equal(t, 9, resp.Usage.OutputTokens)
	assert.Equal(t, "tool_calls", resp.StopReason)

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", msgs[2].(map[string]any)["role"])
	tool := msgs[3].(map[string]any)
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "call_0", tool["tool_call_id"])
	assert.Len(t, body["tools"], 1)
}

const streamBody = `data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"},"finish_reason":null}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":" there"},"finish_reason":null}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"calculator","arguments":"{\"a\":"}}]},"finish_reason":null}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"1}"}}]},"finish_reason":"tool_calls"}]}

data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o-mini","choices":[],"usage":{"prompt_tokens":11,"completion_tokens":6,"total_tokens":17}}

data: [DONE]

`

func TestGenerate_StreamsTextAndToolCalls(t *testing.T) {
	var body map[string]any
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(streamBody))
	})

	var deltas []string
	resp, err := m.Generate(context.Background(), model.Request{
		Messages: []core.Message{core.NewTextMessage(core.RoleUser, "add one")},
		OnDelta: func(text string) error {
			deltas = append(deltas, text)
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, true, body["stream"])
	assert.Equal(t, map[string]any{"include_usage": true}, body["stream_options"])
	assert.Equal(t, []string{"Hi", " there"}, deltas)
	assert.Equal(t, "Hi there", resp.Message.Text())
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, "calculator", resp.Message.ToolCalls[0].Name)
	assert.JSONEq(t, `{"a":1}`, string(resp.Message.ToolCalls[0].Arguments))
	assert.Equal(t, "tool_calls", resp.StopReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 11, resp.Usage.InputTokens)
	assert.Equal(t, 6, resp.Usage.OutputTokens)
}

func TestGenerate_ServiceUnavailableIsTransient(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"The engine is currently overloaded","type":"server_error"}}`))
	})

	_, err := m.Generate(context.Background(), model.Request{Messages: []core.Message{core.NewTextMessage(core.RoleUser, "hi")}})
	assert.ErrorIs(t, err, model.ErrOverloaded)
}

func TestGenerate_AuthIsFatal(t *testing.T) {
	m := newTestModel(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	})

	_, err := m.Generate(context.Background(), model.Request{Messages: []core.Message{core.NewTextMessage(core.RoleUser, "hi")}})
	require.Error(t, err)
	assert.Equal(t, model.KindFatal, model.Classify(err))
}
