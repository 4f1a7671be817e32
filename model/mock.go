package model

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentrun/core"
)

// ErrScriptExhausted is returned by ScriptedModel when no steps are left.
var ErrScriptExhausted = errors.New("scripted model: no more steps")

// Step is one scripted model turn: either a response or an error, optionally
// delivered after Delay. Chunks are streamed through Request.OnDelta before
// the response or error is returned.
type Step struct {
	Response *Response
	Err      error
	Delay    time.Duration
	Chunks   []string
}

// Reply scripts a final assistant text answer.
func Reply(text string) Step {
	return Step{Response: &Response{
		Message:    core.NewTextMessage(core.RoleAssistant, text),
		Usage:      &core.Usage{InputTokens: 10, OutputTokens: 5},
		StopReason: "end_turn",
	}}
}

// ReplyChunks scripts a final text answer streamed as the given fragments.
func ReplyChunks(chunks ...string) Step {
	step := Reply(strings.Join(chunks, ""))
	step.Chunks = chunks
	return step
}

// CallTools scripts an assistant turn requesting the given tool calls.
func CallTools(calls ...core.ToolCall) Step {
	return Step{Response: &Response{
		Message:    core.Message{Role: core.RoleAssistant, ToolCalls: calls},
		Usage:      &core.Usage{InputTokens: 10, OutputTokens: 5},
		StopReason: "tool_use",
	}}
}

// Fail scripts an error.
func Fail(err error) Step { return Step{Err: err} }

// FailAfterChunks scripts an error raised after some text was streamed.
func FailAfterChunks(err error, chunks ...string) Step {
	return Step{Err: err, Chunks: chunks}
}

// NewToolCall builds a ToolCall with arguments encoded as JSON.
func NewToolCall(id, name string, args any) core.ToolCall {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte(`{}`)
	}
	return core.ToolCall{ID: id, Name: name, Arguments: raw}
}

// ScriptedModel is an in-memory Model that plays back a fixed sequence of
// steps. It records every request and is safe for concurrent use.
type ScriptedModel struct {
	mu       sync.Mutex
	info     Info
	steps    []Step
	requests []Request
}

// NewScriptedModel constructs a ScriptedModel playing steps in order.
func NewScriptedModel(steps ...Step) *ScriptedModel {
	return &ScriptedModel{
		info:  Info{Name: "scripted", Provider: "mock", SupportsTools: true},
		steps: steps,
	}
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if len(m.requests) > len(m.steps) {
		m.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	step := m.steps[len(m.requests)-1]
	m.mu.Unlock()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if req.Stream() {
		for _, c := range step.Chunks {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := req.OnDelta(c); err != nil {
				return nil, err
			}
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}
	resp := *step.Response
	return &resp, nil
}

// Requests returns a copy of every request received so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Generate calls.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }
