package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/engine"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/tool"
	"github.com/hupe1980/agentrun/tool/builtin"
)

// parseSSE splits a body into its data payloads.
func parseSSE(t *testing.T, body string) (frames []Frame, markers int) {
	t.Helper()
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		for _, line := range strings.Split(block, "\n") {
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			if data == EndMarker {
				markers++
				continue
			}
			var f Frame
			require.NoError(t, json.Unmarshal([]byte(data), &f))
			frames = append(frames, f)
		}
	}
	return frames, markers
}

func frameTypes(frames []Frame) []FrameType {
	out := make([]FrameType, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"not found", tool.NewToolError("x", "no such tool", tool.CodeNotFound), MsgToolNotFound},
		{"invalid args", fmt.Errorf("wrapped: %w", tool.ErrInvalidArguments), MsgInvalidToolArgument},
		{"execution", tool.NewToolError("x", "boom", tool.CodeExecution), MsgToolExecution},
		{"credentials", &core.MissingCredentialsError{Fields: []string{"platformApiKey"}}, MsgUnknown},
		{"model", &model.Error{Kind: model.KindFatal, Cause: errors.New("api key sk-123 rejected")}, MsgUnknown},
		{"max cycles", core.ErrMaxCycles, MsgUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestFromEvent_ErrorToolResultIsSanitized(t *testing.T) {
	res := tool.Result{Error: &tool.ToolError{
		Tool:    "calc",
		Message: "panic: runtime error",
		Code:    tool.CodeExecution,
		Details: "goroutine 1 [running]: ...",
	}}.ToToolResult(core.ToolCall{ID: "c1", Name: "calc"})

	f := FromEvent(core.NewToolResultEvent("run-1", res))
	assert.Equal(t, FrameToolResult, f.Type)
	assert.Equal(t, MsgToolExecution, f.Error)
	require.NotNil(t, f.ToolResult)
	assert.True(t, f.ToolResult.IsError)
	assert.Nil(t, f.ToolResult.Result)

	data, err := json.Marshal(f)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "goroutine")
	assert.NotContains(t, string(data), "panic")
}

func TestFromEvent_Message(t *testing.T) {
	msg := core.NewTextMessage(core.RoleAssistant, "hello")
	f := FromEvent(core.NewMessageEvent("run-1", msg, core.Usage{InputTokens: 3, OutputTokens: 2}))
	assert.Equal(t, FrameMessage, f.Type)
	assert.Equal(t, "hello", f.Text)
	assert.Equal(t, "run-1", f.RunID)
	assert.Equal(t, &core.Usage{InputTokens: 3, OutputTokens: 2}, f.Usage)
	assert.False(t, f.IsTerminal())

	done := FromEvent(core.NewRunCompleteEvent("run-1", core.Usage{InputTokens: 3}))
	assert.Equal(t, FrameDone, done.Type)
	assert.True(t, done.IsTerminal())
}

func TestFromEvent_MessageDelta(t *testing.T) {
	f := FromEvent(core.NewMessageDeltaEvent("run-1", "Hel", 2))
	assert.Equal(t, FrameDelta, f.Type)
	assert.Equal(t, "Hel", f.Text)
	assert.Equal(t, 2, f.Attempt)
	assert.Equal(t, "run-1", f.RunID)
	assert.False(t, f.IsTerminal())
}

func TestWriter_CloseOnce(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteFrame(Frame{Type: FrameMessage, Text: "hi"}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.True(t, w.Closed())
	assert.ErrorIs(t, w.WriteFrame(Frame{Type: FrameMessage}), ErrClosed)

	assert.Equal(t, 1, strings.Count(buf.String(), "data: [DONE]"))
	assert.True(t, strings.HasPrefix(buf.String(), "event: message\ndata: {"))
	assert.True(t, strings.HasSuffix(buf.String(), "data: [DONE]\n\n"))
}

func feed(events []core.Event, runErr error) (<-chan core.Event, <-chan error) {
	evCh := make(chan core.Event, len(events))
	errCh := make(chan error, 1)
	for _, ev := range events {
		evCh <- ev
	}
	if runErr != nil {
		errCh <- runErr
	}
	close(evCh)
	close(errCh)
	return evCh, errCh
}

func TestPump_Success(t *testing.T) {
	var buf bytes.Buffer
	events, errs := feed([]core.Event{
		core.NewMessageEvent("r", core.NewTextMessage(core.RoleAssistant, "hi"), core.Usage{}),
		core.NewRunCompleteEvent("r", core.Usage{InputTokens: 1, OutputTokens: 1}),
	}, nil)

	require.NoError(t, Pump(NewWriter(&buf), "r", events, errs))

	frames, markers := parseSSE(t, buf.String())
	assert.Equal(t, []FrameType{FrameMessage, FrameDone}, frameTypes(frames))
	assert.Equal(t, 1, markers)
}

func TestPump_RunErrorWritesSingleTerminalFrame(t *testing.T) {
	var buf bytes.Buffer
	runErr := fmt.Errorf("model call failed: %w", errors.New("secret upstream detail"))
	events, errs := feed([]core.Event{
		core.NewMessageEvent("r", core.NewTextMessage(core.RoleAssistant, "partial"), core.Usage{}),
	}, runErr)

	err := Pump(NewWriter(&buf), "r", events, errs)
	assert.Equal(t, runErr, err)

	frames, markers := parseSSE(t, buf.String())
	assert.Equal(t, []FrameType{FrameMessage, FrameError}, frameTypes(frames))
	assert.Equal(t, MsgUnknown, frames[1].Error)
	assert.Equal(t, 1, markers)
	assert.NotContains(t, buf.String(), "secret")
}

func TestPump_IncompleteRun(t *testing.T) {
	var buf bytes.Buffer
	events, errs := feed(nil, nil)

	err := Pump(NewWriter(&buf), "r", events, errs)
	require.Error(t, err)

	frames, markers := parseSSE(t, buf.String())
	assert.Equal(t, []FrameType{FrameError}, frameTypes(frames))
	assert.Equal(t, 1, markers)
}

type failingWriter struct{ writes int }

func (w *failingWriter) Write(p []byte) (int, error) {
	w.writes++
	return 0, errors.New("broken pipe")
}

func TestPump_DrainsAfterWriteFailure(t *testing.T) {
	fw := &failingWriter{}
	events, errs := feed([]core.Event{
		core.NewMessageEvent("r", core.NewTextMessage(core.RoleAssistant, "a"), core.Usage{}),
		core.NewMessageEvent("r", core.NewTextMessage(core.RoleAssistant, "b"), core.Usage{}),
		core.NewRunCompleteEvent("r", core.Usage{}),
	}, nil)

	err := Pump(NewWriter(fw), "r", events, errs)
	require.Error(t, err)
	// one failed frame plus the end marker attempt
	assert.Equal(t, 2, fw.writes)
	_, open := <-events
	assert.False(t, open)
}

type runnerFunc func(ctx context.Context, req core.RunRequest) (string, <-chan core.Event, <-chan error, error)

func (f runnerFunc) Run(ctx context.Context, req core.RunRequest) (string, <-chan core.Event, <-chan error, error) {
	return f(ctx, req)
}

const requestBody = `{
	"conversationId": "conv-1",
	"messages": [{"role": "user", "content": "What is 6*7?"}],
	"callerCredentials": {
		"clientUserId": "u",
		"clientOrganizationId": "o",
		"platformUserId": "p",
		"platformApiKey": "k"
	}
}`

func TestHandler_StreamsEngineRun(t *testing.T) {
	reg := tool.NewRegistry(func(o *tool.RegistryOptions) { o.Static = []string{builtin.CalculatorID} })
	builtin.Register(reg)
	m := model.NewScriptedModel(
		model.CallTools(model.NewToolCall("c1", "calculator", map[string]any{"operation": "multiply", "a": 6, "b": 7})),
		model.Reply("42"),
	)
	eng := engine.New(model.NewInvoker(m), reg, nil)

	srv := httptest.NewServer(NewHandler(eng))
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(requestBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Run-ID"))

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)

	frames, markers := parseSSE(t, body.String())
	assert.Equal(t, []FrameType{FrameMessage, FrameToolCall, FrameToolResult, FrameMessage, FrameDone}, frameTypes(frames))
	assert.JSONEq(t, "42", string(frames[2].ToolResult.Result))
	assert.Equal(t, "42", frames[3].Text)
	assert.Equal(t, &core.Usage{InputTokens: 20, OutputTokens: 10}, frames[4].Usage)
	assert.Equal(t, 1, markers)
}

func TestHandler_StreamsDeltasBeforeMessage(t *testing.T) {
	m := model.NewScriptedModel(model.ReplyChunks("Six times seven ", "is ", "42."))
	eng := engine.New(model.NewInvoker(m), nil, nil)

	srv := httptest.NewServer(NewHandler(eng))
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(requestBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)

	frames, markers := parseSSE(t, body.String())
	assert.Equal(t, []FrameType{FrameDelta, FrameDelta, FrameDelta, FrameMessage, FrameDone}, frameTypes(frames))

	var text strings.Builder
	for _, f := range frames[:3] {
		assert.Equal(t, 1, f.Attempt)
		text.WriteString(f.Text)
	}
	assert.Equal(t, "Six times seven is 42.", text.String())
	assert.Equal(t, "Six times seven is 42.", frames[3].Text)
	assert.Equal(t, 1, markers)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body.String()), "data: "+EndMarker))
}

func TestHandler_MissingCredentials(t *testing.T) {
	eng := engine.New(model.NewInvoker(model.NewScriptedModel(model.Reply("never"))), nil, nil)

	rec := httptest.NewRecorder()
	body := `{"conversationId":"c","messages":[{"role":"user","content":"hi"}],"callerCredentials":{}}`
	NewHandler(eng).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(body)))

	frames, markers := parseSSE(t, rec.Body.String())
	require.Len(t, frames, 1)
	assert.Equal(t, FrameError, frames[0].Type)
	assert.Equal(t, MsgUnknown, frames[0].Error)
	assert.NotContains(t, rec.Body.String(), "platformApiKey")
	assert.Equal(t, 1, markers)
}

func TestHandler_RunStartError(t *testing.T) {
	h := NewHandler(runnerFunc(func(context.Context, core.RunRequest) (string, <-chan core.Event, <-chan error, error) {
		return "", nil, nil, errors.New("engine unavailable")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(requestBody)))

	frames, markers := parseSSE(t, rec.Body.String())
	assert.Equal(t, []FrameType{FrameError}, frameTypes(frames))
	assert.Equal(t, 1, markers)
}

func TestHandler_RejectsBadRequests(t *testing.T) {
	h := NewHandler(runnerFunc(func(context.Context, core.RunRequest) (string, <-chan core.Event, <-chan error, error) {
		t.Fatal("runner must not be called")
		return "", nil, nil, nil
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestHandler_ClientDisconnectCancelsRun(t *testing.T) {
	started := make(chan struct{})
	canceled := make(chan struct{})

	h := NewHandler(runnerFunc(func(ctx context.Context, _ core.RunRequest) (string, <-chan core.Event, <-chan error, error) {
		events := make(chan core.Event)
		errs := make(chan error, 1)
		go func() {
			defer close(events)
			defer close(errs)
			close(started)
			<-ctx.Done()
			close(canceled)
			errs <- ctx.Err()
		}()
		return "run-1", events, errs, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader(requestBody)).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, req)
	}()

	<-started
	cancel()

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("run was not canceled")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not return")
	}
}
