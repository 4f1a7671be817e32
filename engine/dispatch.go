package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/observability"
	"github.com/hupe1980/agentrun/tool"
)

// dispatch runs every tool call of the last assistant message concurrently
// and appends the results in call order, regardless of completion order.
func (e *Engine) dispatch(ctx context.Context, rs RunState, emit func(core.Event) error) (RunState, error) {
	last, _ := rs.LastMessage()
	calls := last.ToolCalls

	for _, call := range calls {
		if err := emit(core.NewToolCallEvent(rs.RunID, call)); err != nil {
			return rs, err
		}
	}

	results := make([]core.ToolResult, len(calls))

	var g errgroup.Group
	if e.opts.MaxParallelTools > 0 {
		g.SetLimit(e.opts.MaxParallelTools)
	}
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.executeTool(ctx, rs, call)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return rs, err
	}

	for _, r := range results {
		rs.Messages = append(rs.Messages, core.NewToolResultMessage(r))
		if err := emit(core.NewToolResultEvent(rs.RunID, r)); err != nil {
			return rs, err
		}
	}

	rs.log.Debug("engine.tools.dispatched", "calls", len(calls))
	return rs, nil
}

// executeTool runs a single call. Every failure is folded into an
// error-flagged result so the model can react to it.
func (e *Engine) executeTool(ctx context.Context, rs RunState, call core.ToolCall) core.ToolResult {
	if err := e.opts.Callbacks.ExecuteCallbacks(ctx, &CallbackContext{
		CallbackType:   CallbackBeforeTool,
		RunID:          rs.RunID,
		ConversationID: rs.ConversationID,
		ToolCall:       &call,
	}); err != nil {
		res := tool.Result{Error: tool.NewToolError(call.Name, err.Error(), tool.CodeExecution)}
		return res.ToToolResult(call)
	}

	ctx, span := e.opts.Tracer.TraceToolCall(ctx, call.Name, call.ID)
	defer span.End()

	t, found := tool.Find(rs.Tools, call.Name)

	start := time.Now()
	res := tool.Invoke(ctx, t, call)
	duration := time.Since(start)

	label := call.Name
	if !found {
		label = "unknown"
	}
	e.opts.Metrics.ToolCall(label, res.Success, duration)

	switch {
	case res.Success:
		rs.log.Debug("engine.tool.executed",
			"tool", call.Name,
			"call_id", call.ID,
			"duration_ms", duration.Milliseconds(),
		)
	case res.Error != nil:
		observability.RecordError(span, res.Error)
		rs.log.Warn("engine.tool.failed",
			"tool", call.Name,
			"call_id", call.ID,
			"code", res.Error.Code,
			"error", res.Error.Message,
		)
	}

	result := res.ToToolResult(call)

	if err := e.opts.Callbacks.ExecuteCallbacks(ctx, &CallbackContext{
		CallbackType:   CallbackAfterTool,
		RunID:          rs.RunID,
		ConversationID: rs.ConversationID,
		ToolCall:       &call,
		ToolResult:     &result,
	}); err != nil {
		rs.log.Warn("engine.callback.after_tool_failed", "tool", call.Name, "error", err.Error())
	}

	return result
}
