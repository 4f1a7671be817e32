package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentrun/core"
)

// CallbackType defines the lifecycle points where callbacks run.
//
// Callbacks are executed synchronously in registration order. An error from a
// before_model, after_model or on_state_change callback aborts the run. An
// error from a before_tool callback rejects that single call, which is then
// reported to the model as an error-flagged tool result. Errors from
// after_tool and on_error callbacks are logged and otherwise ignored.
type CallbackType string

const (
	// CallbackBeforeModel runs before every model call.
	CallbackBeforeModel CallbackType = "before_model"

	// CallbackAfterModel runs after a successful model call with the reply.
	CallbackAfterModel CallbackType = "after_model"

	// CallbackBeforeTool runs before each tool invocation.
	CallbackBeforeTool CallbackType = "before_tool"

	// CallbackAfterTool runs after each tool invocation with its result.
	CallbackAfterTool CallbackType = "after_tool"

	// CallbackOnError runs once when a run fails.
	CallbackOnError CallbackType = "on_error"

	// CallbackOnStateChange runs on every state machine transition.
	CallbackOnStateChange CallbackType = "on_state_change"
)

// CallbackContext carries the information available at a callback point.
// Fields that do not apply to a callback type are zero.
type CallbackContext struct {
	CallbackType   CallbackType
	RunID          string
	ConversationID string

	// From and To are set for on_state_change.
	From State
	To   State

	// Message is the assistant reply for after_model.
	Message *core.Message

	// ToolCall is set for before_tool and after_tool.
	ToolCall *core.ToolCall

	// ToolResult is set for after_tool.
	ToolResult *core.ToolResult

	// Err is the run error for on_error.
	Err error
}

// Callback handles one callback type.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, cbCtx *CallbackContext) error
}

// FunctionCallback adapts a function to the Callback interface.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cbCtx *CallbackContext) error
}

// NewFunctionCallback creates a callback for callbackType.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, cbCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{callbackType: callbackType, fn: fn}
}

// Type implements Callback.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute implements Callback.
func (c *FunctionCallback) Execute(ctx context.Context, cbCtx *CallbackContext) error {
	return c.fn(ctx, cbCtx)
}

// CallbackManager holds registered callbacks. It is safe for concurrent use;
// tool callbacks may run from several goroutines at once.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// RegisterCallback adds a callback.
func (cm *CallbackManager) RegisterCallback(cb Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks[cb.Type()] = append(cm.callbacks[cb.Type()], cb)
}

// ExecuteCallbacks runs every callback of cbCtx.CallbackType and stops at the
// first error. A nil manager has no callbacks.
func (cm *CallbackManager) ExecuteCallbacks(ctx context.Context, cbCtx *CallbackContext) error {
	if cm == nil {
		return nil
	}
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[cbCtx.CallbackType]...)
	cm.mu.RUnlock()

	for _, cb := range callbacks {
		if err := cb.Execute(ctx, cbCtx); err != nil {
			return fmt.Errorf("%s callback: %w", cbCtx.CallbackType, err)
		}
	}
	return nil
}

// NewLoggingCallback returns a callback that reports every invocation of
// callbackType to logf.
func NewLoggingCallback(callbackType CallbackType, logf func(message string)) Callback {
	return NewFunctionCallback(callbackType, func(_ context.Context, cbCtx *CallbackContext) error {
		if logf == nil {
			return nil
		}
		switch {
		case callbackType == CallbackOnStateChange:
			logf(fmt.Sprintf("[%s] run=%s %s -> %s", callbackType, cbCtx.RunID, cbCtx.From, cbCtx.To))
		case cbCtx.ToolCall != nil:
			logf(fmt.Sprintf("[%s] run=%s tool=%s call=%s", callbackType, cbCtx.RunID, cbCtx.ToolCall.Name, cbCtx.ToolCall.ID))
		default:
			logf(fmt.Sprintf("[%s] run=%s", callbackType, cbCtx.RunID))
		}
		return nil
	})
}
