package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/hupe1980/agentrun/core"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Result is the outcome of a single tool invocation. Invoke never returns an
// error; failures are reported with Success false and a populated Error.
type Result struct {
	Success bool       `json:"success"`
	Value   any        `json:"result,omitempty"`
	Error   *ToolError `json:"error,omitempty"`
}

// ToToolResult converts the invocation outcome into a transcript ToolResult
// answering call.
func (r Result) ToToolResult(call core.ToolCall) core.ToolResult {
	out := core.ToolResult{ToolCallID: call.ID, Name: call.Name}
	if r.Success {
		raw, err := json.Marshal(r.Value)
		if err == nil {
			out.Result = raw
			return out
		}
		r = failure(NewToolError(call.Name, fmt.Sprintf("encode result: %v", err), CodeExecution))
	}

	payload := map[string]any{"success": false}
	if r.Error != nil {
		payload["error"] = r.Error.Message
		payload["code"] = r.Error.Code
		if r.Error.Details != nil {
			payload["details"] = r.Error.Details
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(`{"success":false}`)
	}
	out.Result = raw
	out.IsError = true
	return out
}

func failure(err *ToolError) Result { return Result{Success: false, Error: err} }

// Invoke parses and validates the call arguments, then runs the tool. It never
// panics and never returns an error: a missing tool, invalid arguments, a tool
// error or a recovered panic all become a failed Result.
func Invoke(ctx context.Context, t Tool, call core.ToolCall) (res Result) {
	if t == nil {
		return failure(NewToolError(call.Name, fmt.Sprintf("no such tool: %s", call.Name), CodeNotFound))
	}

	args, verr := parseArguments(t, call.Arguments)
	if verr != nil {
		return failure(verr)
	}

	defer func() {
		if r := recover(); r != nil {
			res = failure(&ToolError{
				Tool:    t.Name(),
				Message: fmt.Sprintf("panic: %v", r),
				Code:    CodeExecution,
				Details: string(debug.Stack()),
			})
		}
	}()

	value, err := t.Call(ctx, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			return failure(toolErr)
		}
		return failure(NewToolError(t.Name(), err.Error(), CodeExecution))
	}

	return Result{Success: true, Value: value}
}

func parseArguments(t Tool, raw json.RawMessage) (map[string]any, *ToolError) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage(`{}`)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, NewToolError(t.Name(), fmt.Sprintf("arguments are not valid JSON: %v", err), CodeValidation)
	}
	args, ok := decoded.(map[string]any)
	if !ok {
		return nil, NewToolError(t.Name(), "arguments must be a JSON object", CodeValidation)
	}

	if err := ValidateArguments(t.Parameters(), decoded); err != nil {
		return nil, &ToolError{
			Tool:    t.Name(),
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
		}
	}
	return args, nil
}

var schemaCache sync.Map

// ValidateArguments validates decoded JSON arguments against a JSON schema. A
// nil or empty schema accepts everything.
func ValidateArguments(schema map[string]any, decoded any) error {
	if len(schema) == 0 {
		return nil
	}
	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return compiled.Validate(decoded)
}

func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	key := string(b)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
