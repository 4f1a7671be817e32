// Package tool implements the tool calling subsystem: the Tool interface that
// every callable capability satisfies, schema-validated invocation that never
// panics past its boundary, and the Registry that resolves a caller-specific
// tool set for each run.
package tool

import (
	"context"
	"errors"
	"fmt"
)

// Tool defines the interface for extending agents with external functions.
//
// A Tool is the resolved, invocable handle the engine binds for a single run.
// Handles are constructed fresh per run by the Registry and are never shared
// across runs.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define a proper JSON schema for parameters
//   - Respect context cancellation
//   - Be safe for concurrent use (sibling calls in a turn run in parallel)
type Tool interface {
	// Name returns the unique identifier the model uses to call this tool.
	Name() string

	// Description returns a human-readable description provided to the model.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	// Arguments are validated against it before Call.
	Parameters() map[string]any

	// Call executes the tool with already validated arguments.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// Error codes used for categorization.
const (
	CodeNotFound   = "NOT_FOUND"
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)

var (
	// ErrNotFound matches a ToolError for a tool that is not bound to the run.
	ErrNotFound = errors.New("tool not found")

	// ErrInvalidArguments matches a ToolError for arguments that fail parsing
	// or schema validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// ErrExecution matches a ToolError raised while the tool was running.
	ErrExecution = errors.New("tool execution failed")

	// ErrUnavailable may be returned by a Factory whose backing service is
	// not configured. The Registry drops such tools.
	ErrUnavailable = errors.New("tool unavailable")
)

// ToolError represents errors that occur while invoking a tool.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// Is matches the sentinel corresponding to the error code.
func (e *ToolError) Is(target error) bool {
	switch e.Code {
	case CodeNotFound:
		return target == ErrNotFound
	case CodeValidation:
		return target == ErrInvalidArguments
	case CodeExecution:
		return target == ErrExecution
	}
	return false
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
