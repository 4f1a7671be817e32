package stream

import (
	"encoding/json"
	"errors"

	"github.com/hupe1980/agentrun/tool"
)

// Caller-facing error messages.
const (
	MsgToolNotFound        = "The assistant tried to use a tool that is not available."
	MsgInvalidToolArgument = "The assistant called a tool with invalid arguments."
	MsgToolExecution       = "A tool failed while processing the request."
	MsgUnknown             = "An unknown error occurred."
)

// UserMessage maps err to a message that is safe to show to the caller.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, tool.ErrNotFound):
		return MsgToolNotFound
	case errors.Is(err, tool.ErrInvalidArguments):
		return MsgInvalidToolArgument
	case errors.Is(err, tool.ErrExecution):
		return MsgToolExecution
	default:
		return MsgUnknown
	}
}

func messageForCode(code string) string {
	switch code {
	case tool.CodeNotFound:
		return MsgToolNotFound
	case tool.CodeValidation:
		return MsgInvalidToolArgument
	case tool.CodeExecution:
		return MsgToolExecution
	default:
		return MsgUnknown
	}
}

// toolResultCode extracts the error code from an error-flagged tool result.
func toolResultCode(raw json.RawMessage) string {
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	return payload.Code
}
