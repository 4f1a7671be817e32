package model

import (
	"context"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/tool"
)

// ToolDefinition declaratively exposes a callable tool to the model.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolDefinitions derives the model-facing definitions of bound tools.
func ToolDefinitions(tools []tool.Tool) []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters()
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  params,
		})
	}
	return defs
}

// DeltaFunc receives a fragment of assistant text as it is generated. A
// non-nil error aborts generation and is returned by Generate.
type DeltaFunc func(text string) error

// Request is the normalized model input.
//
// When OnDelta is set, models that can stream report text fragments through
// it before returning the complete Response. Models that cannot stream ignore
// it. The concatenated fragments equal the text of the final message.
type Request struct {
	System   string           `json:"system,omitempty"`
	Messages []core.Message   `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
	OnDelta  DeltaFunc        `json:"-"`
}

// Stream reports whether the caller asked for text fragments.
func (r Request) Stream() bool { return r.OnDelta != nil }

// Response is a complete assistant turn. Usage is nil when the provider did not
// report token counts.
type Response struct {
	Message    core.Message `json:"message"`
	Usage      *core.Usage  `json:"usage,omitempty"`
	StopReason string       `json:"stop_reason,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model generates one assistant turn for a request.
//
// Implementations must honor ctx cancellation and wrap upstream overload
// errors with Overloaded.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}
