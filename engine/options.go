package engine

import (
	"context"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/observability"
	"github.com/hupe1980/agentrun/tool"
)

// AgentLoader fetches the agent identity of a conversation.
type AgentLoader interface {
	LoadAgent(ctx context.Context, conversationID string, creds core.Credentials) (*core.AgentIdentity, error)
}

// AgentLoaderFunc adapts a function to the AgentLoader interface.
type AgentLoaderFunc func(ctx context.Context, conversationID string, creds core.Credentials) (*core.AgentIdentity, error)

// LoadAgent implements AgentLoader.
func (f AgentLoaderFunc) LoadAgent(ctx context.Context, conversationID string, creds core.Credentials) (*core.AgentIdentity, error) {
	return f(ctx, conversationID, creds)
}

// ModelInvoker performs one model call with retry. *model.Invoker implements it.
type ModelInvoker interface {
	Invoke(ctx context.Context, system string, messages []core.Message, tools []model.ToolDefinition, optFns ...func(o *model.CallOptions)) (*model.Result, error)
	Info() model.Info
}

// Options configures an Engine.
type Options struct {
	// MaxCycles bounds the number of model calls per run. Zero uses the
	// default of 25; a negative value disables the guard.
	MaxCycles int

	// MaxParallelTools bounds concurrent tool calls within one turn.
	// Zero or less means one goroutine per call.
	MaxParallelTools int

	// EventBufferSize is the capacity of the event channel returned by Run.
	// Zero uses 100.
	EventBufferSize int

	// TokenBudget is the estimated token window for the transcript sent to
	// the model. Zero disables truncation.
	TokenBudget int

	// ThinkingBudget is reserved out of TokenBudget for model reasoning.
	ThinkingBudget int

	// DefaultSystemPrompt is used for agents without an override. It may
	// reference {{.name}} and {{.memory}}. Agent overrides are never
	// rendered.
	DefaultSystemPrompt string

	// DisableDeltas stops the engine from asking the model for streamed
	// text. Message events still carry every complete reply.
	DisableDeltas bool

	// Catalog returns caller-specific tool identifiers. Nil binds only the
	// registry's static tools.
	Catalog tool.Catalog

	Callbacks *CallbackManager
	Logger    logging.Logger
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
}

// DefaultMaxCycles is the cycle guard applied when Options.MaxCycles is zero.
const DefaultMaxCycles = 25

const defaultEventBufferSize = 100

func defaultOptions() Options {
	return Options{
		MaxCycles:           DefaultMaxCycles,
		EventBufferSize:     defaultEventBufferSize,
		DefaultSystemPrompt: DefaultSystemPrompt,
		Logger:              logging.NoOpLogger{},
	}
}
