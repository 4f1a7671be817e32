package engine

import (
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/tool"
)

// State is a node of the run state machine.
type State int

const (
	StateSetup State = iota
	StateModelCall
	StateToolDispatch
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateModelCall:
		return "model_call"
	case StateToolDispatch:
		return "tool_dispatch"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// RunState is the state threaded through a run. Messages is append-only and
// the token counters only grow. Agent, Tools and SystemPrompt are set once
// during setup.
type RunState struct {
	RunID          string
	ConversationID string

	Messages     []core.Message
	InputTokens  int
	OutputTokens int

	Agent        *core.AgentIdentity
	Tools        []tool.Tool
	SystemPrompt string

	// Cycles counts completed model calls.
	Cycles int

	log logging.Logger
}

// Usage returns the accumulated token counters.
func (rs RunState) Usage() core.Usage {
	return core.Usage{InputTokens: rs.InputTokens, OutputTokens: rs.OutputTokens}
}

// LastMessage returns the most recent transcript entry.
func (rs RunState) LastMessage() (core.Message, bool) {
	if len(rs.Messages) == 0 {
		return core.Message{}, false
	}
	return rs.Messages[len(rs.Messages)-1], true
}

// next decides where to go after a model call.
func next(rs RunState) State {
	last, ok := rs.LastMessage()
	if !ok || last.Role != core.RoleAssistant {
		return StateDone
	}
	if last.HasToolCalls() {
		return StateToolDispatch
	}
	return StateDone
}
