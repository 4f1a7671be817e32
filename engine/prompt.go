package engine

import (
	"fmt"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/internal/util"
)

// DefaultSystemPrompt is used when neither the agent nor the options provide one.
const DefaultSystemPrompt = `You are {{.name}}, a helpful assistant. Use the available tools when they help answer the user.
{{- if .memory}}

Relevant memory:
{{.memory}}
{{- end}}`

const memoryHeading = "\n\nRelevant memory:\n"

// resolveSystemPrompt builds the system prompt of a run.
//
// An agent override is stored data and is used as written, followed by the
// agent memory if any. Without an override the fallback is rendered as a
// template against the agent's name and memory. A fallback that does not
// render is used as written and the render error is returned with it.
func resolveSystemPrompt(agent core.AgentIdentity, fallback string) (string, error) {
	if agent.SystemPromptOverride != nil && *agent.SystemPromptOverride != "" {
		prompt := *agent.SystemPromptOverride
		if agent.Memory != "" {
			prompt += memoryHeading + agent.Memory
		}
		return prompt, nil
	}

	out, err := util.RenderPrompt(fallback, map[string]any{
		"name":   agent.Name,
		"memory": agent.Memory,
	})
	if err != nil {
		return fallback, fmt.Errorf("render system prompt: %w", err)
	}
	return out, nil
}
