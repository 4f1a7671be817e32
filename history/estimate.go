package history

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/hupe1980/agentrun/core"
)

// charsPerToken is the fixed character-to-token ratio used for estimation.
const charsPerToken = 4

// EstimateText returns the approximate token count of a string.
func EstimateText(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// Estimate returns the approximate token count of a message by summing the
// estimates of its parts and tool calls. Tool call ids and the id a tool
// result answers are sent to the provider and are counted too.
func Estimate(m core.Message) int {
	total := EstimateText(m.ToolCallID)
	for _, p := range m.Parts {
		total += estimatePart(p)
	}
	for _, tc := range m.ToolCalls {
		total += EstimateText(tc.ID) + EstimateText(tc.Name) + EstimateText(string(tc.Arguments))
	}
	return total
}

// EstimateAll sums Estimate over a sequence of messages.
func EstimateAll(messages []core.Message) int {
	total := 0
	for _, m := range messages {
		total += Estimate(m)
	}
	return total
}

func estimatePart(p core.Part) int {
	switch v := p.(type) {
	case core.TextPart:
		return EstimateText(v.Text)
	case core.DataPart:
		if len(v.Data) == 0 {
			return 0
		}
		b, err := json.Marshal(v.Data)
		if err != nil {
			return 0
		}
		return EstimateText(string(b))
	default:
		return 0
	}
}
