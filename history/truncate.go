package history

import "github.com/hupe1980/agentrun/core"

// Truncate returns the longest suffix of messages whose estimated cost fits
// into tokenBudget minus the system prompt and thinkingBudget.
//
// Messages are considered from the most recent backwards and packing stops at
// the first message that does not fit. The result preserves the original
// order and is empty when no budget remains. The result shares the backing
// array of messages with its capacity capped, so appending to it copies.
func Truncate(systemPrompt string, messages []core.Message, tokenBudget, thinkingBudget int) []core.Message {
	remaining := tokenBudget - EstimateText(systemPrompt) - thinkingBudget
	if remaining <= 0 {
		return []core.Message{}
	}

	used := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := Estimate(messages[i])
		if used+cost > remaining {
			break
		}
		used += cost
		start = i
	}

	return messages[start:len(messages):len(messages)]
}
