// Package history bounds the conversation transcript sent to the model.
//
// EstimateText / Estimate approximate token counts from character counts
// (roughly four characters per token, rounded up per block). Truncate keeps
// the longest suffix of a transcript that fits a token budget after the
// system prompt and a reserved thinking allowance are subtracted.
//
// Both functions are pure and deterministic.
package history
