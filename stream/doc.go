// Package stream turns the events of a run into a Server-Sent Events byte
// stream.
//
// Every event becomes one frame:
//
//	event: message
//	data: {"type":"message","run_id":"...","text":"..."}
//
// A stream ends with exactly one terminal frame, either "done" carrying the
// run's token usage or "error" carrying a caller-safe message, followed by
// the end marker:
//
//	data: [DONE]
//
// Internal error details never reach the caller. UserMessage maps errors to
// a small set of fixed messages; tool failures inside tool_result frames are
// mapped the same way.
package stream
