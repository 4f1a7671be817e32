// Package engine implements the agent state machine that drives one run from
// an inbound request to a final answer.
//
// # States
//
// A run moves through four explicit states:
//
//	Setup -> ModelCall -> ToolDispatch -> ModelCall -> ... -> Done
//
// Setup validates the caller credentials, loads the agent identity and binds a
// fresh tool set. ModelCall sends the (token budget truncated) transcript to
// the model and appends the assistant reply. When that reply requests tools,
// ToolDispatch runs every call concurrently, joins them, and appends the
// results in the order the calls were issued before looping back. A reply
// without tool calls ends the run.
//
// # Ownership
//
// A RunState is owned by exactly one run and passed by value from state to
// state. Runs share no mutable state; the only concurrency inside a run is the
// fan-out in ToolDispatch.
//
// # Failure semantics
//
// Setup failures, exhausted model retries, fatal model errors and the cycle
// guard abort the run. Tool failures never abort a run: they are folded into
// the transcript as error-flagged tool results.
//
// # Usage
//
//	eng := engine.New(invoker, registry, agents, func(o *engine.Options) {
//	    o.Catalog = catalog
//	    o.Logger = logger
//	})
//
//	runID, events, errs, err := eng.Run(ctx, req)
package engine
