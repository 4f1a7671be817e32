// Package core provides the foundational domain types shared by every agentrun
// package. It defines:
//
//   - Messages (role-based transcript entries with text / data parts)
//   - Tool calls and tool results (the request/response pair exchanged with tools)
//   - Run requests and caller credentials (the inbound boundary)
//   - Agent identity (the externally loaded persona for a conversation)
//   - Events (immutable step records emitted by the engine)
//   - The fatal error taxonomy surfaced to callers
//
// The package holds no orchestration logic and performs no I/O; concrete
// behavior lives in history, tool, model, engine and stream.
package core
