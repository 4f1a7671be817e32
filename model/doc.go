// Package model defines the provider-agnostic model abstraction and the
// Invoker that wraps a single model call with bounded retry.
//
// Providers (see the anthropic and openai subpackages) implement Model and
// classify upstream overload errors with Overloaded so the Invoker can retry
// them. Every other error is fatal and propagates immediately.
//
// A client is constructed once at startup and passed by reference into the
// Invoker; nothing in this package holds global mutable state.
package model
