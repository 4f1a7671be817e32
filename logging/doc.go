// Package logging provides a minimal logging interface and adapters for agentrun.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine, the tool registry and the model invoker use. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping an existing *slog.Logger
//   - ServiceLogger, a configurable slog-backed logger with run-scoped fields
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Messages are dotted event names and arguments are slog key/value pairs:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "text"})
//	logger.WithRun(runID, conversationID).Info("engine.run.start", "messages", 3)
package logging
