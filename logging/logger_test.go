package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestServiceLogger_KeyValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "json", Output: &buf}).
		WithComponent("engine").
		WithRun("run-1", "conv-1").
		WithContext("region", "eu")

	logger.Info("engine.run.start", "messages", 3)
	logger.Debug("engine.state.transition", "to", "done")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "engine.run.start", lines[0]["msg"])
	assert.Equal(t, "INFO", lines[0]["level"])
	assert.Equal(t, "engine", lines[0]["component"])
	assert.Equal(t, "run-1", lines[0]["run_id"])
	assert.Equal(t, "conv-1", lines[0]["conversation_id"])
	assert.Equal(t, "eu", lines[0]["region"])
	assert.Equal(t, float64(3), lines[0]["messages"])
}

func TestServiceLogger_WithDoesNotMutate(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&LoggerConfig{Level: LogLevelDebug, Output: &buf})
	_ = base.WithContext("k", "v").WithRun("r", "c")

	base.Warn("plain")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "k")
	assert.NotContains(t, lines[0], "run_id")
}

func TestServiceLogger_ErrorWithStack(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelError, Format: "json", Output: &buf})

	logger.ErrorWithStack(errors.New("boom"), "server.failed", "addr", ":8080")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "boom", lines[0]["error"])
	assert.Equal(t, "*errors.errorString", lines[0]["error_type"])
	assert.Equal(t, ":8080", lines[0]["addr"])
	assert.Contains(t, lines[0]["stack_trace"], "goroutine")
}

func TestServiceLogger_TextFormatAndSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "text", Output: &buf}).WithComponent("cmd")

	logger.Slog().Info("hello", slog.Int("n", 1))
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "component=cmd")
	assert.Contains(t, buf.String(), "n=1")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{
		"debug":   LogLevelDebug,
		"INFO":    LogLevelInfo,
		"":        LogLevelInfo,
		"warning": LogLevelWarn,
		"error":   LogLevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNoOpLogger(t *testing.T) {
	var l Logger = NoOpLogger{}
	assert.NotPanics(t, func() {
		l.Debug("x", "k", 1)
		l.Info("x")
		l.Warn("x")
		l.Error("x")
	})
}

func TestSlogAdapter(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	l := NewSlogAdapter(base)
	l.Info("engine.run.start", "run_id", "r1")
	l.Warn("tool.load.dropped", "tool", "search")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "tool.load.dropped", lines[0]["msg"])
	assert.Equal(t, "search", lines[0]["tool"])
}

func TestForRun(t *testing.T) {
	t.Run("service logger", func(t *testing.T) {
		var buf bytes.Buffer
		base := NewLogger(&LoggerConfig{Level: LogLevelDebug, Output: &buf, Component: "engine"})

		ForRun(base, "run-1", "conv-1").Info("engine.run.start", "messages", 2)
		base.Info("engine.idle")

		lines := decodeLines(t, &buf)
		require.Len(t, lines, 2)
		assert.Equal(t, "run-1", lines[0]["run_id"])
		assert.Equal(t, "conv-1", lines[0]["conversation_id"])
		assert.Equal(t, "engine", lines[0]["component"])
		assert.EqualValues(t, 2, lines[0]["messages"])
		assert.NotContains(t, lines[1], "run_id")
	})

	t.Run("other logger", func(t *testing.T) {
		var buf bytes.Buffer
		l := ForRun(NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, nil))), "run-2", "conv-2")
		l.Warn("engine.tool.failed", "tool", "calculator")

		lines := decodeLines(t, &buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "run-2", lines[0]["run_id"])
		assert.Equal(t, "conv-2", lines[0]["conversation_id"])
		assert.Equal(t, "calculator", lines[0]["tool"])
	})

	t.Run("nil and no-op", func(t *testing.T) {
		assert.Equal(t, NoOpLogger{}, ForRun(nil, "r", "c"))
		assert.Equal(t, NoOpLogger{}, ForRun(NoOpLogger{}, "r", "c"))
	})
}
