package stream

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
)

// Runner starts a run and returns its event and error channels.
// *engine.Engine implements it.
type Runner interface {
	Run(ctx context.Context, req core.RunRequest) (string, <-chan core.Event, <-chan error, error)
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	// MaxBodyBytes limits the request body. Defaults to 4 MiB.
	MaxBodyBytes int64
	Logger       logging.Logger
}

// Handler accepts a run request as JSON and streams the run as SSE. The run
// is bound to the request context, so a disconnecting client cancels it.
type Handler struct {
	runner Runner
	opts   HandlerOptions
}

// NewHandler creates a Handler.
func NewHandler(runner Runner, optFns ...func(o *HandlerOptions)) *Handler {
	opts := HandlerOptions{
		MaxBodyBytes: 4 << 20,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Handler{runner: runner, opts: opts}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req core.RunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, ok := w.(http.Flusher); !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	runID, events, errs, err := h.runner.Run(r.Context(), req)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if runID != "" {
		w.Header().Set("X-Run-ID", runID)
	}
	w.WriteHeader(http.StatusOK)

	sw := NewWriter(w)
	if err != nil {
		h.opts.Logger.Error("stream.run.start_failed", "conversation_id", req.ConversationID, "error", err.Error())
		_ = sw.WriteFrame(ErrorFrame(runID, err))
		_ = sw.Close()
		return
	}

	if err := Pump(sw, runID, events, errs); err != nil {
		h.opts.Logger.Warn("stream.run.failed", "run_id", runID, "conversation_id", req.ConversationID, "error", err.Error())
		return
	}
	h.opts.Logger.Debug("stream.run.complete", "run_id", runID)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
