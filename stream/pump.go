package stream

import (
	"errors"

	"github.com/hupe1980/agentrun/core"
)

// errIncomplete is reported when the event channel closes without a terminal
// event or error.
var errIncomplete = errors.New("run ended without completing")

// Pump copies a run's events to w until both channels are closed, then writes
// the terminal error frame if the run failed and closes w. It always drains
// both channels, even after a write failure, so the producer never blocks.
//
// The returned error is the run error, or the first write error when the run
// itself succeeded.
func Pump(w *Writer, runID string, events <-chan core.Event, errs <-chan error) error {
	defer w.Close()

	var (
		writeErr  error
		completed bool
	)
	for ev := range events {
		if ev.IsTerminal() {
			completed = true
		}
		if writeErr != nil {
			continue
		}
		writeErr = w.WriteFrame(FromEvent(ev))
	}

	var runErr error
	for err := range errs {
		if runErr == nil {
			runErr = err
		}
	}
	if runErr == nil && !completed {
		runErr = errIncomplete
	}

	if runErr != nil {
		if writeErr == nil {
			_ = w.WriteFrame(ErrorFrame(runID, runErr))
		}
		return runErr
	}
	return writeErr
}
