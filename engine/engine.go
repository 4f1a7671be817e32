package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/history"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/observability"
	"github.com/hupe1980/agentrun/tool"
)

// Engine executes runs. It is safe for concurrent use; each run owns its
// RunState and nothing mutable is shared between runs.
type Engine struct {
	invoker  ModelInvoker
	registry *tool.Registry
	agents   AgentLoader
	opts     Options
	logger   logging.Logger

	activeRuns map[string]context.CancelFunc
	runsMu     sync.Mutex
}

// New creates an Engine. agents may be nil, in which case every conversation
// uses an anonymous agent identity.
func New(invoker ModelInvoker, registry *tool.Registry, agents AgentLoader, optFns ...func(o *Options)) *Engine {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxCycles == 0 {
		opts.MaxCycles = DefaultMaxCycles
	}
	if opts.EventBufferSize <= 0 {
		opts.EventBufferSize = defaultEventBufferSize
	}
	if opts.DefaultSystemPrompt == "" {
		opts.DefaultSystemPrompt = DefaultSystemPrompt
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if registry == nil {
		registry = tool.NewRegistry()
	}

	return &Engine{
		invoker:    invoker,
		registry:   registry,
		agents:     agents,
		opts:       opts,
		logger:     opts.Logger,
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// Run starts a run asynchronously. Events are delivered on the first channel
// in emission order; a run failure is delivered once on the second channel.
// Both channels are closed when the run ends. Cancelling ctx, or calling Stop
// with the returned id, aborts the run.
func (e *Engine) Run(ctx context.Context, req core.RunRequest) (string, <-chan core.Event, <-chan error, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, nil, err
	}

	runID := core.NewID()
	eventsCh := make(chan core.Event, e.opts.EventBufferSize)
	errorsCh := make(chan error, 1)

	// The run is registered before its id is handed out, so Stop works as
	// soon as Run returns.
	ctx, cancel := context.WithCancel(ctx)
	e.track(runID, cancel)

	go func() {
		defer func() {
			close(eventsCh)
			close(errorsCh)
		}()
		defer cancel()
		defer e.untrack(runID)

		emit := func(ev core.Event) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case eventsCh <- ev:
				return nil
			}
		}

		if _, err := e.execute(ctx, runID, req, emit); err != nil {
			errorsCh <- err
		}
	}()

	return runID, eventsCh, errorsCh, nil
}

// RunSync executes a run to completion and returns the final state together
// with every emitted event.
func (e *Engine) RunSync(ctx context.Context, req core.RunRequest) (*RunState, []core.Event, error) {
	var events []core.Event
	rs, err := e.Execute(ctx, core.NewID(), req, func(ev core.Event) error {
		events = append(events, ev)
		return nil
	})
	return rs, events, err
}

// Stop cancels an in-flight run.
func (e *Engine) Stop(runID string) error {
	e.runsMu.Lock()
	cancel, ok := e.activeRuns[runID]
	e.runsMu.Unlock()
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	cancel()
	return nil
}

// Execute drives the state machine for one run on the calling goroutine.
// emit is called sequentially for every event; an emit error aborts the run.
// The returned state reflects everything completed before a failure.
func (e *Engine) Execute(ctx context.Context, runID string, req core.RunRequest, emit func(core.Event) error) (*RunState, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.track(runID, cancel)
	defer e.untrack(runID)

	return e.execute(ctx, runID, req, emit)
}

// execute runs the state machine for a run that is already tracked.
func (e *Engine) execute(ctx context.Context, runID string, req core.RunRequest, emit func(core.Event) error) (*RunState, error) {
	log := logging.ForRun(e.logger, runID, req.ConversationID)

	ctx, span := e.opts.Tracer.TraceRun(ctx, runID, req.ConversationID)
	defer span.End()

	start := time.Now()
	e.opts.Metrics.RunStarted()
	log.Info("engine.run.start", "messages", len(req.Messages))

	rs := RunState{
		RunID:          runID,
		ConversationID: req.ConversationID,
		Messages:       append([]core.Message(nil), req.Messages...),
		log:            log,
	}

	rs, err := e.loop(ctx, req, rs, emit)

	status := "success"
	if err != nil {
		status = "error"
		if ctx.Err() != nil {
			status = "canceled"
		}
		observability.RecordError(span, err)
		log.Error("engine.run.failed",
			"cycles", rs.Cycles,
			"error", err.Error(),
		)
		if cbErr := e.opts.Callbacks.ExecuteCallbacks(context.WithoutCancel(ctx), &CallbackContext{
			CallbackType:   CallbackOnError,
			RunID:          runID,
			ConversationID: req.ConversationID,
			Err:            err,
		}); cbErr != nil {
			log.Warn("engine.callback.on_error_failed", "error", cbErr.Error())
		}
	} else {
		log.Info("engine.run.complete",
			"cycles", rs.Cycles,
			"input_tokens", rs.InputTokens,
			"output_tokens", rs.OutputTokens,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	e.opts.Metrics.RunFinished(status, time.Since(start))

	return &rs, err
}

func (e *Engine) loop(ctx context.Context, req core.RunRequest, rs RunState, emit func(core.Event) error) (RunState, error) {
	state := StateSetup
	for {
		if err := ctx.Err(); err != nil {
			return rs, err
		}

		var (
			to  State
			err error
		)
		switch state {
		case StateSetup:
			rs, err = e.setup(ctx, req, rs)
			to = StateModelCall
		case StateModelCall:
			rs, err = e.modelCall(ctx, rs, emit)
			to = next(rs)
		case StateToolDispatch:
			rs, err = e.dispatch(ctx, rs, emit)
			to = StateModelCall
		case StateDone:
			return rs, emit(core.NewRunCompleteEvent(rs.RunID, rs.Usage()))
		}
		if err != nil {
			return rs, err
		}

		if err := e.opts.Callbacks.ExecuteCallbacks(ctx, &CallbackContext{
			CallbackType:   CallbackOnStateChange,
			RunID:          rs.RunID,
			ConversationID: rs.ConversationID,
			From:           state,
			To:             to,
		}); err != nil {
			return rs, err
		}
		rs.log.Debug("engine.state.transition", "from", state.String(), "to", to.String())
		state = to
	}
}

// setup validates the caller, loads the agent identity and binds tools.
func (e *Engine) setup(ctx context.Context, req core.RunRequest, rs RunState) (RunState, error) {
	if err := req.Credentials.Validate(); err != nil {
		return rs, err
	}

	agent := &core.AgentIdentity{Name: "assistant"}
	if e.agents != nil {
		loaded, err := e.agents.LoadAgent(ctx, req.ConversationID, req.Credentials)
		if err != nil {
			return rs, fmt.Errorf("%w: %w", core.ErrAgentLoad, err)
		}
		if loaded == nil {
			return rs, fmt.Errorf("%w: no agent for conversation %s", core.ErrAgentLoad, req.ConversationID)
		}
		agent = loaded
	}

	tools, err := e.registry.Load(ctx, e.opts.Catalog, req.Credentials, req.ConversationID)
	if err != nil {
		return rs, err
	}

	prompt, err := resolveSystemPrompt(*agent, e.opts.DefaultSystemPrompt)
	if err != nil {
		rs.log.Warn("engine.setup.prompt_unrendered", "agent", agent.Name, "error", err.Error())
	}

	rs.Agent = agent
	rs.Tools = tools
	rs.SystemPrompt = prompt

	rs.log.Debug("engine.setup.complete",
		"agent", agent.Name,
		"tools", len(tools),
		"client_organization_id", req.Credentials.ClientOrganizationID,
	)
	return rs, nil
}

// modelCall sends the windowed transcript to the model and appends the reply.
func (e *Engine) modelCall(ctx context.Context, rs RunState, emit func(core.Event) error) (RunState, error) {
	if e.opts.MaxCycles > 0 && rs.Cycles >= e.opts.MaxCycles {
		return rs, fmt.Errorf("%w: limit of %d model calls reached", core.ErrMaxCycles, e.opts.MaxCycles)
	}

	if err := e.opts.Callbacks.ExecuteCallbacks(ctx, &CallbackContext{
		CallbackType:   CallbackBeforeModel,
		RunID:          rs.RunID,
		ConversationID: rs.ConversationID,
	}); err != nil {
		return rs, err
	}

	var callOpts []func(o *model.CallOptions)
	if !e.opts.DisableDeltas {
		callOpts = append(callOpts, func(o *model.CallOptions) {
			o.OnDelta = func(d model.Delta) error {
				return emit(core.NewMessageDeltaEvent(rs.RunID, d.Text, d.Attempt))
			}
		})
	}

	window := e.window(rs)
	res, err := e.invoker.Invoke(ctx, rs.SystemPrompt, window, model.ToolDefinitions(rs.Tools), callOpts...)
	if err != nil {
		return rs, err
	}

	msg := res.Message
	msg.Role = core.RoleAssistant
	msg.ToolCalls = withCallIDs(msg.ToolCalls)

	rs.Messages = append(rs.Messages, msg)
	rs.InputTokens += res.InputTokens
	rs.OutputTokens += res.OutputTokens
	rs.Cycles++

	rs.log.Debug("engine.model.reply",
		"cycle", rs.Cycles,
		"attempts", res.Attempts,
		"tool_calls", len(msg.ToolCalls),
		"input_tokens", res.InputTokens,
		"output_tokens", res.OutputTokens,
	)

	if err := e.opts.Callbacks.ExecuteCallbacks(ctx, &CallbackContext{
		CallbackType:   CallbackAfterModel,
		RunID:          rs.RunID,
		ConversationID: rs.ConversationID,
		Message:        &msg,
	}); err != nil {
		return rs, err
	}

	usage := core.Usage{InputTokens: res.InputTokens, OutputTokens: res.OutputTokens}
	return rs, emit(core.NewMessageEvent(rs.RunID, msg, usage))
}

// window applies the token budget to the transcript. Tool results whose call
// fell outside the window are dropped from its head.
func (e *Engine) window(rs RunState) []core.Message {
	if e.opts.TokenBudget <= 0 {
		return rs.Messages
	}
	window := history.Truncate(rs.SystemPrompt, rs.Messages, e.opts.TokenBudget, e.opts.ThinkingBudget)
	for len(window) > 0 && window[0].Role == core.RoleTool {
		window = window[1:]
	}
	if len(window) < len(rs.Messages) {
		rs.log.Debug("engine.history.truncated", "kept", len(window), "total", len(rs.Messages))
	}
	if len(window) == 0 && len(rs.Messages) > 0 {
		rs.log.Warn("engine.history.empty_window", "token_budget", e.opts.TokenBudget)
	}
	return window
}

// withCallIDs assigns ids to tool calls the provider left without one so every
// result can be paired with its call.
func withCallIDs(calls []core.ToolCall) []core.ToolCall {
	if len(calls) == 0 {
		return calls
	}
	out := make([]core.ToolCall, len(calls))
	copy(out, calls)
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = "call_" + core.NewID()
		}
	}
	return out
}

func (e *Engine) track(runID string, cancel context.CancelFunc) {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	e.activeRuns[runID] = cancel
}

func (e *Engine) untrack(runID string) {
	e.runsMu.Lock()
	defer e.runsMu.Unlock()
	delete(e.activeRuns, runID)
}

// IsCanceled reports whether err stems from run cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
