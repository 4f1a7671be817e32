// Package agentrun provides a high-level façade over the run engine. Most
// applications interact with this package by:
//  1. Creating a Runtime via New() with a model and optional overrides
//  2. Registering tools on the Runtime's registry
//  3. Running conversations asynchronously (Run), synchronously (RunSync) or
//     over HTTP (Handler)
//
// The façade delegates orchestration to engine.Engine and retry handling to
// model.Invoker while keeping setup concise. All defaults are safe for local
// development and testing; production deployments typically supply a
// persistent catalog, metrics and a structured logger.
package agentrun

import (
	"context"
	"net/http"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/engine"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/observability"
	"github.com/hupe1980/agentrun/stream"
	"github.com/hupe1980/agentrun/tool"
	"github.com/hupe1980/agentrun/tool/builtin"
)

// Options configures a Runtime.
type Options struct {
	// Retry governs model calls. Defaults to model.DefaultRetryPolicy().
	Retry model.RetryPolicy

	// Engine options such as MaxCycles, TokenBudget and Callbacks. Logger,
	// Metrics, Tracer and Catalog set below take precedence.
	Engine engine.Options

	// Registry resolves tool identifiers. Defaults to a registry with the
	// builtin tools bound as static tools.
	Registry *tool.Registry

	// Agents loads agent identities. Nil serves a default identity.
	Agents engine.AgentLoader

	// Catalog returns caller-specific tool identifiers.
	Catalog tool.Catalog

	Logger  logging.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Runtime bundles an engine with the components it needs.
type Runtime struct {
	opts   Options
	engine *engine.Engine
}

// New creates a Runtime for m.
func New(m model.Model, optFns ...func(o *Options)) *Runtime {
	opts := Options{
		Retry:  model.DefaultRetryPolicy(),
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Registry == nil {
		opts.Registry = tool.NewRegistry(func(o *tool.RegistryOptions) {
			o.Static = []string{builtin.CalculatorID, builtin.CurrentTimeID}
			o.Logger = opts.Logger
		})
		builtin.Register(opts.Registry)
	}

	invoker := model.NewInvoker(m, func(o *model.InvokerOptions) {
		o.Retry = opts.Retry
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
		o.Tracer = opts.Tracer
	})

	eng := engine.New(invoker, opts.Registry, opts.Agents, func(o *engine.Options) {
		*o = opts.Engine
		o.Catalog = opts.Catalog
		o.Logger = opts.Logger
		o.Metrics = opts.Metrics
		o.Tracer = opts.Tracer
	})

	return &Runtime{opts: opts, engine: eng}
}

// Engine returns the underlying engine.
func (r *Runtime) Engine() *engine.Engine { return r.engine }

// Registry returns the tool registry.
func (r *Runtime) Registry() *tool.Registry { return r.opts.Registry }

// Run starts an asynchronous run returning event & error channels.
func (r *Runtime) Run(ctx context.Context, req core.RunRequest) (string, <-chan core.Event, <-chan error, error) {
	return r.engine.Run(ctx, req)
}

// RunSync is a synchronous helper that drains the async channels, accumulates
// events and returns the run id.
func (r *Runtime) RunSync(ctx context.Context, req core.RunRequest) (string, []core.Event, error) {
	runID, eventsCh, errorsCh, err := r.engine.Run(ctx, req)
	if err != nil {
		return "", nil, err
	}

	var events []core.Event
	for {
		select {
		case <-ctx.Done():
			return runID, events, ctx.Err()

		case event, ok := <-eventsCh:
			if !ok {
				// the engine sends its error before closing either channel
				if err, ok := <-errorsCh; ok {
					return runID, events, err
				}
				return runID, events, nil
			}
			events = append(events, event)
		}
	}
}

// Stop cancels an in-flight run.
func (r *Runtime) Stop(runID string) error { return r.engine.Stop(runID) }

// Handler returns an http.Handler streaming runs as Server-Sent Events.
func (r *Runtime) Handler(optFns ...func(o *stream.HandlerOptions)) http.Handler {
	fns := append([]func(o *stream.HandlerOptions){func(o *stream.HandlerOptions) {
		o.Logger = r.opts.Logger
	}}, optFns...)
	return stream.NewHandler(r.engine, fns...)
}
