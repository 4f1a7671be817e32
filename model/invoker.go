package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/observability"
)

// RetryPolicy configures how the Invoker retries transient failures.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts including the first.
	MaxAttempts int
	// InitialDelay is the wait after the first failed attempt.
	InitialDelay time.Duration
	// MaxDelay caps any single wait.
	MaxDelay time.Duration
	// Factor multiplies the wait after every failed attempt.
	Factor float64
	// Jitter multiplies each wait by a random factor in [0.5, 1.5).
	Jitter bool
	// AttemptTimeout bounds a single attempt. Expiry is a transient error.
	// Zero disables the per-attempt timeout.
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy returns five attempts with waits of 1s, 2s, 4s and 8s
// between them, capped at 16s, without jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialDelay:   time.Second,
		MaxDelay:       16 * time.Second,
		Factor:         2.0,
		Jitter:         false,
		AttemptTimeout: 60 * time.Second,
	}
}

// Backoff returns the wait after the given number of failed attempts
// (failed >= 1), before jitter.
func (p RetryPolicy) Backoff(failed int) time.Duration {
	if failed < 1 {
		failed = 1
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.Factor, float64(failed-1)))
	if p.MaxDelay > 0 && (d > p.MaxDelay || d < 0) {
		d = p.MaxDelay
	}
	return d
}

func (p RetryPolicy) normalize() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Factor <= 0 {
		p.Factor = def.Factor
	}
	return p
}

// InvokerOptions configures an Invoker.
type InvokerOptions struct {
	Retry   RetryPolicy
	Logger  logging.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// Sleep waits for d or until ctx is done. Tests replace it to observe
	// backoff without waiting.
	Sleep func(ctx context.Context, d time.Duration) error

	// Rand returns a value in [0, 1) used for jitter.
	Rand func() float64
}

// Result is a successful model call. Token counters are zero when the
// provider did not report usage.
type Result struct {
	Message      core.Message
	InputTokens  int
	OutputTokens int
	StopReason   string
	Attempts     int
}

// Delta is a streamed text fragment. Attempt identifies the try that
// produced it; fragments of a failed attempt are superseded by the next one.
type Delta struct {
	Attempt int
	Text    string
}

// CallOptions configures a single Invoke call.
type CallOptions struct {
	// OnDelta receives text fragments from models that can stream. An error
	// aborts the call.
	OnDelta func(d Delta) error
}

// Invoker wraps a Model with bounded exponential-backoff retry on transient
// errors. It is safe for concurrent use when the wrapped Model is.
type Invoker struct {
	model Model
	opts  InvokerOptions
}

// NewInvoker creates an Invoker around m.
func NewInvoker(m Model, optFns ...func(o *InvokerOptions)) *Invoker {
	opts := InvokerOptions{
		Retry:  DefaultRetryPolicy(),
		Logger: logging.NoOpLogger{},
		Sleep:  sleepContext,
		Rand:   rand.Float64, // #nosec G404 -- jitter does not require cryptographic randomness
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Retry = opts.Retry.normalize()
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64 // #nosec G404
	}
	return &Invoker{model: m, opts: opts}
}

// Info returns the wrapped model's metadata.
func (inv *Invoker) Info() Info { return inv.model.Info() }

// Invoke performs one model call for the transcript and bound tools.
//
// Transient failures are retried up to Retry.MaxAttempts attempts in total.
// Fatal failures propagate immediately as *Error. Cancellation of ctx aborts
// without further attempts and returns ctx.Err().
func (inv *Invoker) Invoke(ctx context.Context, system string, messages []core.Message, tools []ToolDefinition, optFns ...func(o *CallOptions)) (*Result, error) {
	var call CallOptions
	for _, fn := range optFns {
		fn(&call)
	}

	req := Request{System: system, Messages: messages, Tools: tools}
	policy := inv.opts.Retry
	info := inv.model.Info()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if call.OnDelta != nil {
			n := attempt
			req.OnDelta = func(text string) error {
				return call.OnDelta(Delta{Attempt: n, Text: text})
			}
		}

		resp, err := inv.attempt(ctx, req, info, attempt)
		if err == nil {
			return inv.result(resp, attempt), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if Classify(err) == KindFatal {
			inv.opts.Logger.Error("model.invoke.failed", "provider", info.Provider, "attempt", attempt, "error", err.Error())
			return nil, &Error{Kind: KindFatal, Attempts: attempt, Cause: err}
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}

		wait := inv.wait(attempt)
		inv.opts.Logger.Warn("model.invoke.retry",
			"provider", info.Provider,
			"attempt", attempt,
			"wait_ms", wait.Milliseconds(),
			"error", err.Error(),
		)
		inv.opts.Metrics.ModelRetry(info.Provider)
		if err := inv.opts.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	inv.opts.Logger.Error("model.invoke.exhausted", "provider", info.Provider, "attempts", policy.MaxAttempts)
	return nil, &Error{Kind: KindTransient, Attempts: policy.MaxAttempts, Cause: lastErr}
}

func (inv *Invoker) attempt(ctx context.Context, req Request, info Info, attempt int) (*Response, error) {
	timeout := inv.opts.Retry.AttemptTimeout
	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	attemptCtx, span := inv.opts.Tracer.TraceModelCall(attemptCtx, info.Provider, info.Name, attempt)
	defer span.End()

	start := time.Now()
	resp, err := inv.model.Generate(attemptCtx, req)
	if err == nil && resp == nil {
		err = errors.New("model returned no response")
	}
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %v", ErrAttemptTimeout, timeout, err)
	}

	outcome := "success"
	if err != nil {
		outcome = Classify(err).String()
		observability.RecordError(span, err)
	}
	inv.opts.Metrics.ModelAttempt(info.Provider, outcome, time.Since(start))
	return resp, err
}

func (inv *Invoker) result(resp *Response, attempts int) *Result {
	msg := resp.Message
	if msg.Role == "" {
		msg.Role = core.RoleAssistant
	}
	r := &Result{Message: msg, StopReason: resp.StopReason, Attempts: attempts}
	if resp.Usage != nil {
		r.InputTokens = max(resp.Usage.InputTokens, 0)
		r.OutputTokens = max(resp.Usage.OutputTokens, 0)
	}
	inv.opts.Metrics.Tokens(r.InputTokens, r.OutputTokens)
	return r
}

func (inv *Invoker) wait(failed int) time.Duration {
	d := inv.opts.Retry.Backoff(failed)
	if inv.opts.Retry.Jitter {
		d = time.Duration(float64(d) * (0.5 + inv.opts.Rand()))
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
