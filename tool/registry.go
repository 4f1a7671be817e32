package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
)

// Catalog returns the tool identifiers a caller may use in a conversation.
type Catalog interface {
	PermittedTools(ctx context.Context, creds core.Credentials, conversationID string) ([]string, error)
}

// CatalogFunc adapts a function to the Catalog interface.
type CatalogFunc func(ctx context.Context, creds core.Credentials, conversationID string) ([]string, error)

// PermittedTools implements Catalog.
func (f CatalogFunc) PermittedTools(ctx context.Context, creds core.Credentials, conversationID string) ([]string, error) {
	return f(ctx, creds, conversationID)
}

// Env is passed to factories so tools can bind caller-specific state.
type Env struct {
	Credentials    core.Credentials
	ConversationID string
}

// Factory resolves a tool identifier into a fresh Tool for one run.
type Factory func(ctx context.Context, env Env) (Tool, error)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Static lists identifiers that are always available, independent of the catalog.
	Static []string
	// Logger receives warnings for dropped tools. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Registry maps tool identifiers to factories and resolves the tool set of a
// run. It holds no per-run state; Load builds new handles on every call.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	static    []string
	logger    logging.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Registry{
		factories: make(map[string]Factory),
		static:    append([]string(nil), opts.Static...),
		logger:    opts.Logger,
	}
}

// Register binds a factory to an identifier, replacing any previous binding.
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
}

// RegisterTool binds an identifier to a factory returning t.
func (r *Registry) RegisterTool(id string, t Tool) {
	r.Register(id, func(context.Context, Env) (Tool, error) { return t, nil })
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Load fetches the caller's permitted identifiers from catalog, merges them
// with the static identifiers and resolves each through its factory.
//
// A catalog failure fails the whole load with *core.ToolCatalogError. An
// identifier without a factory, a failing factory or a duplicate tool name is
// dropped with a warning; the remaining tools are returned in merge order.
func (r *Registry) Load(ctx context.Context, catalog Catalog, creds core.Credentials, conversationID string) ([]Tool, error) {
	var dynamic []string
	if catalog != nil {
		ids, err := catalog.PermittedTools(ctx, creds, conversationID)
		if err != nil {
			return nil, &core.ToolCatalogError{Cause: err}
		}
		dynamic = ids
	}

	env := Env{Credentials: creds, ConversationID: conversationID}
	seenIDs := make(map[string]struct{})
	seenNames := make(map[string]struct{})
	tools := make([]Tool, 0, len(r.static)+len(dynamic))

	for _, id := range mergeIDs(r.static, dynamic) {
		if _, dup := seenIDs[id]; dup {
			continue
		}
		seenIDs[id] = struct{}{}

		t, err := r.resolve(ctx, id, env)
		if err != nil {
			r.logger.Warn("tool.load.dropped", "tool_id", id, "conversation_id", conversationID, "error", err.Error())
			continue
		}
		if _, dup := seenNames[t.Name()]; dup {
			r.logger.Warn("tool.load.duplicate_name", "tool_id", id, "tool", t.Name())
			continue
		}
		seenNames[t.Name()] = struct{}{}
		tools = append(tools, t)
	}

	r.logger.Debug("tool.load.complete", "conversation_id", conversationID, "count", len(tools))
	return tools, nil
}

func (r *Registry) resolve(ctx context.Context, id string, env Env) (t Tool, err error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no factory for %q", ErrUnavailable, id)
	}

	defer func() {
		if rec := recover(); rec != nil {
			t, err = nil, fmt.Errorf("factory panic: %v", rec)
		}
	}()

	t, err = f(ctx, env)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: factory for %q returned nil", ErrUnavailable, id)
	}
	return t, nil
}

func mergeIDs(static, dynamic []string) []string {
	out := make([]string, 0, len(static)+len(dynamic))
	out = append(out, static...)
	return append(out, dynamic...)
}

// Find returns the tool with the given name.
func Find(tools []Tool, name string) (Tool, bool) {
	for _, t := range tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}
