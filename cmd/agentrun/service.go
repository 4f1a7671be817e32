package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/agentrun"
	"github.com/hupe1980/agentrun/catalog"
	"github.com/hupe1980/agentrun/catalog/postgres"
	"github.com/hupe1980/agentrun/config"
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/engine"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/model/anthropic"
	"github.com/hupe1980/agentrun/model/openai"
	"github.com/hupe1980/agentrun/observability"
	"github.com/hupe1980/agentrun/stream"
	"github.com/hupe1980/agentrun/tool"
	"github.com/hupe1980/agentrun/tool/builtin"
)

// service holds the wired components of a running server.
type service struct {
	cfg            *config.Config
	logger         *logging.ServiceLogger
	registry       *prometheus.Registry
	runtime        *agentrun.Runtime
	store          *postgres.Store
	shutdownTracer func(context.Context) error
}

func newService(ctx context.Context, cfg *config.Config) (*service, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	tracer, shutdownTracer, err := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	m, err := newModel(cfg.Model)
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, err
	}

	svc := &service{cfg: cfg, logger: logger, registry: reg, shutdownTracer: shutdownTracer}

	agents, cat, err := svc.newCatalog(ctx)
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, err
	}

	toolRegistry := tool.NewRegistry(func(o *tool.RegistryOptions) {
		o.Static = cfg.Tools.Static
		o.Logger = logger.WithComponent("tool")
	})
	builtin.Register(toolRegistry)

	svc.runtime = agentrun.New(m, func(o *agentrun.Options) {
		o.Retry = model.RetryPolicy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialDelay:   cfg.Retry.InitialDelay,
			MaxDelay:       cfg.Retry.MaxDelay,
			Factor:         2,
			Jitter:         cfg.Retry.Jitter,
			AttemptTimeout: cfg.Retry.AttemptTimeout,
		}
		o.Engine = engine.Options{
			MaxCycles:           cfg.Engine.MaxCycles,
			MaxParallelTools:    cfg.Engine.MaxParallelTools,
			EventBufferSize:     cfg.Engine.EventBuffer,
			TokenBudget:         cfg.Engine.TokenBudget,
			ThinkingBudget:      cfg.Engine.ThinkingBudget,
			DefaultSystemPrompt: cfg.Engine.DefaultSystemPrompt,
			DisableDeltas:       cfg.Engine.DisableDeltas,
		}
		o.Registry = toolRegistry
		o.Agents = agents
		o.Catalog = cat
		o.Logger = logger.WithComponent("engine").WithContext("provider", cfg.Model.Provider)
		o.Metrics = metrics
		o.Tracer = tracer
	})

	return svc, nil
}

// Handler returns the HTTP routes of the service.
func (s *service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/v1/runs", s.runtime.Handler(func(o *stream.HandlerOptions) {
		o.MaxBodyBytes = s.cfg.Server.MaxBodyBytes
		o.Logger = s.logger.WithComponent("stream")
	}))
	mux.HandleFunc("DELETE /v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if err := s.runtime.Stop(r.PathValue("id")); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	return mux
}

// Close releases the database and flushes traces.
func (s *service) Close(ctx context.Context) {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("catalog.close_failed", "error", err.Error())
		}
	}
	if err := s.shutdownTracer(ctx); err != nil {
		s.logger.Warn("tracing.shutdown_failed", "error", err.Error())
	}
}

func newLogger(cfg *config.Config) (*logging.ServiceLogger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Logging.Format,
		Output:    os.Stderr,
		Component: "agentrun",
	}), nil
}

func newModel(cfg config.ModelConfig) (model.Model, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewModel(anthropicOptions(cfg)), nil
	case "openai":
		return openai.NewModel(openaiOptions(cfg)), nil
	case "mock":
		return echoModel{}, nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}

func anthropicOptions(cfg config.ModelConfig) func(o *anthropic.Options) {
	return func(o *anthropic.Options) {
		o.APIKey = cfg.APIKey
		o.BaseURL = cfg.BaseURL
		o.MaxTokens = cfg.MaxTokens
		if cfg.Name != "" {
			o.Model = anthropicsdk.Model(cfg.Name)
		}
		if cfg.Temperature != nil {
			o.Temperature = *cfg.Temperature
		}
	}
}

func openaiOptions(cfg config.ModelConfig) func(o *openai.Options) {
	return func(o *openai.Options) {
		o.APIKey = cfg.APIKey
		o.BaseURL = cfg.BaseURL
		o.MaxCompletionTokens = cfg.MaxTokens
		if cfg.Name != "" {
			o.Model = cfg.Name
		}
		if cfg.Temperature != nil {
			o.Temperature = *cfg.Temperature
		}
	}
}

// newCatalog returns the PostgreSQL catalog when a DSN is configured and the
// in-memory catalog built from the file otherwise.
func (s *service) newCatalog(ctx context.Context) (engine.AgentLoader, tool.Catalog, error) {
	cfg := s.cfg
	if cfg.Database.DSN != "" {
		store, err := postgres.Open(ctx, cfg.Database.DSN, postgresConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		if cfg.Database.Migrate {
			if err := store.Migrate(ctx); err != nil {
				_ = store.Close()
				return nil, nil, err
			}
		}
		s.store = store
		return store, store, nil
	}

	store := newMemoryCatalog(cfg)
	return store, store, nil
}

func newMemoryCatalog(cfg *config.Config) *catalog.InMemoryStore {
	agents := make(map[string]core.AgentIdentity, len(cfg.Agents))
	for _, a := range cfg.Agents {
		agent := core.AgentIdentity{Name: a.Name, Memory: a.Memory}
		if a.SystemPrompt != "" {
			prompt := a.SystemPrompt
			agent.SystemPromptOverride = &prompt
		}
		agents[a.Name] = agent
	}

	var fallback *core.AgentIdentity
	var fallbackTools []string
	for _, c := range cfg.Conversations {
		if c.ID == "*" {
			agent := agents[c.Agent]
			fallback = &agent
			fallbackTools = c.Tools
		}
	}
	if len(cfg.Conversations) == 0 {
		fallback = &core.AgentIdentity{Name: "assistant"}
	}

	store := catalog.NewInMemoryStore(func(o *catalog.InMemoryOptions) {
		o.Fallback = fallback
		o.FallbackTools = fallbackTools
	})
	for _, a := range agents {
		store.PutAgent(a)
	}
	for _, c := range cfg.Conversations {
		if c.ID == "*" {
			continue
		}
		store.PutConversation(catalog.Conversation{
			ID:             c.ID,
			OrganizationID: c.OrganizationID,
			AgentName:      c.Agent,
			Tools:          c.Tools,
		})
	}
	return store
}

func postgresConfig(cfg *config.Config) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.MaxOpenConns = cfg.Database.MaxOpenConns
	pc.MaxIdleConns = cfg.Database.MaxIdleConns
	pc.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	return pc
}

// echoModel answers with the last user message. It backs the mock provider
// for local smoke tests without credentials.
type echoModel struct{}

func (echoModel) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == core.RoleUser {
			last = req.Messages[i].Text()
			break
		}
	}
	if strings.TrimSpace(last) == "" {
		return nil, errors.New("no user message to echo")
	}
	return &model.Response{
		Message:    core.NewTextMessage(core.RoleAssistant, "echo: "+last),
		StopReason: "end_turn",
	}, nil
}

func (echoModel) Info() model.Info {
	return model.Info{Name: "echo", Provider: "mock"}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
