// Package config loads the service configuration from YAML.
//
// Environment variables referenced as ${VAR} are expanded before parsing, so
// secrets such as API keys stay out of the file:
//
//	model:
//	  provider: anthropic
//	  api_key: ${ANTHROPIC_API_KEY}
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server        ServerConfig         `yaml:"server"`
	Model         ModelConfig          `yaml:"model"`
	Retry         RetryConfig          `yaml:"retry"`
	Engine        EngineConfig         `yaml:"engine"`
	Tools         ToolsConfig          `yaml:"tools"`
	Database      DatabaseConfig       `yaml:"database"`
	Logging       LoggingConfig        `yaml:"logging"`
	Tracing       TracingConfig        `yaml:"tracing"`
	Agents        []AgentConfig        `yaml:"agents"`
	Conversations []ConversationConfig `yaml:"conversations"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// ModelConfig selects the model provider.
type ModelConfig struct {
	// Provider is anthropic, openai or mock.
	Provider  string `yaml:"provider"`
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int64  `yaml:"max_tokens"`
	// Temperature overrides the provider default when set; 0 is kept.
	Temperature *float64 `yaml:"temperature"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialDelay   time.Duration `yaml:"initial_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	Jitter         bool          `yaml:"jitter"`
}

type EngineConfig struct {
	MaxCycles           int    `yaml:"max_cycles"`
	MaxParallelTools    int    `yaml:"max_parallel_tools"`
	EventBuffer         int    `yaml:"event_buffer"`
	TokenBudget         int    `yaml:"token_budget"`
	ThinkingBudget      int    `yaml:"thinking_budget"`
	DefaultSystemPrompt string `yaml:"default_system_prompt"`
	// DisableDeltas turns off streamed message_delta frames.
	DisableDeltas bool `yaml:"disable_deltas"`
}

type ToolsConfig struct {
	// Static tool ids are bound to every run.
	Static []string `yaml:"static"`
}

// DatabaseConfig enables the PostgreSQL catalog when DSN is set.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig enables OTLP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// AgentConfig defines an agent for the in-memory catalog.
type AgentConfig struct {
	Name         string `yaml:"name"`
	SystemPrompt string `yaml:"system_prompt"`
	Memory       string `yaml:"memory"`
}

// ConversationConfig binds a conversation to an agent in the in-memory
// catalog. An entry with id "*" serves every unknown conversation.
type ConversationConfig struct {
	ID             string   `yaml:"id"`
	OrganizationID string   `yaml:"organization_id"`
	Agent          string   `yaml:"agent"`
	Tools          []string `yaml:"tools"`
}

// Load reads, expands and parses the file at path, then applies defaults
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for in-memory data.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 4 << 20
	}
	if cfg.Model.Provider == "" {
		cfg.Model.Provider = "anthropic"
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = 4096
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 16 * time.Second
	}
	if cfg.Retry.AttemptTimeout == 0 {
		cfg.Retry.AttemptTimeout = 60 * time.Second
	}
	if cfg.Engine.MaxCycles == 0 {
		cfg.Engine.MaxCycles = 25
	}
	if cfg.Engine.EventBuffer == 0 {
		cfg.Engine.EventBuffer = 100
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "agentrun"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Model.Provider {
	case "anthropic", "openai":
		if strings.TrimSpace(c.Model.APIKey) == "" {
			errs = append(errs, fmt.Errorf("model.api_key is required for provider %s", c.Model.Provider))
		}
	case "mock":
	default:
		errs = append(errs, fmt.Errorf("model.provider %q is not one of anthropic, openai, mock", c.Model.Provider))
	}
	if c.Model.MaxTokens < 0 {
		errs = append(errs, errors.New("model.max_tokens must not be negative"))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 || c.Retry.AttemptTimeout < 0 {
		errs = append(errs, errors.New("retry durations must not be negative"))
	}
	if c.Retry.MaxDelay > 0 && c.Retry.InitialDelay > c.Retry.MaxDelay {
		errs = append(errs, errors.New("retry.initial_delay must not exceed retry.max_delay"))
	}

	if c.Engine.MaxParallelTools < 0 {
		errs = append(errs, errors.New("engine.max_parallel_tools must not be negative"))
	}
	if c.Engine.EventBuffer < 0 {
		errs = append(errs, errors.New("engine.event_buffer must not be negative"))
	}
	if c.Engine.TokenBudget < 0 || c.Engine.ThinkingBudget < 0 {
		errs = append(errs, errors.New("engine token budgets must not be negative"))
	}
	if c.Engine.TokenBudget > 0 && c.Engine.ThinkingBudget >= c.Engine.TokenBudget {
		errs = append(errs, errors.New("engine.thinking_budget must be below engine.token_budget"))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not one of json, text", c.Logging.Format))
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, errors.New("tracing.sampling_rate must be within [0, 1]"))
	}

	agents := make(map[string]struct{}, len(c.Agents))
	for i, a := range c.Agents {
		if a.Name == "" {
			errs = append(errs, fmt.Errorf("agents[%d].name is required", i))
			continue
		}
		if _, dup := agents[a.Name]; dup {
			errs = append(errs, fmt.Errorf("agents[%d]: duplicate name %q", i, a.Name))
		}
		agents[a.Name] = struct{}{}
	}
	for i, conv := range c.Conversations {
		if conv.ID == "" {
			errs = append(errs, fmt.Errorf("conversations[%d].id is required", i))
		}
		if _, ok := agents[conv.Agent]; !ok {
			errs = append(errs, fmt.Errorf("conversations[%d]: unknown agent %q", i, conv.Agent))
		}
	}

	return errors.Join(errs...)
}
