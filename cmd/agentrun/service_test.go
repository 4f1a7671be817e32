package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/config"
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/model/anthropic"
	"github.com/hupe1980/agentrun/model/openai"
)

const mockConfig = `
model:
  provider: mock
logging:
  level: error
tools:
  static: [calculator]
agents:
  - name: ada
    system_prompt: "You are Ada, a concise assistant."
conversations:
  - id: conv-1
    organization_id: org-1
    agent: ada
    tools: [current_time]
  - id: "*"
    agent: ada
`

func newTestService(t *testing.T) *service {
	t.Helper()
	cfg, err := config.Parse([]byte(mockConfig))
	require.NoError(t, err)
	svc, err := newService(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close(context.Background()) })
	return svc
}

const runBody = `{"conversationId":"conv-1","messages":[{"role":"user","content":"ping"}],` +
	`"callerCredentials":{"clientUserId":"u","clientOrganizationId":"org-1","platformUserId":"p","platformApiKey":"k"}}`

func TestService_Routes(t *testing.T) {
	srv := httptest.NewServer(newTestService(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/v1/runs", "application/json", strings.NewReader(runBody))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "echo: ping")
	assert.Contains(t, string(body), "event: done")
	assert.True(t, strings.HasSuffix(string(body), "data: [DONE]\n\n"))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	metrics, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `agentrun_runs_total{status="success"} 1`)
	assert.Contains(t, string(metrics), "go_goroutines")

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/runs/unknown", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestService_ForeignOrganizationGetsGenericError(t *testing.T) {
	srv := httptest.NewServer(newTestService(t).Handler())
	defer srv.Close()

	body := strings.Replace(runBody, `"clientOrganizationId":"org-1"`, `"clientOrganizationId":"org-2"`, 1)
	resp, err := http.Post(srv.URL+"/v1/runs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	out, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	assert.Contains(t, string(out), "event: error")
	assert.Contains(t, string(out), "An unknown error occurred.")
	assert.NotContains(t, string(out), "another organization")
}

func TestNewMemoryCatalog(t *testing.T) {
	cfg, err := config.Parse([]byte(mockConfig))
	require.NoError(t, err)
	store := newMemoryCatalog(cfg)
	ctx := context.Background()
	creds := core.Credentials{ClientOrganizationID: "org-1"}

	agent, err := store.LoadAgent(ctx, "conv-1", creds)
	require.NoError(t, err)
	assert.Equal(t, "ada", agent.Name)
	require.NotNil(t, agent.SystemPromptOverride)

	ids, err := store.PermittedTools(ctx, creds, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"current_time"}, ids)

	// "*" serves unknown conversations
	agent, err = store.LoadAgent(ctx, "other", creds)
	require.NoError(t, err)
	assert.Equal(t, "ada", agent.Name)
}

func TestNewMemoryCatalog_NoConversationsServesDefaultAgent(t *testing.T) {
	store := newMemoryCatalog(config.Default())
	agent, err := store.LoadAgent(context.Background(), "anything", core.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, "assistant", agent.Name)
}

func TestNewModel(t *testing.T) {
	m, err := newModel(config.ModelConfig{Provider: "anthropic", APIKey: "k", Name: "claude-test"})
	require.NoError(t, err)
	assert.IsType(t, &anthropic.Model{}, m)
	assert.Equal(t, "anthropic", m.Info().Provider)

	m, err = newModel(config.ModelConfig{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &openai.Model{}, m)

	m, err = newModel(config.ModelConfig{Provider: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "mock", m.Info().Provider)

	_, err = newModel(config.ModelConfig{Provider: "llama"})
	assert.Error(t, err)
}

func TestNewModel_Temperature(t *testing.T) {
	zero, warm := 0.0, 0.9

	tests := []struct {
		name string
		temp *float64
		want float64
	}{
		{"unset keeps default", nil, 0.7},
		{"explicit zero", &zero, 0},
		{"explicit value", &warm, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.ModelConfig{APIKey: "k", Temperature: tt.temp}

			a := anthropic.Options{Temperature: 0.7}
			anthropicOptions(cfg)(&a)
			assert.Equal(t, tt.want, a.Temperature)

			o := openai.Options{Temperature: 0.7}
			openaiOptions(cfg)(&o)
			assert.Equal(t, tt.want, o.Temperature)
		})
	}
}

func TestEchoModel(t *testing.T) {
	resp, err := echoModel{}.Generate(context.Background(), model.Request{Messages: []core.Message{
		core.NewTextMessage(core.RoleUser, "first"),
		core.NewTextMessage(core.RoleAssistant, "reply"),
		core.NewTextMessage(core.RoleUser, "second"),
	}})
	require.NoError(t, err)
	assert.Equal(t, "echo: second", resp.Message.Text())

	_, err = echoModel{}.Generate(context.Background(), model.Request{})
	assert.Error(t, err)
}

func TestCheckCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(mockConfig), 0o600))

	cmd := buildRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"check", "--config", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "configuration OK (provider mock, 1 agents, 2 conversations)")
}

func TestMigrateCmd_RequiresDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(mockConfig), 0o600))

	cmd := buildRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"migrate", "--config", path})
	assert.ErrorContains(t, cmd.Execute(), "database.dsn is not configured")
}
