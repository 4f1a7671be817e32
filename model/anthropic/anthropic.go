// Package anthropic provides a model.Model backed by the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/model"
)

// statusOverloaded is Anthropic's non-standard "overloaded" status code.
const statusOverloaded = 529

// Options configures the Anthropic model adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
}

// Model wraps the Anthropic Messages API behind the model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

var _ model.Model = (*Model)(nil)

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// NewModel creates a new Anthropic model with its own client. The SDK's
// built-in retries are disabled so model.Invoker owns the retry policy.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    buildMessages(req.Messages),
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	if req.Stream() {
		return m.generateStream(ctx, params, req.OnDelta)
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	return toResponse(resp), nil
}

// generateStream uses the streaming Messages API, forwarding text deltas and
// accumulating the final message.
func (m *Model) generateStream(ctx context.Context, params anthropic.MessageNewParams, onDelta model.DeltaFunc) (*model.Response, error) {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var message anthropic.Message
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("anthropic stream: %w", err)
		}
		ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
			if err := onDelta(delta.Text); err != nil {
				return nil, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classify(err)
	}
	return toResponse(&message), nil
}

func toResponse(resp *anthropic.Message) *model.Response {
	msg := core.Message{Role: core.RoleAssistant}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if text := block.AsText().Text; text != "" {
				msg.Parts = append(msg.Parts, core.TextPart{Text: text})
			}
		case "tool_use":
			toolBlock := block.AsToolUse()
			args, err := json.Marshal(toolBlock.Input)
			if err != nil || len(args) == 0 || string(args) == "null" {
				args = []byte(`{}`)
			}
			msg.ToolCalls = append(msg.ToolCalls, core.ToolCall{
				ID:        toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: args,
			})
		}
	}

	return &model.Response{
		Message: msg,
		Usage: &core.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
		StopReason: string(resp.StopReason),
	}
}

// classify marks overload responses as transient.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == statusOverloaded ||
			apiErr.StatusCode == http.StatusServiceUnavailable ||
			strings.Contains(apiErr.RawJSON(), "overloaded_error") {
			return model.Overloaded(err)
		}
	}
	return fmt.Errorf("anthropic api error: %w", err)
}

// buildMessages converts the transcript to Anthropic messages. Consecutive
// tool results are grouped into a single user message as required by the API.
func buildMessages(messages []core.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var results []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, msg := range messages {
		switch msg.Role {
		case core.RoleSystem:
			continue
		case core.RoleTool:
			results = append(results, anthropic.NewToolResultBlock(msg.ToolCallID, partsText(msg.Parts), msg.IsError))
		case core.RoleAssistant:
			flush()
			if content := buildAssistantContent(msg); len(content) > 0 {
				out = append(out, anthropic.NewAssistantMessage(content...))
			}
		default:
			flush()
			if text := partsText(msg.Parts); text != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		}
	}
	flush()
	return out
}

func buildAssistantContent(msg core.Message) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion
	if text := partsText(msg.Parts); text != "" {
		content = append(content, anthropic.NewTextBlock(text))
	}
	for _, call := range msg.ToolCalls {
		var input any = json.RawMessage(`{}`)
		if len(call.Arguments) > 0 && json.Valid(call.Arguments) {
			input = call.Arguments
		}
		content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
	}
	return content
}

// partsText flattens parts to text; data parts are encoded as JSON.
func partsText(parts []core.Part) string {
	var b strings.Builder
	for _, p := range parts {
		switch part := p.(type) {
		case core.TextPart:
			b.WriteString(part.Text)
		case core.DataPart:
			if raw, err := json.Marshal(part.Data); err == nil {
				b.Write(raw)
			}
		}
	}
	return b.String()
}

// buildTools converts tool definitions to Anthropic tool params.
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, def := range tools {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if props, ok := def.Parameters["properties"]; ok {
			schema.Properties = props
		}
		schema.Required = requiredFields(def.Parameters["required"])

		toolParam := anthropic.ToolParam{
			Name:        def.Name,
			InputSchema: schema,
		}
		if def.Description != "" {
			toolParam.Description = anthropic.String(def.Description)
		}
		out[i] = anthropic.ToolUnionParam{OfTool: &toolParam}
	}
	return out
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
