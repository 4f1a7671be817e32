// Package openai provides a model.Model backed by the OpenAI Chat Completions
// API with function calling.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Options configure the OpenAI model adapter.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
	BaseURL             string
}

// Model wraps the OpenAI Chat Completions API behind the model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

var _ model.Model = (*Model)(nil)

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
}

// NewModel creates a new OpenAI model with its own client. The SDK's built-in
// retries are disabled so model.Invoker owns the retry policy.
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

	client := openai.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements model.Model.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	params := m.buildParams(req)
	if req.Stream() {
		return m.generateStream(ctx, params, req.OnDelta)
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai api error: no choices returned")
	}

	choice := resp.Choices[0]
	msg := core.NewTextMessage(core.RoleAssistant, choice.Message.Content)
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, toolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}

	return &model.Response{
		Message: msg,
		Usage: &core.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
		StopReason: choice.FinishReason,
	}, nil
}

// aggCall collects the fragments of one streamed tool call.
type aggCall struct {
	id   string
	name string
	args strings.Builder
}

// generateStream consumes a streamed completion, forwarding text deltas and
// aggregating tool call fragments by index.
func (m *Model) generateStream(ctx context.Context, params openai.ChatCompletionNewParams, onDelta model.DeltaFunc) (*model.Response, error) {
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		text   strings.Builder
		calls  = map[int64]*aggCall{}
		order  []int64
		usage  core.Usage
		finish string
	)
	for stream.Next() {
		ck := stream.Current()
		if ck.Usage.PromptTokens > 0 || ck.Usage.CompletionTokens > 0 {
			usage = core.Usage{
				InputTokens:  int(ck.Usage.PromptTokens),
				OutputTokens: int(ck.Usage.CompletionTokens),
			}
		}
		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				text.WriteString(ch.Delta.Content)
				if err := onDelta(ch.Delta.Content); err != nil {
					return nil, err
				}
			}
			for _, tc := range ch.Delta.ToolCalls {
				ac, ok := calls[tc.Index]
				if !ok {
					ac = &aggCall{}
					calls[tc.Index] = ac
					order = append(order, tc.Index)
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				ac.args.WriteString(tc.Function.Arguments)
			}
			if ch.FinishReason != "" {
				finish = ch.FinishReason
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classify(err)
	}

	msg := core.NewTextMessage(core.RoleAssistant, text.String())
	for _, idx := range order {
		ac := calls[idx]
		msg.ToolCalls = append(msg.ToolCalls, toolCall(ac.id, ac.name, ac.args.String()))
	}
	return &model.Response{Message: msg, Usage: &usage, StopReason: finish}, nil
}

func toolCall(id, name, args string) core.ToolCall {
	raw := json.RawMessage(args)
	if len(raw) == 0 || !json.Valid(raw) {
		raw = json.RawMessage(`{}`)
	}
	return core.ToolCall{ID: id, Name: name, Arguments: raw}
}

// classify marks overload responses as transient.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusServiceUnavailable ||
			strings.Contains(strings.ToLower(apiErr.Message), "overloaded") {
			return model.Overloaded(err)
		}
	}
	return fmt.Errorf("openai api error: %w", err)
}

// buildParams assembles the request parameters including tool definitions.
func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req),
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, def := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  def.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// buildMessages converts the transcript into chat messages. Tool results map
// one-to-one onto tool messages, which already follow their assistant turn.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		text := partsText(msg.Parts)
		switch msg.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(text))
		case core.RoleTool:
			messages = append(messages, openai.ToolMessage(text, msg.ToolCallID))
		case core.RoleAssistant:
			if !msg.HasToolCalls() {
				messages = append(messages, openai.AssistantMessage(text))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCallParams(msg.ToolCalls)}
			if text != "" {
				assistant.Content.OfString = openai.String(text)
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			messages = append(messages, openai.UserMessage(text))
		}
	}
	return messages
}

func toolCallParams(calls []core.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	out := make([]openai.ChatCompletionMessageToolCallParam, len(calls))
	for i, call := range calls {
		args := string(call.Arguments)
		if args == "" {
			args = "{}"
		}
		out[i] = openai.ChatCompletionMessageToolCallParam{
			ID: call.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Name,
				Arguments: args,
			},
		}
	}
	return out
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

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
