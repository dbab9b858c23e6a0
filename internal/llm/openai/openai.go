// Package openai adapts internal/llm.Gateway onto OpenAI-compatible chat
// completions APIs via github.com/openai/openai-go, grounded on the
// teacher's go.mod dependency on the same SDK. This adapter also serves
// provider-kind "vllm" (spec.md §6): vLLM's OpenAI-compatible server is
// reached by pointing the SDK client's base URL at the vLLM deployment.
package openai

import (
	"context"
	"encoding/json"
	"errors"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/saketkr/reasoning-engine/internal/errs"
	"github.com/saketkr/reasoning-engine/internal/llm"
	"github.com/saketkr/reasoning-engine/internal/llm/reassemble"
)

// ChatClient captures the subset of the OpenAI SDK used by the adapter.
type ChatClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Client implements llm.Gateway via an OpenAI-compatible chat completions API.
type Client struct {
	chat  ChatClient
	model string
}

// New builds an OpenAI-compatible gateway. model is the model identifier
// sent with every request (llm.Request carries no model of its own), so it
// is required.
func New(chat ChatClient, model string) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if model == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, model: model}, nil
}

// NewFromConfig constructs a client against baseURL (empty for the default
// OpenAI endpoint, or a vLLM server's OpenAI-compatible base URL).
func NewFromConfig(apiKey, baseURL, model string) (*Client, error) {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	c := openai.NewClient(opts...)
	return New(&c.Chat.Completions, model)
}

func (c *Client) prepareParams(req llm.Request) (openai.ChatCompletionNewParams, error) {
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: msgs,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	if req.StructuredOutputHint {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}
	return params, nil
}

// Generate implements llm.Gateway.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Message, error) {
	params, err := c.prepareParams(req)
	if err != nil {
		return llm.Message{}, &errs.LLMProviderFailure{Provider: "openai", Cause: err}
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return llm.Message{}, &errs.LLMProviderFailure{Provider: "openai", Cause: err}
	}
	if len(resp.Choices) == 0 {
		return llm.Message{}, &errs.LLMProviderFailure{Provider: "openai", Cause: errors.New("empty choices")}
	}
	return translateMessage(resp.Choices[0].Message), nil
}

// GenerateStream implements llm.Gateway.
func (c *Client) GenerateStream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	params, err := c.prepareParams(req)
	if err != nil {
		return nil, &errs.LLMProviderFailure{Provider: "openai", Cause: err}
	}
	stream := c.chat.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, &errs.LLMProviderFailure{Provider: "openai", Cause: err}
	}
	out := make(chan llm.Chunk, 32)
	go runStream(ctx, stream, out)
	return out, nil
}

func runStream(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk], out chan<- llm.Chunk) {
	defer close(out)
	defer stream.Close()

	acc := reassemble.NewAccumulator()

	emit := func(c llm.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			if !emit(llm.Chunk{ContentDelta: choice.Delta.Content}) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			acc.Add(int(tc.Index), tc.ID, tc.Function.Name, tc.Function.Arguments)
		}
		if choice.FinishReason != "" {
			finish := llm.FinishReasonStop
			var calls []llm.ToolCall
			if !acc.Empty() {
				finish = llm.FinishReasonToolCalls
				for _, tc := range acc.Finish() {
					calls = append(calls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
				}
			} else if string(choice.FinishReason) == "length" {
				finish = llm.FinishReasonLength
			}
			emit(llm.Chunk{ToolCalls: calls, FinishReason: finish, Done: true})
			return
		}
	}
}

func encodeMessages(msgs []llm.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case llm.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case llm.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			msg := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if m.Content != "" {
				msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(m.Content),
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &msg})
		case llm.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			return nil, errors.New("openai: unsupported role " + string(m.Role))
		}
	}
	return out, nil
}

func encodeTools(defs []llm.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  def.InputSchema,
			},
		})
	}
	return out
}

func translateMessage(m openai.ChatCompletionMessage) llm.Message {
	out := llm.Message{Role: llm.RoleAssistant, Content: m.Content}
	for _, tc := range m.ToolCalls {
		args := map[string]any{}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out
}
