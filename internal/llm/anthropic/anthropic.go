// Package anthropic adapts internal/llm.Gateway onto the Anthropic Claude
// Messages API via github.com/anthropics/anthropic-sdk-go, grounded on the
// teacher's features/model/anthropic adapter (same narrowed MessagesClient
// interface, same streaming-event-union dispatch).
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/saketkr/reasoning-engine/internal/errs"
	"github.com/saketkr/reasoning-engine/internal/llm"
	"github.com/saketkr/reasoning-engine/internal/llm/reassemble"
)

// MessagesClient captures the subset of the Anthropic SDK client the adapter
// depends on, so tests can substitute a fake in place of *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client implements llm.Gateway on top of Anthropic Claude Messages.
type Client struct {
	msg         MessagesClient
	model       string
	maxTokens   int
	temperature float64
}

// New builds an Anthropic-backed gateway. model is the default model
// identifier and maxTokens the default completion cap used when a request
// doesn't specify one.
func New(msg MessagesClient, model string, maxTokens int) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if model == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Client{msg: msg, model: model, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP client.
func NewFromAPIKey(apiKey, model string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, model, maxTokens)
}

func (c *Client) prepareParams(req llm.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(c.model),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	return &params, nil
}

// Generate implements llm.Gateway.
func (c *Client) Generate(ctx context.Context, req llm.Request) (llm.Message, error) {
	params, err := c.prepareParams(req)
	if err != nil {
		return llm.Message{}, &errs.LLMProviderFailure{Provider: "anthropic", Cause: err}
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return llm.Message{}, &errs.LLMProviderFailure{Provider: "anthropic", Cause: err}
	}
	return translateMessage(msg), nil
}

// GenerateStream implements llm.Gateway.
func (c *Client) GenerateStream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	params, err := c.prepareParams(req)
	if err != nil {
		return nil, &errs.LLMProviderFailure{Provider: "anthropic", Cause: err}
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, &errs.LLMProviderFailure{Provider: "anthropic", Cause: err}
	}
	out := make(chan llm.Chunk, 32)
	go runStream(ctx, stream, out)
	return out, nil
}

func runStream(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], out chan<- llm.Chunk) {
	defer close(out)
	defer stream.Close()

	acc := reassemble.NewAccumulator()
	var activeToolIndex = -1
	var stopReason string

	emit := func(c llm.Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				activeToolIndex = int(ev.Index)
				acc.Add(activeToolIndex, toolUse.ID, toolUse.Name, "")
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if !emit(llm.Chunk{ContentDelta: delta.Text}) {
					return
				}
			case sdk.InputJSONDelta:
				acc.Add(int(ev.Index), "", "", delta.PartialJSON)
			}
		case sdk.ContentBlockStopEvent:
			activeToolIndex = -1
		case sdk.MessageDeltaEvent:
			if string(ev.Delta.StopReason) != "" {
				stopReason = string(ev.Delta.StopReason)
			}
		case sdk.MessageStopEvent:
			finish := llm.FinishReasonStop
			var calls []llm.ToolCall
			if !acc.Empty() {
				finish = llm.FinishReasonToolCalls
				for _, tc := range acc.Finish() {
					calls = append(calls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
				}
			} else if stopReason == "max_tokens" {
				finish = llm.FinishReasonLength
			}
			emit(llm.Chunk{ToolCalls: calls, FinishReason: finish, Done: true})
			return
		}
	}
	if err := stream.Err(); err != nil {
		return
	}
}

func encodeMessages(msgs []llm.Message) (conversation []sdk.MessageParam, system string, err error) {
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			if m.Content != "" {
				if system != "" {
					system += "\n\n"
				}
				system += m.Content
			}
		case llm.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case llm.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
			}
		case llm.RoleTool:
			content, _ := json.Marshal(m.Content)
			conversation = append(conversation, sdk.NewUserMessage(
				sdk.NewToolResultBlock(m.ToolCallID, string(content), false),
			))
		default:
			return nil, "", fmt.Errorf("anthropic: unsupported role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, "", errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []llm.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := sdk.ToolInputSchemaParam{ExtraFields: def.InputSchema}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func translateMessage(msg *sdk.Message) llm.Message {
	out := llm.Message{Role: llm.RoleAssistant}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case sdk.TextBlock:
			out.Content += b.Text
		case sdk.ToolUseBlock:
			args := map[string]any{}
			if raw, err := json.Marshal(b.Input); err == nil {
				_ = json.Unmarshal(raw, &args)
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	return out
}
