// Package planner implements the bounded tool-calling loop of spec.md §4.4.
// Its exit paths are modeled as an explicit sum type (Outcome) rather than
// an exception, per spec.md §9's rearchitecture note — directly grounded on
// the teacher's planner.PlanResult{ToolCalls, FinalResponse, Await}
// exactly-one-populated convention.
package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/saketkr/reasoning-engine/internal/convo"
	"github.com/saketkr/reasoning-engine/internal/events"
	"github.com/saketkr/reasoning-engine/internal/llm"
	"github.com/saketkr/reasoning-engine/internal/summarizer"
	"github.com/saketkr/reasoning-engine/internal/tools"
	"github.com/saketkr/reasoning-engine/internal/workflow"
)

// OutcomeKind discriminates the Planner's three exit paths.
type OutcomeKind int

const (
	// OutcomeDone means the loop produced final text with no submitted
	// workflow (e.g. iteration cap reached with no submit_workflow call, or
	// the turn ended with only present_answer).
	OutcomeDone OutcomeKind = iota
	// OutcomeWorkflowProduced means a workflow was submitted (explicitly via
	// submit_workflow, or recovered by best-effort text parsing).
	OutcomeWorkflowProduced
	// OutcomeClarificationNeeded means the clarify tool was invoked; the
	// loop aborted immediately without completing the turn.
	OutcomeClarificationNeeded
)

// ClarificationInfo carries the clarification id and questions raised by the
// clarify tool.
type ClarificationInfo struct {
	ID        string
	Questions []string
}

// Outcome is the Planner's result: exactly one of Workflow (when Kind ==
// OutcomeWorkflowProduced) or Clarification (when Kind ==
// OutcomeClarificationNeeded) is populated; Text always carries whatever
// assistant text accumulated.
type Outcome struct {
	Kind          OutcomeKind
	Text          string
	Workflow      *workflow.Workflow
	Clarification *ClarificationInfo
}

// Options configures a Planner run.
type Options struct {
	Gateway         llm.Gateway
	Registry        *tools.Registry
	Summarizer      *summarizer.Summarizer // optional; nil disables summarization
	Sink            events.Sink            // optional; defaults to NoopSink
	MaxIterations   int                    // default 10
	TokenLimit      int                    // default 100000
	Temperature     float64
	ConversationID  string
}

// Planner drives the bounded LLM tool-calling loop.
type Planner struct {
	opts Options
}

// New builds a Planner from opts, applying defaults.
func New(opts Options) *Planner {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	if opts.TokenLimit <= 0 {
		opts.TokenLimit = 100000
	}
	if opts.Sink == nil {
		opts.Sink = events.NoopSink{}
	}
	return &Planner{opts: opts}
}

// Run executes the bounded tool-calling loop over a working message list
// seeded with systemPrompt followed by history, with toolDefs exposed to the
// model on every iteration.
func (p *Planner) Run(ctx context.Context, systemPrompt string, history []llm.Message, toolDefs []llm.ToolDefinition) (Outcome, error) {
	working := make([]llm.Message, 0, len(history)+1)
	working = append(working, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	working = append(working, history...)

	var accumulatedText string
	var pendingWorkflow *workflow.Workflow

	for iter := 0; iter < p.opts.MaxIterations; iter++ {
		if p.opts.Summarizer != nil && summarizer.EstimateTokens(working) > p.opts.TokenLimit {
			working = p.summarizeWorking(ctx, working)
		}

		chunks, err := p.opts.Gateway.GenerateStream(ctx, llm.Request{
			Messages:    working,
			Tools:       toolDefs,
			Temperature: p.opts.Temperature,
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("planner: generate stream: %w", err)
		}

		turnText, toolCalls, err := p.drainTurn(ctx, chunks)
		if err != nil {
			return Outcome{}, err
		}
		accumulatedText += turnText

		if len(toolCalls) == 0 {
			if w, ok := workflow.ParseFromText(accumulatedText); ok {
				pendingWorkflow = w
			}
			return Outcome{Kind: outcomeKindFor(pendingWorkflow), Text: accumulatedText, Workflow: pendingWorkflow}, nil
		}

		working = append(working, llm.Message{Role: llm.RoleAssistant, Content: turnText, ToolCalls: toolCalls})

		for _, call := range toolCalls {
			switch call.Name {
			case tools.ThinkApproach:
				p.emit(ctx, events.KindThinkApproach, map[string]any{"reasoning": call.Arguments["reasoning"]})
				working = append(working, toolResultMessage(call, map[string]any{"acknowledged": true}))

			case tools.PresentAnswer:
				p.emit(ctx, events.KindFinalAnswer, map[string]any{"content": call.Arguments["content"]})
				working = append(working, toolResultMessage(call, map[string]any{"delivered": true}))

			case tools.SubmitWorkflow:
				raw, _ := json.Marshal(call.Arguments)
				w, err := workflow.ParseSubmission(raw)
				if err != nil {
					working = append(working, toolResultMessage(call, map[string]any{
						"status": "needs_revision",
						"errors": []string{err.Error()},
					}))
					continue
				}
				if vErr := workflow.CheckStructuralInvariants(w); vErr != nil {
					working = append(working, toolResultMessage(call, map[string]any{
						"status": "needs_revision",
						"errors": []string{vErr.Error()},
					}))
					continue
				}
				pendingWorkflow = w
				working = append(working, toolResultMessage(call, map[string]any{"status": "accepted"}))

			case tools.Clarify:
				result, err := p.opts.Registry.Dispatch(ctx, tools.Clarify, call.Arguments)
				if err != nil {
					working = append(working, toolResultMessage(call, map[string]any{"error": err.Error()}))
					continue
				}
				info := &ClarificationInfo{ID: fmt.Sprint(result["id"]), Questions: toStringSlice(result["questions"])}
				return Outcome{Kind: OutcomeClarificationNeeded, Text: accumulatedText, Clarification: info}, nil

			default:
				startKind, resultKind := toolEventKinds(call.Name)
				p.emit(ctx, startKind, map[string]any{"tool": call.Name})
				result, err := p.opts.Registry.Dispatch(ctx, call.Name, call.Arguments)
				if err != nil {
					p.emit(ctx, resultKind, map[string]any{"tool": call.Name, "error": err.Error()})
					working = append(working, toolResultMessage(call, map[string]any{"error": err.Error()}))
					continue
				}
				p.emit(ctx, resultKind, map[string]any{"tool": call.Name})
				working = append(working, toolResultMessage(call, result))
			}
		}
	}

	return Outcome{Kind: outcomeKindFor(pendingWorkflow), Text: accumulatedText, Workflow: pendingWorkflow}, nil
}

// toolEventKinds maps a registry-dispatched tool name to its started/results
// event kinds (spec.md §4.9). Unrecognized tools default to the web-search
// kinds, matching the generic "external tool" framing of spec.md §4.3.
func toolEventKinds(name string) (events.Kind, events.Kind) {
	if name == tools.TaskBlockSearch {
		return events.KindTaskBlockSearchStarted, events.KindTaskBlockSearchResults
	}
	return events.KindWebSearchStarted, events.KindWebSearchResults
}

func outcomeKindFor(w *workflow.Workflow) OutcomeKind {
	if w != nil {
		return OutcomeWorkflowProduced
	}
	return OutcomeDone
}

// drainTurn streams chunks, forwarding content deltas as stream-chunk events
// in receipt order, and returns the accumulated text plus any tool calls
// from the terminal chunk.
func (p *Planner) drainTurn(ctx context.Context, chunks <-chan llm.Chunk) (string, []llm.ToolCall, error) {
	var text string
	var calls []llm.ToolCall
	for chunk := range chunks {
		if chunk.ContentDelta != "" {
			text += chunk.ContentDelta
			p.emit(ctx, events.KindStreamResponse, map[string]any{"delta": chunk.ContentDelta})
		}
		if chunk.Done {
			calls = chunk.ToolCalls
		}
	}
	return text, calls, nil
}

func (p *Planner) summarizeWorking(ctx context.Context, working []llm.Message) []llm.Message {
	return p.opts.Summarizer.Summarize(ctx, working)
}

func (p *Planner) emit(ctx context.Context, kind events.Kind, payload map[string]any) {
	_ = p.opts.Sink.Emit(ctx, events.Event{Kind: kind, ConversationID: p.opts.ConversationID, Payload: payload})
}

func toolResultMessage(call llm.ToolCall, result map[string]any) llm.Message {
	content, _ := json.Marshal(result)
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    string(content),
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}

func toStringSlice(v any) []string {
	items, ok := v.([]string)
	if ok {
		return items
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		out = append(out, fmt.Sprint(item))
	}
	return out
}

// ToLLMMessages converts stored conversation messages into the Gateway's
// wire shape.
func ToLLMMessages(msgs []convo.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		lm := llm.Message{
			Role:       llm.Role(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			ToolName:   m.ToolName,
		}
		for _, tc := range m.ToolCalls {
			lm.ToolCalls = append(lm.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		out = append(out, lm)
	}
	return out
}
