// Package referencing implements the Referencing Agent of spec.md §4.8: a
// single LLM call, run after validation succeeds, that fills empty
// mandatory block inputs from conversation context.
package referencing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/saketkr/reasoning-engine/internal/convo"
	"github.com/saketkr/reasoning-engine/internal/events"
	"github.com/saketkr/reasoning-engine/internal/llm"
	"github.com/saketkr/reasoning-engine/internal/prompts"
	"github.com/saketkr/reasoning-engine/internal/workflow"
)

// Agent runs the referencing LLM call.
type Agent struct {
	Gateway llm.Gateway
	Prompts *prompts.Store
	Sink    events.Sink
}

// New builds a referencing Agent. sink may be nil.
func New(gateway llm.Gateway, store *prompts.Store, sink events.Sink) *Agent {
	if sink == nil {
		sink = events.NoopSink{}
	}
	return &Agent{Gateway: gateway, Prompts: store, Sink: sink}
}

// Fill returns a workflow with empty mandatory inputs filled from
// conversation context where the model can confidently infer them. On any
// LLM or parse failure, it returns w unchanged — the referencing pass is
// strictly best-effort and must never fail a turn.
func (a *Agent) Fill(ctx context.Context, conversationID string, history []convo.Message, w *workflow.Workflow) *workflow.Workflow {
	_ = a.Sink.Emit(ctx, events.Event{
		Kind:           events.KindReferencingStarted,
		ConversationID: conversationID,
	})

	flattened := flattenHistory(history)
	workflowJSON, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return w
	}

	prompt, err := a.Prompts.Render(prompts.Referencing, map[string]any{
		"History":  flattened,
		"Workflow": string(workflowJSON),
	})
	if err != nil {
		return w
	}

	resp, err := a.Gateway.Generate(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: 0.2,
	})
	if err != nil {
		return w
	}

	filled, ok := workflow.ParseWorkflowJSON(resp.Content)
	if !ok {
		return w
	}
	return filled
}

func flattenHistory(history []convo.Message) string {
	var b strings.Builder
	for _, m := range history {
		switch m.Role {
		case convo.RoleUser:
			fmt.Fprintf(&b, "User: %s\n", m.Content)
		case convo.RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n", m.Content)
		}
	}
	return b.String()
}
