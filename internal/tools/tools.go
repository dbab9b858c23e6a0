// Package tools implements the Tool Registry of spec.md §4.3: a process-
// wide, read-mostly name->executor map populated once at startup, grounded
// on the teacher's runtime/toolregistry convention.
package tools

import (
	"context"
	"sync"

	"github.com/saketkr/reasoning-engine/internal/llm"
	"github.com/saketkr/reasoning-engine/internal/toolerrors"
)

// Executor is one registered tool. Concrete executors live in
// internal/tools/executors.
type Executor interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	OutputSchema() map[string]any
	// RequiresUserResponse is true only for the clarify executor — it is
	// the trigger for the Planner's clarification suspension.
	RequiresUserResponse() bool
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// Registry is a process-wide, read-mostly map from tool name to Executor.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry returns an empty Registry. Callers populate it once at startup
// via Register, then treat it as read-only.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds or replaces an executor by name.
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Name()] = e
}

// Get returns the named executor, or false if unregistered.
func (r *Registry) Get(name string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[name]
	return e, ok
}

// All returns every registered executor, in no particular order.
func (r *Registry) All() []Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Executor, 0, len(r.executors))
	for _, e := range r.executors {
		out = append(out, e)
	}
	return out
}

// Dispatch executes the named tool, wrapping lookup failure in a ToolError
// identical in shape to an execution failure — both are caught by the
// Planner and handed back to the LLM rather than propagated (spec.md §7).
func (r *Registry) Dispatch(ctx context.Context, name string, input map[string]any) (map[string]any, error) {
	e, ok := r.Get(name)
	if !ok {
		return nil, toolerrors.Errorf("tools: unknown tool %q", name)
	}
	out, err := e.Execute(ctx, input)
	if err != nil {
		return nil, toolerrors.NewWithCause("tools: "+name+" failed", err)
	}
	return out, nil
}

// Output-signalling tool names, recognized directly by the Planner before
// registry dispatch (spec.md §4.3); they never reach Dispatch in
// well-behaved implementations.
const (
	ThinkApproach  = "think_approach"
	PresentAnswer  = "present_answer"
	SubmitWorkflow = "submit_workflow"
)

// Real, registry-dispatched tool names.
const (
	WebSearch       = "web_search"
	TaskBlockSearch = "task_block_search"
	Clarify         = "clarify"
)

// outputSignallingDefs are exposed to the model alongside whatever the
// Registry holds; the Planner intercepts calls to these three before they
// ever reach Dispatch (spec.md §4.3).
func outputSignallingDefs() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        ThinkApproach,
			Description: "Record your reasoning about the approach before acting.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"reasoning": map[string]any{"type": "string"}},
				"required":   []string{"reasoning"},
			},
		},
		{
			Name:        PresentAnswer,
			Description: "Deliver a final natural-language answer with no workflow attached.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"content": map[string]any{"type": "string"}},
				"required":   []string{"content"},
			},
		},
		{
			Name:        SubmitWorkflow,
			Description: "Submit the completed workflow for validation.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"workflow_json": map[string]any{"type": "object"}},
				"required":   []string{"workflow_json"},
			},
		},
	}
}

// Definitions returns the full tool surface exposed to the Planner: the
// three output-signalling tools plus every executor registered in r.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := outputSignallingDefs()
	for _, e := range r.All() {
		defs = append(defs, llm.ToolDefinition{
			Name:        e.Name(),
			Description: e.Description(),
			InputSchema: e.InputSchema(),
		})
	}
	return defs
}
