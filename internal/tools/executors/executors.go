// Package executors implements the three "real" tool executors of spec.md
// §4.3: web_search, task_block_search, and clarify. The three
// output-signalling tools (think_approach, present_answer, submit_workflow)
// are intercepted by the Planner before registry dispatch and have no
// executor implementation here.
package executors

import (
	"context"

	"github.com/google/uuid"

	"github.com/saketkr/reasoning-engine/internal/search"
	"github.com/saketkr/reasoning-engine/internal/toolerrors"
	"github.com/saketkr/reasoning-engine/internal/tools"
)

// WebSearchExecutor fans out 1-10 queries to a configured web search client.
type WebSearchExecutor struct {
	Client     search.WebSearchClient
	MaxResults int
}

func (e *WebSearchExecutor) Name() string        { return tools.WebSearch }
func (e *WebSearchExecutor) Description() string  { return "Search the web for relevant information." }
func (e *WebSearchExecutor) RequiresUserResponse() bool { return false }

func (e *WebSearchExecutor) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"queries": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 1,
				"maxItems": 10,
			},
		},
		"required": []string{"queries"},
	}
}

func (e *WebSearchExecutor) OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"results":     map[string]any{"type": "array"},
			"query_count": map[string]any{"type": "integer"},
		},
	}
}

func (e *WebSearchExecutor) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	queries, err := stringSlice(input, "queries", 1, 10)
	if err != nil {
		return nil, err
	}
	maxResults := e.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	results, queryCount, err := e.Client.Search(ctx, queries, maxResults)
	if err != nil {
		return nil, toolerrors.NewWithCause("executors: web search failed", err)
	}
	return map[string]any{"results": results, "query_count": queryCount}, nil
}

// TaskBlockSearchExecutor fans out 1-10 queries to the configured task-block
// catalog, deduplicating results by block id.
type TaskBlockSearchExecutor struct {
	Client           search.TaskBlockClient
	IsReasonRequired bool
}

func (e *TaskBlockSearchExecutor) Name() string { return tools.TaskBlockSearch }
func (e *TaskBlockSearchExecutor) Description() string {
	return "Search the task-block catalog for candidate automation blocks."
}
func (e *TaskBlockSearchExecutor) RequiresUserResponse() bool { return false }

func (e *TaskBlockSearchExecutor) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"queries": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 1,
				"maxItems": 10,
			},
		},
		"required": []string{"queries"},
	}
}

func (e *TaskBlockSearchExecutor) OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"candidates": map[string]any{"type": "array"},
		},
	}
}

func (e *TaskBlockSearchExecutor) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	queries, err := stringSlice(input, "queries", 1, 10)
	if err != nil {
		return nil, err
	}
	candidates, err := e.Client.Search(ctx, queries, e.IsReasonRequired)
	if err != nil {
		return nil, toolerrors.NewWithCause("executors: task-block search failed", err)
	}
	return map[string]any{"candidates": search.DedupeByBlockID(candidates)}, nil
}

// ClarifyExecutor generates a fresh clarification id and reports awaiting
// status. It is the sole trigger for the Planner's clarification suspension
// (spec.md §4.3) — the Planner treats a non-error result from this executor
// as a signal to raise its ClarificationNeeded outcome, not to continue the
// loop.
type ClarifyExecutor struct{}

func (e *ClarifyExecutor) Name() string              { return tools.Clarify }
func (e *ClarifyExecutor) Description() string        { return "Ask the user one to five clarifying questions." }
func (e *ClarifyExecutor) RequiresUserResponse() bool { return true }

func (e *ClarifyExecutor) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 1,
				"maxItems": 5,
			},
		},
		"required": []string{"questions"},
	}
}

func (e *ClarifyExecutor) OutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":        map[string]any{"type": "string"},
			"questions": map[string]any{"type": "array"},
			"status":    map[string]any{"type": "string"},
		},
	}
}

func (e *ClarifyExecutor) Execute(_ context.Context, input map[string]any) (map[string]any, error) {
	questions, err := stringSlice(input, "questions", 1, 5)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":        uuid.NewString(),
		"questions": questions,
		"status":    "awaiting_response",
	}, nil
}

func stringSlice(input map[string]any, key string, min, max int) ([]string, error) {
	raw, ok := input[key]
	if !ok {
		return nil, toolerrors.Errorf("executors: missing %q", key)
	}
	// Production tool-call arguments arrive as decoded JSON ([]any); in-process
	// callers (tests, direct executor use) may pass a []string directly.
	if strs, ok := raw.([]string); ok {
		if len(strs) < min || len(strs) > max {
			return nil, toolerrors.Errorf("executors: %q must have between %d and %d entries", key, min, max)
		}
		return strs, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, toolerrors.Errorf("executors: %q must be an array", key)
	}
	if len(items) < min || len(items) > max {
		return nil, toolerrors.Errorf("executors: %q must have between %d and %d entries", key, min, max)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, toolerrors.Errorf("executors: %q entries must be strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}
