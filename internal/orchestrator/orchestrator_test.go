package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saketkr/reasoning-engine/internal/convo"
	"github.com/saketkr/reasoning-engine/internal/events"
	"github.com/saketkr/reasoning-engine/internal/llm"
	"github.com/saketkr/reasoning-engine/internal/prompts"
	"github.com/saketkr/reasoning-engine/internal/store"
	"github.com/saketkr/reasoning-engine/internal/store/memstore"
	"github.com/saketkr/reasoning-engine/internal/tools"
	"github.com/saketkr/reasoning-engine/internal/tools/executors"
	"github.com/saketkr/reasoning-engine/internal/validation"
	"github.com/saketkr/reasoning-engine/internal/workflow"
)

// fakeGateway replays one canned turn per call to GenerateStream, in order.
// Generate is never exercised by the orchestrator/planner path under test.
type fakeGateway struct {
	turns [][]llm.Chunk
	calls int
}

func (g *fakeGateway) GenerateStream(_ context.Context, _ llm.Request) (<-chan llm.Chunk, error) {
	turn := g.turns[g.calls]
	g.calls++
	ch := make(chan llm.Chunk, len(turn))
	for _, c := range turn {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (g *fakeGateway) Generate(_ context.Context, _ llm.Request) (llm.Message, error) {
	return llm.Message{}, nil
}

func newTestPrompts(t *testing.T) *prompts.Store {
	t.Helper()
	s, err := prompts.NewStore(prompts.DefaultTemplates())
	require.NoError(t, err)
	return s
}

// validWorkflowArgs builds the submit_workflow tool-call argument shape for
// a minimal two-block workflow satisfying invariants I1-I4.
func validWorkflowArgs() map[string]any {
	return map[string]any{
		"workflow_json": map[string]any{
			"blocks": []any{
				map[string]any{"block_id": "B001", "name": "Start", "action_code": workflow.StartActionCode},
				map[string]any{
					"block_id":    "B002",
					"name":        "Do Thing",
					"action_code": "SomeAction",
					"outputs": []any{
						map[string]any{"name": "result", "output_variable_name": "op-B002-result"},
					},
				},
			},
			"edges": []any{
				map[string]any{"edge_id": "E001", "from": "B001", "to": "B002"},
			},
		},
	}
}

func newOptions(t *testing.T, gw llm.Gateway, st store.Store, sink *events.RecordingSink) Options {
	t.Helper()
	registry := tools.NewRegistry()
	registry.Register(&executors.ClarifyExecutor{})
	return Options{
		Store:         st,
		Gateway:       gw,
		Registry:      registry,
		ToolDefs:      registry.Definitions(),
		Pipeline:      validation.NewPipeline(),
		Prompts:       newTestPrompts(t),
		Sink:          sink,
		MaxIterations: 5,
	}
}

func eventKinds(evs []events.Event) []events.Kind {
	out := make([]events.Kind, len(evs))
	for i, e := range evs {
		out[i] = e.Kind
	}
	return out
}

func TestOrchestrator_SubmitWorkflow_Completes(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{turns: [][]llm.Chunk{
		{{Done: true, ToolCalls: []llm.ToolCall{{ID: "call1", Name: tools.SubmitWorkflow, Arguments: validWorkflowArgs()}}}},
		{{ContentDelta: "workflow ready", Done: true}},
	}}
	st := memstore.New(time.Hour)
	sink := &events.RecordingSink{}

	orch := New(newOptions(t, gw, st, sink))

	err := orch.StartConversation(context.Background(), "conv-1", "plan me a deploy", nil, nil)
	require.NoError(t, err)

	state, err := st.GetState(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, convo.StatusCompleted, state.Status)

	kinds := eventKinds(sink.Events())
	assert.Contains(t, kinds, events.KindProcessingStarted)
	assert.Contains(t, kinds, events.KindWorkflowJSON)
}

func TestOrchestrator_TextOnlyAnswer_Completes(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{turns: [][]llm.Chunk{
		{{ContentDelta: "here is your answer", Done: true}},
	}}
	st := memstore.New(time.Hour)
	sink := &events.RecordingSink{}

	orch := New(newOptions(t, gw, st, sink))

	err := orch.StartConversation(context.Background(), "conv-2", "what time is it", nil, nil)
	require.NoError(t, err)

	state, err := st.GetState(context.Background(), "conv-2")
	require.NoError(t, err)
	assert.Equal(t, convo.StatusCompleted, state.Status)

	kinds := eventKinds(sink.Events())
	assert.NotContains(t, kinds, events.KindWorkflowJSON)

	history, err := st.GetHistory(context.Background(), "conv-2", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, convo.RoleAssistant, history[1].Role)
	assert.Equal(t, "here is your answer", history[1].Content)
}

func TestOrchestrator_Clarify_AwaitsThenResumes(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{turns: [][]llm.Chunk{
		{{Done: true, ToolCalls: []llm.ToolCall{
			{ID: "call1", Name: tools.Clarify, Arguments: map[string]any{"questions": []string{"Which environment?"}}},
		}}},
		{{ContentDelta: "thanks, proceeding", Done: true}},
	}}
	st := memstore.New(time.Hour)
	sink := &events.RecordingSink{}

	orch := New(newOptions(t, gw, st, sink))

	err := orch.StartConversation(context.Background(), "conv-3", "deploy it", nil, nil)
	require.NoError(t, err)

	state, err := st.GetState(context.Background(), "conv-3")
	require.NoError(t, err)
	require.Equal(t, convo.StatusAwaitingClarification, state.Status)
	require.NotNil(t, state.PendingClarification)
	assert.Equal(t, []string{"Which environment?"}, state.PendingClarification.Questions)

	kinds := eventKinds(sink.Events())
	assert.Contains(t, kinds, events.KindClarificationRequested)

	clarificationID := state.PendingClarification.ID
	err = orch.HandleClarificationResponse(context.Background(), "conv-3", clarificationID, "staging")
	require.NoError(t, err)

	state, err = st.GetState(context.Background(), "conv-3")
	require.NoError(t, err)
	assert.Equal(t, convo.StatusCompleted, state.Status)
	assert.NotNil(t, state.PendingClarification.ResponseText)
	assert.Equal(t, "staging", *state.PendingClarification.ResponseText)
}

// erroringStore wraps memstore but fails GetHistory, exercising the
// Orchestrator's error-trapping path (spec.md §7).
type erroringStore struct {
	store.Store
}

func (e *erroringStore) GetHistory(context.Context, string, int) ([]convo.Message, error) {
	return nil, assert.AnError
}

func TestOrchestrator_StorageFailure_SetsErrorState(t *testing.T) {
	t.Parallel()

	st := &erroringStore{Store: memstore.New(time.Hour)}
	sink := &events.RecordingSink{}
	gw := &fakeGateway{turns: [][]llm.Chunk{}}

	orch := New(newOptions(t, gw, st, sink))

	err := orch.StartConversation(context.Background(), "conv-4", "hello", nil, nil)
	require.NoError(t, err) // errors are trapped into state, not returned

	state, err := st.GetState(context.Background(), "conv-4")
	require.NoError(t, err)
	assert.Equal(t, convo.StatusError, state.Status)

	kinds := eventKinds(sink.Events())
	assert.Contains(t, kinds, events.KindError)
	assert.Equal(t, 0, gw.calls) // never reached the planner
}
