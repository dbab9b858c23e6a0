package structural

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saketkr/reasoning-engine/internal/events"
	"github.com/saketkr/reasoning-engine/internal/validation"
	"github.com/saketkr/reasoning-engine/internal/workflow"
)

func validWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		Blocks: []workflow.Block{
			{BlockID: "B001", Name: "Start", ActionCode: workflow.StartActionCode},
			{
				BlockID:    "B002",
				Name:       "Do Thing",
				ActionCode: "SomeAction",
				Outputs:    []workflow.Output{{Name: "result", OutputVariableName: "op-B002-result"}},
			},
		},
		Edges: []workflow.Edge{{EdgeID: "E001", From: "B001", To: "B002"}},
	}
}

func TestStage_IsBlocking(t *testing.T) {
	t.Parallel()
	s := New(nil)
	assert.Equal(t, "structural", s.Name())
	assert.True(t, s.IsBlocking())
}

func TestStage_ZeroBlocks_IsAnError(t *testing.T) {
	t.Parallel()

	s := New(nil)
	res, err := s.Validate(context.Background(), &workflow.Workflow{}, validation.Context{})

	require.NoError(t, err)
	require.True(t, res.HasErrors())
	assert.Contains(t, res.Errors, "workflow must contain at least one block")
}

func TestStage_ExactlyOneStartBlock_Passes(t *testing.T) {
	t.Parallel()

	s := New(nil)
	res, err := s.Validate(context.Background(), validWorkflow(), validation.Context{})

	require.NoError(t, err)
	assert.False(t, res.HasErrors())
}

func TestStage_NoStartBlock_IsAnError(t *testing.T) {
	t.Parallel()

	w := validWorkflow()
	w.Blocks[0].ActionCode = "NotStart"

	s := New(nil)
	res, err := s.Validate(context.Background(), w, validation.Context{})

	require.NoError(t, err)
	require.True(t, res.HasErrors())
	assert.Contains(t, res.Errors, "workflow must have exactly one Start block, found 0")
}

func TestStage_MultipleStartBlocks_IsAnError(t *testing.T) {
	t.Parallel()

	w := validWorkflow()
	w.Blocks = append(w.Blocks, workflow.Block{BlockID: "B003", Name: "Second Start", ActionCode: workflow.StartActionCode})

	s := New(nil)
	res, err := s.Validate(context.Background(), w, validation.Context{})

	require.NoError(t, err)
	require.True(t, res.HasErrors())
	assert.Contains(t, res.Errors, "workflow must have exactly one Start block, found 2")
}

func TestStage_StrictMode_PromotesWarningsToErrors(t *testing.T) {
	t.Parallel()

	w := validWorkflow()
	w.Blocks[1].BlockID = "not-a-valid-id" // violates the B\d{3} convention: a warning, not an error
	// keep edges consistent with the renamed block id
	w.Edges[0].To = "not-a-valid-id"

	s := New(nil)
	res, err := s.Validate(context.Background(), w, validation.Context{Strict: true})

	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.True(t, res.HasErrors())
}

func TestStage_EmitsProgressEvents(t *testing.T) {
	t.Parallel()

	sink := &events.RecordingSink{}
	s := New(sink)
	_, err := s.Validate(context.Background(), validWorkflow(), validation.Context{ConversationID: "conv-1"})
	require.NoError(t, err)

	phases := make([]string, 0, len(sink.Events()))
	for _, e := range sink.Events() {
		require.Equal(t, events.KindValidatorProgressUpdate, e.Kind)
		payload, ok := e.Payload.(map[string]any)
		require.True(t, ok)
		phases = append(phases, payload["phase"].(string))
	}
	assert.Contains(t, phases, "structure")
	assert.Contains(t, phases, "complete")
}
