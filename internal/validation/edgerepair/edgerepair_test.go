package edgerepair

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saketkr/reasoning-engine/internal/validation"
	"github.com/saketkr/reasoning-engine/internal/workflow"
)

func TestEdgeRepair_IsNonBlocking(t *testing.T) {
	t.Parallel()
	s := New()
	assert.Equal(t, "edge_connection", s.Name())
	assert.False(t, s.IsBlocking())
}

// S4: a duplicate edge between the same two blocks is deduplicated, with a
// warning recorded, and a self-loop is dropped outright.
func TestEdgeRepair_DeduplicatesEdgesAndDropsSelfLoops(t *testing.T) {
	t.Parallel()

	w := &workflow.Workflow{
		Blocks: []workflow.Block{
			{BlockID: "B000", Name: "Start", ActionCode: workflow.StartActionCode},
			{BlockID: "B001", Name: "Do Thing", ActionCode: "SomeAction"},
		},
		Edges: []workflow.Edge{
			{EdgeID: "E001", From: "B000", To: "B001"},
			{EdgeID: "E002", From: "B000", To: "B001"}, // duplicate pair
			{EdgeID: "E003", From: "B001", To: "B001"}, // self-loop
		},
	}

	s := New()
	res, err := s.Validate(context.Background(), w, validation.Context{})
	require.NoError(t, err)
	require.NotNil(t, res.CorrectedWorkflow)

	assert.Len(t, res.CorrectedWorkflow.Edges, 1)
	assert.Equal(t, "B000", res.CorrectedWorkflow.Edges[0].From)
	assert.Equal(t, "B001", res.CorrectedWorkflow.Edges[0].To)

	assert.Contains(t, res.Warnings, "Duplicate edge removed: B000 -> B001")
	assert.Contains(t, res.Warnings, "Self-loop removed: E003")
	assert.False(t, res.HasErrors())
}

// S5: a workflow with no Start block gets one auto-inserted and wired to
// every block with no incoming edge.
func TestEdgeRepair_InsertsMissingStartBlock(t *testing.T) {
	t.Parallel()

	w := &workflow.Workflow{
		Blocks: []workflow.Block{
			{BlockID: "B001", Name: "Do Thing", ActionCode: "SomeAction"},
		},
	}

	s := New()
	res, err := s.Validate(context.Background(), w, validation.Context{})
	require.NoError(t, err)
	require.NotNil(t, res.CorrectedWorkflow)

	start, ok := res.CorrectedWorkflow.StartBlock()
	require.True(t, ok)
	assert.Equal(t, workflow.StartActionCode, start.ActionCode)

	require.Len(t, res.CorrectedWorkflow.Edges, 1)
	assert.Equal(t, start.BlockID, res.CorrectedWorkflow.Edges[0].From)
	assert.Equal(t, "B001", res.CorrectedWorkflow.Edges[0].To)

	assert.Contains(t, res.Warnings, "Start block was missing — added automatically")
}

func TestEdgeRepair_WellFormedWorkflow_NoWarnings(t *testing.T) {
	t.Parallel()

	w := &workflow.Workflow{
		Blocks: []workflow.Block{
			{BlockID: "B000", Name: "Start", ActionCode: workflow.StartActionCode},
			{BlockID: "B001", Name: "Connected", ActionCode: "SomeAction"},
		},
		Edges: []workflow.Edge{
			{EdgeID: "E001", From: "B000", To: "B001"},
		},
	}

	s := New()
	res, err := s.Validate(context.Background(), w, validation.Context{})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.False(t, res.HasErrors())
}
