package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWorkflow() *Workflow {
	return &Workflow{
		Blocks: []Block{
			{BlockID: "B001", Name: "Start", ActionCode: StartActionCode},
			{
				BlockID:    "B002",
				Name:       "Do Thing",
				ActionCode: "SomeAction",
				Outputs:    []Output{{Name: "result", OutputVariableName: "op-B002-result"}},
			},
		},
		Edges: []Edge{{EdgeID: "E001", From: "B001", To: "B002"}},
	}
}

func TestCheckStructuralInvariants_Valid(t *testing.T) {
	t.Parallel()
	assert.NoError(t, CheckStructuralInvariants(validWorkflow()))
}

func TestCheckStructuralInvariants_DuplicateBlockID(t *testing.T) {
	t.Parallel()
	w := validWorkflow()
	w.Blocks[1].BlockID = "B001"

	err := CheckStructuralInvariants(w)
	require.Error(t, err)
	var violation *InvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "I1", violation.Invariant)
}

func TestCheckStructuralInvariants_EdgeToUnknownBlock(t *testing.T) {
	t.Parallel()
	w := validWorkflow()
	w.Edges[0].To = "B999"

	err := CheckStructuralInvariants(w)
	require.Error(t, err)
	var violation *InvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "I2", violation.Invariant)
}

func TestCheckStructuralInvariants_StartBlockHasIncomingEdge(t *testing.T) {
	t.Parallel()
	w := validWorkflow()
	w.Edges = append(w.Edges, Edge{EdgeID: "E002", From: "B002", To: "B001"})

	err := CheckStructuralInvariants(w)
	require.Error(t, err)
	var violation *InvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "I3", violation.Invariant)
}

func TestCheckStructuralInvariants_MissingStartBlock(t *testing.T) {
	t.Parallel()
	w := validWorkflow()
	w.Blocks[0].ActionCode = "NotStart"

	err := CheckStructuralInvariants(w)
	require.Error(t, err)
	var violation *InvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "I3", violation.Invariant)
}

func TestCheckStructuralInvariants_DanglingInputReference(t *testing.T) {
	t.Parallel()
	w := validWorkflow()
	missing := "op-B999-nope"
	w.Blocks[1].Inputs = []Input{{Name: "x", ReferencedOutputVariableName: &missing}}

	err := CheckStructuralInvariants(w)
	require.Error(t, err)
	var violation *InvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "I4", violation.Invariant)
}

func TestOutputVariableName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "op-B002-result", OutputVariableName("B002", "result"))
}

func TestMatchesBlockIDConvention(t *testing.T) {
	t.Parallel()
	assert.True(t, MatchesBlockIDConvention("B001"))
	assert.False(t, MatchesBlockIDConvention("block-1"))
}

func TestParseSubmission(t *testing.T) {
	t.Parallel()
	raw := []byte(`{"workflow_json":{"blocks":[{"block_id":"B001","name":"Start","action_code":"Start"}],"edges":[]}}`)

	w, err := ParseSubmission(raw)
	require.NoError(t, err)
	require.Len(t, w.Blocks, 1)
	assert.Equal(t, "B001", w.Blocks[0].BlockID)
}

func TestParseFromText_FencedJSON(t *testing.T) {
	t.Parallel()
	text := "here is the plan\n```json\n" +
		`{"workflow_json":{"blocks":[{"block_id":"B001","name":"Start","action_code":"Start"}],"edges":[]},"edges":[]}` +
		"\n```\nlet me know"

	w, ok := ParseFromText(text)
	require.True(t, ok)
	require.Len(t, w.Blocks, 1)
}

func TestParseFromText_NoMatch(t *testing.T) {
	t.Parallel()
	_, ok := ParseFromText("just a plain reply with no workflow")
	assert.False(t, ok)
}
