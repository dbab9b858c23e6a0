// Package workflow defines the Workflow data model — the directed graph of
// automation blocks the engine produces for a conversation turn — and the
// structural invariants (I1–I4) that every emitted Workflow must satisfy.
package workflow

import "regexp"

// StartActionCode is the ActionCode every workflow's single entry block
// must carry.
const StartActionCode = "Start"

type (
	// Workflow is an ordered list of blocks plus an ordered list of edges,
	// with a unique Start block. It is produced transiently within a turn and
	// is not persisted by the core.
	Workflow struct {
		Blocks  []Block `json:"blocks"`
		Edges   []Edge  `json:"edges"`
		JobName string  `json:"job_name,omitempty"`
	}

	// Block is one node in the workflow graph. BlockId conventionally matches
	// ^B\d{3}$ but the pattern is not strictly enforced — only warned on.
	Block struct {
		BlockID    string  `json:"block_id"`
		Name       string  `json:"name"`
		ActionCode string  `json:"action_code"`
		Inputs     []Input `json:"inputs"`
		Outputs    []Output `json:"outputs"`
	}

	// Edge is a directed connection between two blocks, optionally carrying a
	// branch condition (typically "true" or "false").
	Edge struct {
		EdgeID        string  `json:"edge_id"`
		From          string  `json:"from"`
		To            string  `json:"to"`
		EdgeCondition *string `json:"edge_condition,omitempty"`
	}

	// Input is a named block input. At most one of StaticValue or
	// ReferencedOutputVariableName is set; both nil/empty means "unfilled".
	Input struct {
		Name                         string  `json:"name"`
		StaticValue                  *string `json:"static_value,omitempty"`
		ReferencedOutputVariableName *string `json:"referenced_output_variable_name,omitempty"`
		Description                  string  `json:"description,omitempty"`
	}

	// Output is a named block output. OutputVariableName conventionally
	// follows "op-{BlockID}-{OutputName}".
	Output struct {
		Name               string `json:"name"`
		OutputVariableName string `json:"output_variable_name"`
		Description        string `json:"description,omitempty"`
	}
)

var (
	blockIDPattern = regexp.MustCompile(`^B\d{3}$`)
	edgeIDPattern  = regexp.MustCompile(`^E\d{3}$`)
)

// MatchesBlockIDConvention reports whether id follows the B\d{3} convention.
func MatchesBlockIDConvention(id string) bool { return blockIDPattern.MatchString(id) }

// MatchesEdgeIDConvention reports whether id follows the E\d{3} convention.
func MatchesEdgeIDConvention(id string) bool { return edgeIDPattern.MatchString(id) }

// OutputVariableName returns the canonical output-variable name for a block
// output: "op-{BlockID}-{OutputName}".
func OutputVariableName(blockID, outputName string) string {
	return "op-" + blockID + "-" + outputName
}

// BlockByID returns the block with the given id, if present.
func (w *Workflow) BlockByID(id string) (Block, bool) {
	for _, b := range w.Blocks {
		if b.BlockID == id {
			return b, true
		}
	}
	return Block{}, false
}

// StartBlock returns the workflow's Start block, if exactly one exists.
func (w *Workflow) StartBlock() (Block, bool) {
	var found *Block
	for i := range w.Blocks {
		if w.Blocks[i].ActionCode == StartActionCode {
			if found != nil {
				return Block{}, false
			}
			found = &w.Blocks[i]
		}
	}
	if found == nil {
		return Block{}, false
	}
	return *found, true
}

// AllOutputVariableNames returns the set of output variable names produced by
// any block in the workflow.
func (w *Workflow) AllOutputVariableNames() map[string]bool {
	names := make(map[string]bool)
	for _, b := range w.Blocks {
		for _, o := range b.Outputs {
			names[o.OutputVariableName] = true
		}
	}
	return names
}

// IncomingEdgeCount returns, for every block id appearing as an edge's To
// field, the number of incoming edges.
func (w *Workflow) IncomingEdgeCount() map[string]int {
	counts := make(map[string]int)
	for _, e := range w.Edges {
		counts[e.To]++
	}
	return counts
}

// CheckStructuralInvariants verifies I1–I4 and returns a non-nil error
// describing the first violation found, or nil if all hold.
func CheckStructuralInvariants(w *Workflow) error {
	seenBlocks := make(map[string]bool, len(w.Blocks))
	for _, b := range w.Blocks {
		if seenBlocks[b.BlockID] {
			return &InvariantViolation{Invariant: "I1", Detail: "duplicate block id " + b.BlockID}
		}
		seenBlocks[b.BlockID] = true
	}

	seenEdges := make(map[string]bool, len(w.Edges))
	for _, e := range w.Edges {
		if seenEdges[e.EdgeID] {
			return &InvariantViolation{Invariant: "I1", Detail: "duplicate edge id " + e.EdgeID}
		}
		seenEdges[e.EdgeID] = true
	}

	for _, e := range w.Edges {
		if !seenBlocks[e.From] {
			return &InvariantViolation{Invariant: "I2", Detail: "edge " + e.EdgeID + " references unknown from-block " + e.From}
		}
		if !seenBlocks[e.To] {
			return &InvariantViolation{Invariant: "I2", Detail: "edge " + e.EdgeID + " references unknown to-block " + e.To}
		}
	}

	start, ok := w.StartBlock()
	if !ok {
		return &InvariantViolation{Invariant: "I3", Detail: "workflow must have exactly one Start block"}
	}
	for _, e := range w.Edges {
		if e.To == start.BlockID {
			return &InvariantViolation{Invariant: "I3", Detail: "Start block must have no incoming edges"}
		}
	}

	produced := w.AllOutputVariableNames()
	for _, b := range w.Blocks {
		for _, in := range b.Inputs {
			if in.ReferencedOutputVariableName != nil && !produced[*in.ReferencedOutputVariableName] {
				return &InvariantViolation{Invariant: "I4", Detail: "block " + b.BlockID + " input " + in.Name + " references unknown output " + *in.ReferencedOutputVariableName}
			}
		}
	}

	return nil
}

// InvariantViolation reports which invariant (I1–I4) was violated and why.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return e.Invariant + " violated: " + e.Detail
}
