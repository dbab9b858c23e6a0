// Package structural implements the blocking, local, no-I/O structural
// validation stage of spec.md §4.7(a). It emits progress events across five
// named sub-phases and, in strict mode, promotes every warning to an error.
package structural

import (
	"context"
	"fmt"

	"github.com/saketkr/reasoning-engine/internal/events"
	"github.com/saketkr/reasoning-engine/internal/validation"
	"github.com/saketkr/reasoning-engine/internal/workflow"
)

// knownActionInputs is the small, explicitly heuristic table of
// ActionCode -> required input names spec.md §9 flags as ambiguous whether
// a miss should remain a warning; this implementation keeps it a warning.
var knownActionInputs = map[string][]string{
	"ExportConfigurations":    {"Module"},
	"ImportConfigurations":    {"Module", "SourceFile"},
	"CreateDiscoverySnapshot": {"Application"},
}

// Stage implements validation.Stage.
type Stage struct {
	Sink events.Sink
}

// New builds a structural Stage. sink may be nil (defaults to NoopSink).
func New(sink events.Sink) *Stage {
	if sink == nil {
		sink = events.NoopSink{}
	}
	return &Stage{Sink: sink}
}

func (s *Stage) Name() string      { return "structural" }
func (s *Stage) IsBlocking() bool  { return true }

func (s *Stage) Validate(ctx context.Context, w *workflow.Workflow, vctx validation.Context) (validation.Result, error) {
	var res validation.Result
	progress := func(phase string) {
		_ = s.Sink.Emit(ctx, events.Event{
			Kind:           events.KindValidatorProgressUpdate,
			ConversationID: vctx.ConversationID,
			Payload:        map[string]any{"stage": "structural", "phase": phase},
		})
	}

	progress("structure")
	if len(w.Blocks) == 0 {
		res.Errors = append(res.Errors, "workflow must contain at least one block")
		progress("complete")
		return res, nil
	}
	if len(w.Blocks) > 1 && len(w.Edges) == 0 {
		res.Warnings = append(res.Warnings, "multiple blocks present with no edges")
	}

	progress("blocks")
	seenBlocks := make(map[string]bool, len(w.Blocks))
	startCount := 0
	for _, b := range w.Blocks {
		if seenBlocks[b.BlockID] {
			res.Errors = append(res.Errors, fmt.Sprintf("duplicate block id %s", b.BlockID))
		}
		seenBlocks[b.BlockID] = true

		if !workflow.MatchesBlockIDConvention(b.BlockID) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("block id %q does not match convention B\\d{3}", b.BlockID))
		}
		if b.Name == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("block %s has an empty name", b.BlockID))
		}
		if b.ActionCode == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("block %s has an empty action code", b.BlockID))
		}
		if b.ActionCode == workflow.StartActionCode {
			startCount++
		}

		if required, ok := knownActionInputs[b.ActionCode]; ok {
			present := make(map[string]bool, len(b.Inputs))
			for _, in := range b.Inputs {
				present[in.Name] = true
			}
			for _, req := range required {
				if !present[req] {
					res.Warnings = append(res.Warnings, fmt.Sprintf("block %s (%s) is missing recommended input %q", b.BlockID, b.ActionCode, req))
				}
			}
		}
	}
	if startCount != 1 {
		res.Errors = append(res.Errors, fmt.Sprintf("workflow must have exactly one Start block, found %d", startCount))
	}

	progress("edges")
	seenEdges := make(map[string]bool, len(w.Edges))
	for _, e := range w.Edges {
		if seenEdges[e.EdgeID] {
			res.Errors = append(res.Errors, fmt.Sprintf("duplicate edge id %s", e.EdgeID))
		}
		seenEdges[e.EdgeID] = true

		if !workflow.MatchesEdgeIDConvention(e.EdgeID) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("edge id %q does not match convention E\\d{3}", e.EdgeID))
		}
		if !seenBlocks[e.From] {
			res.Errors = append(res.Errors, fmt.Sprintf("edge %s references unknown from-block %s", e.EdgeID, e.From))
		}
		if !seenBlocks[e.To] {
			res.Errors = append(res.Errors, fmt.Sprintf("edge %s references unknown to-block %s", e.EdgeID, e.To))
		}
		if e.From == e.To {
			res.Warnings = append(res.Warnings, fmt.Sprintf("self-loop at edge %s (block %s)", e.EdgeID, e.From))
		}
		if e.EdgeCondition != nil && *e.EdgeCondition != "true" && *e.EdgeCondition != "false" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("edge %s has non-boolean condition %q", e.EdgeID, *e.EdgeCondition))
		}
	}

	progress("references")
	produced := w.AllOutputVariableNames()
	for _, b := range w.Blocks {
		for _, in := range b.Inputs {
			if in.ReferencedOutputVariableName != nil && !produced[*in.ReferencedOutputVariableName] {
				res.Errors = append(res.Errors, fmt.Sprintf("block %s input %s references unknown output %s", b.BlockID, in.Name, *in.ReferencedOutputVariableName))
			}
		}
	}

	progress("flow")
	start, ok := w.StartBlock()
	if ok {
		incoming := w.IncomingEdgeCount()
		if incoming[start.BlockID] > 0 {
			res.Errors = append(res.Errors, "Start block must have no incoming edges")
		}

		reachable := bfsReachable(w, start.BlockID)
		for _, b := range w.Blocks {
			if b.BlockID == start.BlockID {
				continue
			}
			if !reachable[b.BlockID] {
				res.Warnings = append(res.Warnings, fmt.Sprintf("block %s is unreachable from Start", b.BlockID))
			}
		}
	}
	inEdge := make(map[string]bool, len(w.Blocks))
	for _, e := range w.Edges {
		inEdge[e.From] = true
		inEdge[e.To] = true
	}
	for _, b := range w.Blocks {
		if !inEdge[b.BlockID] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("block %s participates in no edge", b.BlockID))
		}
	}

	if vctx.Strict {
		res.Errors = append(res.Errors, res.Warnings...)
		res.Warnings = nil
	}

	progress("complete")
	return res, nil
}

func bfsReachable(w *workflow.Workflow, startID string) map[string]bool {
	adjacency := make(map[string][]string, len(w.Blocks))
	for _, e := range w.Edges {
		adjacency[e.From] = append(adjacency[e.From], e.To)
	}

	visited := map[string]bool{startID: true}
	queue := []string{startID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[id] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return visited
}
