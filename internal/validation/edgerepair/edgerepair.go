// Package edgerepair implements the non-blocking, repairing Edge Connection
// stage of spec.md §4.7(b): inserts a missing Start block, deduplicates
// edges, removes self-loops, and warns about isolated blocks.
package edgerepair

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/saketkr/reasoning-engine/internal/validation"
	"github.com/saketkr/reasoning-engine/internal/workflow"
)

var edgeIDNumPattern = regexp.MustCompile(`^E(\d+)$`)

// Stage implements validation.Stage.
type Stage struct{}

// New builds an edge-repair Stage.
func New() *Stage { return &Stage{} }

func (s *Stage) Name() string     { return "edge_connection" }
func (s *Stage) IsBlocking() bool { return false }

func (s *Stage) Validate(_ context.Context, w *workflow.Workflow, _ validation.Context) (validation.Result, error) {
	var res validation.Result

	corrected := &workflow.Workflow{
		Blocks:  append([]workflow.Block(nil), w.Blocks...),
		Edges:   append([]workflow.Edge(nil), w.Edges...),
		JobName: w.JobName,
	}

	nextEdgeNum := maxEdgeNum(corrected.Edges) + 1

	start, hasStart := corrected.StartBlock()
	if !hasStart {
		startID := "B000"
		if blockIDTaken(corrected.Blocks, startID) {
			startID = "B999"
		}
		corrected.Blocks = append([]workflow.Block{{
			BlockID:    startID,
			Name:       "Start",
			ActionCode: workflow.StartActionCode,
		}}, corrected.Blocks...)
		start = corrected.Blocks[0]
		res.Warnings = append(res.Warnings, "Start block was missing — added automatically")
	}

	incoming := corrected.IncomingEdgeCount()
	for _, b := range corrected.Blocks {
		if b.BlockID == start.BlockID {
			continue
		}
		if incoming[b.BlockID] == 0 {
			corrected.Edges = append(corrected.Edges, workflow.Edge{
				EdgeID: fmt.Sprintf("E%03d", nextEdgeNum),
				From:   start.BlockID,
				To:     b.BlockID,
			})
			nextEdgeNum++
		}
	}

	seenPairs := make(map[[2]string]bool, len(corrected.Edges))
	deduped := make([]workflow.Edge, 0, len(corrected.Edges))
	for _, e := range corrected.Edges {
		if e.From == e.To {
			res.Warnings = append(res.Warnings, "Self-loop removed: "+e.EdgeID)
			continue
		}
		pair := [2]string{e.From, e.To}
		if seenPairs[pair] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Duplicate edge removed: %s -> %s", e.From, e.To))
			continue
		}
		seenPairs[pair] = true
		deduped = append(deduped, e)
	}
	corrected.Edges = deduped

	inEdge := make(map[string]bool, len(corrected.Blocks))
	for _, e := range corrected.Edges {
		inEdge[e.From] = true
		inEdge[e.To] = true
	}
	for _, b := range corrected.Blocks {
		if b.BlockID == start.BlockID {
			continue
		}
		if !inEdge[b.BlockID] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("block %s participates in no edge", b.BlockID))
		}
	}

	res.CorrectedWorkflow = corrected
	return res, nil
}

func maxEdgeNum(edges []workflow.Edge) int {
	max := 0
	for _, e := range edges {
		m := edgeIDNumPattern.FindStringSubmatch(e.EdgeID)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err == nil && n > max {
			max = n
		}
	}
	return max
}

func blockIDTaken(blocks []workflow.Block, id string) bool {
	for _, b := range blocks {
		if b.BlockID == id {
			return true
		}
	}
	return false
}
