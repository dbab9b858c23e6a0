// Package blockvalidator implements the blocking LLM Block Validator stage
// of spec.md §4.7(c): per non-Start block, in parallel with a bounded
// concurrency, search the task-block catalog, call a validator LLM, and
// re-materialize the block from whichever template the response indicates.
// Concurrency is bounded with golang.org/x/sync/semaphore and per-block
// results are collected into a positional slice so block order survives
// concurrent dispatch (spec.md §5's ordering guarantee), grounded on the
// pack's general Go-concurrency idiom.
package blockvalidator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/saketkr/reasoning-engine/internal/events"
	"github.com/saketkr/reasoning-engine/internal/llm"
	"github.com/saketkr/reasoning-engine/internal/prompts"
	"github.com/saketkr/reasoning-engine/internal/search"
	"github.com/saketkr/reasoning-engine/internal/validation"
	"github.com/saketkr/reasoning-engine/internal/validation/blockvalidator/snapshotdefaults"
	"github.com/saketkr/reasoning-engine/internal/workflow"
)

// Custom (fixed-template) action codes, recognized as "declared custom" in
// the validator LLM's response.
var customActionCodes = map[string]bool{
	"HumanDependent":   true,
	"AskWilfred":       true,
	"HumanDependable":  true,
}

const defaultMaxParallel = 5

// Stage implements validation.Stage.
type Stage struct {
	Gateway         llm.Gateway
	TaskBlockClient search.TaskBlockClient
	Prompts         *prompts.Store
	Sink            events.Sink
	MaxParallel     int
	Now             func() time.Time
}

// New builds an LLM Block Validator Stage with default MaxParallel.
func New(gateway llm.Gateway, taskBlocks search.TaskBlockClient, store *prompts.Store, sink events.Sink) *Stage {
	if sink == nil {
		sink = events.NoopSink{}
	}
	return &Stage{
		Gateway:         gateway,
		TaskBlockClient: taskBlocks,
		Prompts:         store,
		Sink:            sink,
		MaxParallel:     defaultMaxParallel,
		Now:             time.Now,
	}
}

func (s *Stage) Name() string     { return "llm_block_validator" }
func (s *Stage) IsBlocking() bool { return true }

type blockOutcome struct {
	block    workflow.Block
	addEdges []workflow.Edge
	remove   map[[2]string]bool
	warning  string
}

func (s *Stage) Validate(ctx context.Context, w *workflow.Workflow, vctx validation.Context) (validation.Result, error) {
	var res validation.Result

	maxParallel := s.MaxParallel
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}
	sem := semaphore.NewWeighted(int64(maxParallel))

	outcomes := make([]blockOutcome, len(w.Blocks))
	g, gctx := errgroup.WithContext(ctx)

	for i, b := range w.Blocks {
		i, b := i, b
		if b.ActionCode == workflow.StartActionCode {
			outcomes[i] = blockOutcome{block: b}
			continue
		}
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			outcome, err := s.validateBlock(gctx, b, w, vctx)
			if err != nil {
				outcomes[i] = blockOutcome{block: b, warning: fmt.Sprintf("block %s validation failed: %v", b.BlockID, err)}
				return nil
			}
			outcomes[i] = outcome
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return res, err
	}

	correctedBlocks := make([]workflow.Block, 0, len(outcomes))
	removeSet := make(map[[2]string]bool)
	var addEdges []workflow.Edge
	for _, o := range outcomes {
		correctedBlocks = append(correctedBlocks, o.block)
		if o.warning != "" {
			res.Warnings = append(res.Warnings, o.warning)
		}
		for pair := range o.remove {
			removeSet[pair] = true
		}
		addEdges = append(addEdges, o.addEdges...)
	}

	edges := make([]workflow.Edge, 0, len(w.Edges))
	seenPairs := make(map[[2]string]bool, len(w.Edges))
	maxEdgeNum := 0
	for _, e := range w.Edges {
		if e.From == e.To {
			continue
		}
		pair := [2]string{e.From, e.To}
		if removeSet[pair] || seenPairs[pair] {
			continue
		}
		seenPairs[pair] = true
		edges = append(edges, e)
		if n, ok := edgeNum(e.EdgeID); ok && n > maxEdgeNum {
			maxEdgeNum = n
		}
	}

	for _, add := range addEdges {
		pair := [2]string{add.From, add.To}
		if add.From == add.To || seenPairs[pair] {
			continue
		}
		seenPairs[pair] = true
		maxEdgeNum++
		add.EdgeID = fmt.Sprintf("E%03d", maxEdgeNum)
		edges = append(edges, add)
	}

	res.CorrectedWorkflow = &workflow.Workflow{
		Blocks:  correctedBlocks,
		Edges:   edges,
		JobName: w.JobName,
	}
	return res, nil
}

func edgeNum(id string) (int, bool) {
	if len(id) != 4 || id[0] != 'E' {
		return 0, false
	}
	n, err := strconv.Atoi(id[1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *Stage) validateBlock(ctx context.Context, b workflow.Block, w *workflow.Workflow, vctx validation.Context) (blockOutcome, error) {
	_ = s.Sink.Emit(ctx, events.Event{
		Kind:           events.KindTaskBlockSearchStarted,
		ConversationID: vctx.ConversationID,
		Payload:        map[string]any{"block_id": b.BlockID},
	})

	queries := []string{b.Name}
	if b.ActionCode != "" {
		queries = append(queries, b.ActionCode)
	}
	candidates, err := s.TaskBlockClient.Search(ctx, queries, false)
	if err != nil {
		candidates = nil
	}
	_ = s.Sink.Emit(ctx, events.Event{
		Kind:           events.KindTaskBlockSearchResults,
		ConversationID: vctx.ConversationID,
		Payload:        map[string]any{"block_id": b.BlockID, "count": len(candidates)},
	})

	fastPath := fastPathMatch(candidates, b.ActionCode)

	blockJSON, _ := json.Marshal(b)
	workflowJSON, _ := json.MarshalIndent(w, "", "  ")
	candidatesJSON, _ := json.Marshal(candidates)
	edgesJSON, _ := json.Marshal(w.Edges)

	prompt, err := s.Prompts.Render(prompts.BlockValidator, map[string]any{
		"Block":      string(blockJSON),
		"Candidates": string(candidatesJSON),
		"Workflow":   string(workflowJSON),
		"Edges":      string(edgesJSON),
		"Query":      vctx.UserQuery,
	})
	if err != nil {
		return blockOutcome{}, err
	}

	resp, err := s.Gateway.Generate(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: 0.3,
	})
	if err != nil {
		return blockOutcome{}, err
	}

	addEdges, removeEdges := parseEdgeInstructions(resp.Content)

	resultBlock := routeBlock(resp.Content, b, candidates, fastPath)
	snapshotdefaults.Apply(&resultBlock, s.Now())

	return blockOutcome{
		block:    resultBlock,
		addEdges: addEdges,
		remove:   removeEdges,
	}, nil
}

func fastPathMatch(candidates []search.TaskBlockCandidate, actionCode string) *search.TaskBlockCandidate {
	for i := range candidates {
		if candidates[i].ActionCode == actionCode {
			return &candidates[i]
		}
	}
	return nil
}

var (
	noChangesPattern = regexp.MustCompile(`(?i)NO_CHANGES_NEEDED`)
	customPattern    = regexp.MustCompile(`(?i)NO MATCH\s*-\s*CUSTOM BLOCK`)
	fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	addPattern    = regexp.MustCompile(`(?i)Add:\s*(\[.*?\])`)
	removePattern = regexp.MustCompile(`(?i)Remove:\s*(\[.*?\])`)
)

// routeBlock implements spec.md §4.7(c) step 5's routing:
//   - "no change needed" + declared custom -> materializeCustom, which keeps
//     the block as it is (no custom template is applied), so the planner's
//     static values/references are preserved.
//   - "no change needed" + a fast-path exact match exists -> re-materialize
//     via the task-block template, mapping by name.
//   - a corrected block JSON -> re-materialize via whichever template
//     matches, falling back to fast-path or the corrected JSON as-is.
func routeBlock(response string, original workflow.Block, candidates []search.TaskBlockCandidate, fastPath *search.TaskBlockCandidate) workflow.Block {
	if customPattern.MatchString(response) || (noChangesPattern.MatchString(response) && customActionCodes[original.ActionCode]) {
		return materializeCustom(original)
	}
	if noChangesPattern.MatchString(response) && fastPath != nil {
		return materializeFromCandidate(original, *fastPath)
	}

	corrected, ok := lastFencedJSONBlock(response)
	if !ok {
		return original
	}
	var candidateBlock workflow.Block
	if err := json.Unmarshal([]byte(corrected), &candidateBlock); err != nil {
		return original
	}
	if blocksEqual(candidateBlock, original) {
		return original
	}

	if customActionCodes[candidateBlock.ActionCode] {
		return materializeCustom(mergeBlock(original, candidateBlock))
	}
	for _, c := range candidates {
		if c.ActionCode == candidateBlock.ActionCode {
			return materializeFromCandidate(mergeBlock(original, candidateBlock), c)
		}
	}
	if fastPath != nil {
		return materializeFromCandidate(original, *fastPath)
	}
	return candidateBlock
}

func materializeCustom(b workflow.Block) workflow.Block {
	return b
}

// materializeFromCandidate re-materializes b via the task-block template
// described by candidate, mapping each template input/output to the
// planner's provided value by name, preserving StaticValue and
// ReferencedOutputVariableName.
func materializeFromCandidate(b workflow.Block, candidate search.TaskBlockCandidate) workflow.Block {
	existingInputs := make(map[string]workflow.Input, len(b.Inputs))
	for _, in := range b.Inputs {
		existingInputs[in.Name] = in
	}
	inputs := make([]workflow.Input, 0, len(candidate.Inputs))
	for _, field := range candidate.Inputs {
		if existing, ok := existingInputs[field.Name]; ok {
			inputs = append(inputs, existing)
		} else {
			inputs = append(inputs, workflow.Input{Name: field.Name})
		}
	}

	existingOutputs := make(map[string]workflow.Output, len(b.Outputs))
	for _, out := range b.Outputs {
		existingOutputs[out.Name] = out
	}
	outputs := make([]workflow.Output, 0, len(candidate.Outputs))
	for _, field := range candidate.Outputs {
		if existing, ok := existingOutputs[field.Name]; ok {
			outputs = append(outputs, existing)
		} else {
			outputs = append(outputs, workflow.Output{
				Name:               field.Name,
				OutputVariableName: workflow.OutputVariableName(b.BlockID, field.Name),
			})
		}
	}

	return workflow.Block{
		BlockID:    b.BlockID,
		Name:       candidate.Name,
		ActionCode: candidate.ActionCode,
		Inputs:     inputs,
		Outputs:    outputs,
	}
}

func mergeBlock(original, corrected workflow.Block) workflow.Block {
	corrected.BlockID = original.BlockID
	return corrected
}

func blocksEqual(a, b workflow.Block) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

func lastFencedJSONBlock(text string) (string, bool) {
	matches := fencedJSONPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", false
	}
	return strings.TrimSpace(matches[len(matches)-1][1]), true
}

func parseEdgeInstructions(response string) ([]workflow.Edge, map[[2]string]bool) {
	var add []workflow.Edge
	if m := addPattern.FindStringSubmatch(response); m != nil {
		var raw []struct{ From, To string }
		if err := json.Unmarshal([]byte(m[1]), &raw); err == nil {
			for _, r := range raw {
				add = append(add, workflow.Edge{From: r.From, To: r.To})
			}
		}
	}

	remove := make(map[[2]string]bool)
	if m := removePattern.FindStringSubmatch(response); m != nil {
		var raw []struct{ From, To string }
		if err := json.Unmarshal([]byte(m[1]), &raw); err == nil {
			for _, r := range raw {
				remove[[2]string{r.From, r.To}] = true
			}
		}
	}

	return add, remove
}
