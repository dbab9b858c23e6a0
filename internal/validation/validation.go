// Package validation implements the Validation Pipeline of spec.md §4.7: an
// ordered list of stages threading a possibly-corrected workflow from each
// stage to the next.
package validation

import (
	"context"

	"github.com/saketkr/reasoning-engine/internal/workflow"
)

// Result carries one stage's (or the pipeline's combined) errors, warnings,
// and an optional corrected workflow.
type Result struct {
	Errors            []string
	Warnings          []string
	CorrectedWorkflow *workflow.Workflow
}

// HasErrors reports whether any error was recorded.
func (r Result) HasErrors() bool { return len(r.Errors) > 0 }

func (r *Result) merge(other Result) {
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Context carries ambient data stages may need beyond the workflow itself
// (the originating user query, conversation id, strict-mode flag).
type Context struct {
	ConversationID string
	UserQuery      string
	Strict         bool
}

// Stage is one step of the pipeline.
type Stage interface {
	Name() string
	IsBlocking() bool
	Validate(ctx context.Context, w *workflow.Workflow, vctx Context) (Result, error)
}

// Pipeline is an ordered, explicit sequence of Stages — spec.md §9's
// "duck-typed validator union" rearchitecture note: the Orchestrator
// accepts a Pipeline value directly rather than branching on a runtime
// single-validator-or-pipeline kind.
type Pipeline struct {
	stages []Stage
}

// NewPipeline builds a Pipeline from an ordered stage list.
func NewPipeline(stages ...Stage) Pipeline {
	return Pipeline{stages: stages}
}

// Single wraps one Stage in a one-stage Pipeline, the explicit conversion
// step spec.md §9 calls for in place of accepting either a validator or a
// pipeline at the call site.
func Single(stage Stage) Pipeline {
	return Pipeline{stages: []Stage{stage}}
}

// Run executes every stage in sequence, passing the most-recently-corrected
// workflow (or the input, if no stage has corrected it yet) to the next. If
// a blocking stage reports any error, the pipeline stops and returns the
// combined result immediately. After all stages succeed, CorrectedWorkflow
// is set to whatever the last stage produced (or the original input).
func (p Pipeline) Run(ctx context.Context, w *workflow.Workflow, vctx Context) (Result, error) {
	combined := Result{}
	current := w

	for _, stage := range p.stages {
		res, err := stage.Validate(ctx, current, vctx)
		if err != nil {
			return combined, err
		}
		combined.merge(res)

		if res.CorrectedWorkflow != nil {
			current = res.CorrectedWorkflow
		}

		if stage.IsBlocking() && res.HasErrors() {
			return combined, nil
		}
	}

	combined.CorrectedWorkflow = current
	return combined, nil
}
