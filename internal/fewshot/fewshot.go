// Package fewshot retrieves few-shot planning examples used to prime the
// Planner's system prompt (spec.md §4.5 step 3: "retrieve few-shot examples
// from a configured source; on failure, use a fixed built-in set"). The
// built-in fallback set is adapted from original_source/'s
// agents/few_shot.py fixtures into Go struct literals.
package fewshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Example is one formatted few-shot demonstration.
type Example struct {
	Query    string `json:"query"`
	Response string `json:"response"`
}

// Source retrieves the current example set. Implementations may hit a file,
// database, or remote service; any error triggers the built-in fallback.
type Source interface {
	Load(ctx context.Context) ([]Example, error)
}

// FileSource loads a JSON array of Example from a local path.
type FileSource struct {
	Path string
}

func (f FileSource) Load(_ context.Context) ([]Example, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("fewshot: read %s: %w", f.Path, err)
	}
	var examples []Example
	if err := json.Unmarshal(raw, &examples); err != nil {
		return nil, fmt.Errorf("fewshot: parse %s: %w", f.Path, err)
	}
	return examples, nil
}

// BuiltIn is the fixed fallback set, used whenever Source.Load fails.
func BuiltIn() []Example {
	return []Example{
		{
			Query: "Export HCM configuration for the Benefits module",
			Response: `think_approach: The user wants a single export step bracketed by Start. ` +
				`submit_workflow: {"workflow_json": {"blocks": [` +
				`{"block_id":"B001","name":"Start","action_code":"Start","inputs":[],"outputs":[]},` +
				`{"block_id":"B002","name":"Export HCM Benefits Configuration","action_code":"ExportConfigurations",` +
				`"inputs":[{"name":"Module","static_value":"Benefits"}],` +
				`"outputs":[{"name":"ExportFile","output_variable_name":"op-B002-ExportFile"}]}],` +
				`"edges": [{"edge_id":"E001","from":"B001","to":"B002"}]}}`,
		},
		{
			Query: "Migrate my data",
			Response: `clarify: {"questions": ["Which source system?", "Which target system?"]}`,
		},
	}
}

// Loader wraps a Source with the built-in fallback.
type Loader struct {
	source Source
}

// NewLoader builds a Loader. source may be nil, in which case Load always
// returns the built-in set.
func NewLoader(source Source) *Loader {
	return &Loader{source: source}
}

// Load returns the current example set, falling back to BuiltIn on any
// Source error.
func (l *Loader) Load(ctx context.Context) []Example {
	if l.source == nil {
		return BuiltIn()
	}
	examples, err := l.source.Load(ctx)
	if err != nil || len(examples) == 0 {
		return BuiltIn()
	}
	return examples
}

// Format renders examples as a single block suitable for prompt injection.
func Format(examples []Example) string {
	if len(examples) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Examples:\n")
	for i, ex := range examples {
		fmt.Fprintf(&b, "Example %d\nUser: %s\nAssistant: %s\n\n", i+1, ex.Query, ex.Response)
	}
	return b.String()
}
