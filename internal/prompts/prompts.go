// Package prompts loads and safely substitutes prompt templates. Per
// spec.md §9, a missing substitution key must produce an empty string, not
// a failure — this module uses text/template with Option("missingkey=zero")
// rather than a bespoke substitution engine (no pack dependency specializes
// in safe-missing-key templating; see DESIGN.md).
package prompts

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
)

// Store holds named templates, parsed once and rendered many times.
type Store struct {
	mu   sync.RWMutex
	tmpl map[string]*template.Template
}

// NewStore builds a Store from name->template-source pairs.
func NewStore(sources map[string]string) (*Store, error) {
	s := &Store{tmpl: make(map[string]*template.Template, len(sources))}
	for name, src := range sources {
		if err := s.Set(name, src); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Set (re)compiles a named template.
func (s *Store) Set(name, src string) error {
	t, err := template.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return fmt.Errorf("prompts: parse %q: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tmpl[name] = t
	return nil
}

// Render substitutes vars into the named template. A key referenced by the
// template but absent from vars renders as the empty string.
func (s *Store) Render(name string, vars map[string]any) (string, error) {
	s.mu.RLock()
	t, ok := s.tmpl[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("prompts: unknown template %q", name)
	}
	// A map[string]any would render a missing key as "<no value>"; a string
	// map makes missingkey=zero yield the empty string.
	data := make(map[string]string, len(vars))
	for k, v := range vars {
		data[k] = fmt.Sprint(v)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompts: render %q: %w", name, err)
	}
	return buf.String(), nil
}

// Default prompt names used across the engine.
const (
	SystemPlanner      = "planner_system"
	Summarizer         = "summarizer_system"
	BlockValidator     = "block_validator"
	Referencing        = "referencing"
	QueryRefinement    = "query_refinement"
	JobNameGeneration  = "job_name_generation"
)

// DefaultTemplates returns the built-in template set wired at startup. These
// are intentionally terse — operators are expected to override via Set once
// loaded from the configured prompt source.
func DefaultTemplates() map[string]string {
	return map[string]string{
		SystemPlanner: "You are a workflow planning assistant for {{.Domain}}.\n" +
			"Use the available tools to discover blocks, ask clarifying " +
			"questions when the request is ambiguous, and submit a complete " +
			"workflow once you are confident.\n{{.FewShotExamples}}",
		Summarizer: "Summarize the conversation below, preserving every " +
			"concrete decision, entity, and open question the user raised. " +
			"Be concise.",
		BlockValidator: "Block under review:\n{{.Block}}\n\nCandidates:\n" +
			"{{.Candidates}}\n\nWorkflow:\n{{.Workflow}}\n\nEdges:\n{{.Edges}}\n\n" +
			"User query: {{.Query}}\n\nRespond with NO_CHANGES_NEEDED, " +
			"NO MATCH - CUSTOM BLOCK, or a corrected block as fenced JSON. " +
			"Also report edge changes as Add: [...] and Remove: [...].",
		Referencing: "Conversation:\n{{.History}}\n\nWorkflow:\n{{.Workflow}}\n\n" +
			"Fill every empty mandatory input you can infer from the " +
			"conversation. Return the complete corrected workflow as JSON.",
		QueryRefinement: "Rewrite the user's latest message into a precise, " +
			"self-contained request, using the prior conversation for context.\n" +
			"Prior conversation:\n{{.History}}\n\nLatest message: {{.Message}}",
		JobNameGeneration: "Generate a short, descriptive job name (no " +
			"spaces, kebab-case) for a workflow that: {{.Summary}}",
	}
}
