// Package jobname generates a workflow's job_name. original_source/ carries
// two competing implementations — a pure regex slugifier and an async
// LLM-backed generator — which spec.md §9 flags as an unresolved ambiguity
// ("two definitions of JobNameGenerator ... unclear which is authoritative").
// This package resolves it by keeping both behind one Generator interface:
// RegexGenerator is the always-available default; LLMGenerator is an
// optional decorator. The Orchestrator uses whichever Generator its Options
// hold; cmd/reasoning-engine wires RegexGenerator. Neither is silently dropped.
package jobname

import (
	"context"
	"regexp"
	"strings"

	"github.com/saketkr/reasoning-engine/internal/llm"
	"github.com/saketkr/reasoning-engine/internal/prompts"
	"github.com/saketkr/reasoning-engine/internal/workflow"
)

// Generator derives a job_name for a produced workflow.
type Generator interface {
	Generate(ctx context.Context, w *workflow.Workflow, userQuery string) string
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// RegexGenerator derives a slug from the first present_answer-worthy signal
// available: the user's query if non-empty, else the workflow's block names.
type RegexGenerator struct{}

// NewRegexGenerator returns the default, pure generator.
func NewRegexGenerator() RegexGenerator { return RegexGenerator{} }

func (RegexGenerator) Generate(_ context.Context, w *workflow.Workflow, userQuery string) string {
	source := userQuery
	if strings.TrimSpace(source) == "" {
		names := make([]string, 0, len(w.Blocks))
		for _, b := range w.Blocks {
			if b.ActionCode == workflow.StartActionCode {
				continue
			}
			names = append(names, b.Name)
		}
		source = strings.Join(names, " ")
	}
	slug := slugify(source)
	if slug == "" {
		return "untitled-workflow"
	}
	const maxWords = 6
	parts := strings.Split(slug, "-")
	if len(parts) > maxWords {
		parts = parts[:maxWords]
	}
	return strings.Join(parts, "-")
}

func slugify(s string) string {
	lower := strings.ToLower(s)
	slug := nonSlugChars.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}

// LLMGenerator asks a low-temperature model for a job name, falling back to
// a RegexGenerator on any failure — job naming must never fail a turn.
type LLMGenerator struct {
	gateway  llm.Gateway
	prompts  *prompts.Store
	model    string
	fallback Generator
}

// NewLLMGenerator builds an LLM-backed generator wrapping fallback (normally
// a RegexGenerator) for failure cases.
func NewLLMGenerator(gateway llm.Gateway, store *prompts.Store, fallback Generator) *LLMGenerator {
	return &LLMGenerator{gateway: gateway, prompts: store, fallback: fallback}
}

func (g *LLMGenerator) Generate(ctx context.Context, w *workflow.Workflow, userQuery string) string {
	summary := userQuery
	if summary == "" {
		names := make([]string, 0, len(w.Blocks))
		for _, b := range w.Blocks {
			names = append(names, b.Name)
		}
		summary = strings.Join(names, ", ")
	}
	prompt, err := g.prompts.Render(prompts.JobNameGeneration, map[string]any{"Summary": summary})
	if err != nil {
		return g.fallback.Generate(ctx, w, userQuery)
	}
	resp, err := g.gateway.Generate(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: 0.1,
		MaxTokens:   32,
	})
	if err != nil {
		return g.fallback.Generate(ctx, w, userQuery)
	}
	slug := slugify(resp.Content)
	if slug == "" {
		return g.fallback.Generate(ctx, w, userQuery)
	}
	return slug
}
