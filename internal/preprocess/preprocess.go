// Package preprocess implements the three query-preprocessing strategies
// spec.md §4.5 step 2 names: Passthrough, InlineAugmentation, and
// SeparateCallRefinement. The last is grounded on original_source/'s
// query_refinement.py and supplements the distilled spec (§10 of
// SPEC_FULL.md), emitting QUERY_REFINEMENT_STARTED/COMPLETED events.
package preprocess

import (
	"context"
	"fmt"
	"strings"

	"github.com/saketkr/reasoning-engine/internal/convo"
	"github.com/saketkr/reasoning-engine/internal/events"
	"github.com/saketkr/reasoning-engine/internal/llm"
)

// Preprocessor rewrites the latest user message using prior history and user
// context.
type Preprocessor interface {
	Preprocess(ctx context.Context, content string, history []convo.Message, user *convo.UserInfo) (string, error)
}

// Passthrough returns content unchanged; it is the default, zero-cost
// strategy.
type Passthrough struct{}

func (Passthrough) Preprocess(_ context.Context, content string, _ []convo.Message, _ *convo.UserInfo) (string, error) {
	return content, nil
}

// InlineAugmentation appends lightweight user-context hints to the message
// without any additional LLM call.
type InlineAugmentation struct{}

func (InlineAugmentation) Preprocess(_ context.Context, content string, _ []convo.Message, user *convo.UserInfo) (string, error) {
	if user == nil || user.Domain == "" {
		return content, nil
	}
	return fmt.Sprintf("%s\n\n[context: domain=%s]", content, user.Domain), nil
}

// SeparateCallRefinement issues one additional LLM call to rewrite the
// latest user message into a precise, self-contained request, grounded on
// original_source/'s separate-call query refinement module. Emits
// QUERY_REFINEMENT_STARTED/COMPLETED through the sink.
type SeparateCallRefinement struct {
	Gateway        llm.Gateway
	Sink           events.Sink
	ConversationID string
}

func (r SeparateCallRefinement) Preprocess(ctx context.Context, content string, history []convo.Message, _ *convo.UserInfo) (string, error) {
	r.emit(ctx, events.KindQueryRefinementStarted, nil)

	var hist strings.Builder
	for _, m := range history {
		fmt.Fprintf(&hist, "%s: %s\n", m.Role, m.Content)
	}

	resp, err := r.Gateway.Generate(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "Rewrite the user's latest message into a precise, self-contained request, using the prior conversation for context."},
			{Role: llm.RoleUser, Content: fmt.Sprintf("Prior conversation:\n%s\nLatest message: %s", hist.String(), content)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		r.emit(ctx, events.KindQueryRefinementComplete, map[string]any{"refined": false})
		return content, nil
	}

	refined := strings.TrimSpace(resp.Content)
	if refined == "" {
		refined = content
	}
	r.emit(ctx, events.KindQueryRefinementComplete, map[string]any{"refined": true})
	return refined, nil
}

func (r SeparateCallRefinement) emit(ctx context.Context, kind events.Kind, payload map[string]any) {
	if r.Sink == nil {
		return
	}
	_ = r.Sink.Emit(ctx, events.Event{Kind: kind, ConversationID: r.ConversationID, Payload: payload})
}
