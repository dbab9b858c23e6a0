// Package summarizer implements spec.md §4.6: a pure, store-blind
// compaction of a message list into a short synthetic summary for a single
// LLM call. It never mutates durable history (I6).
package summarizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/saketkr/reasoning-engine/internal/llm"
)

const systemPrompt = "Summarize the conversation below, preserving every " +
	"concrete decision, entity, and open question the user raised. Be concise."

// Summarizer compacts a message list for a single LLM call.
type Summarizer struct {
	gateway llm.Gateway
}

// New builds a Summarizer over gateway.
func New(gateway llm.Gateway) *Summarizer {
	return &Summarizer{gateway: gateway}
}

// Summarize returns a possibly-shortened message list. With 2 or fewer
// messages, the input is returned unchanged. Otherwise the non-system
// messages are flattened to text, summarized with one low-temperature LLM
// call, and replaced with a single synthetic user message. On LLM failure
// the original list is returned unchanged — summarization must never fail a
// turn.
func (s *Summarizer) Summarize(ctx context.Context, messages []llm.Message) []llm.Message {
	if len(messages) <= 2 {
		return messages
	}

	var system *llm.Message
	var rest []llm.Message
	for i := range messages {
		if messages[i].Role == llm.RoleSystem && system == nil {
			m := messages[i]
			system = &m
			continue
		}
		rest = append(rest, messages[i])
	}

	var body strings.Builder
	for i, m := range rest {
		if i > 0 {
			body.WriteString("\n\n")
		}
		fmt.Fprintf(&body, "%s: %s", capitalize(string(m.Role)), m.Content)
	}

	resp, err := s.gateway.Generate(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: body.String()},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return messages
	}

	out := make([]llm.Message, 0, 2)
	if system != nil {
		out = append(out, *system)
	}
	out = append(out, llm.Message{
		Role:    llm.RoleUser,
		Content: "[Conversation Summary]\n" + resp.Content,
	})
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// EstimateTokens implements spec.md §4.4 step 1's token estimate:
// (total_chars + 10*msg_count) / 4, minimum 1.
func EstimateTokens(messages []llm.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name)
		}
	}
	estimate := (chars + 10*len(messages)) / 4
	if estimate < 1 {
		return 1
	}
	return estimate
}
