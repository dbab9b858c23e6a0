// Package events defines the exhaustive event-kind enumeration the
// Orchestrator, Planner, and validation stages emit through, plus the Sink
// capability contract. Sinks are stateless, fire-and-forget, and per-turn
// single-writer; a failure to emit is logged by the caller and otherwise
// ignored (it never aborts processing).
package events

import (
	"context"
	"sync"
	"time"
)

// Kind enumerates every event kind the core emits. This list is exhaustive
// per spec.md §4.9.
type Kind string

const (
	KindProcessingStarted       Kind = "PROCESSING_STARTED"
	KindStreamResponse          Kind = "STREAM_RESPONSE"
	KindThinkApproach           Kind = "THINK_APPROACH"
	KindFinalAnswer             Kind = "FINAL_ANSWER"
	KindClarificationRequested  Kind = "CLARIFICATION_REQUESTED"
	KindClarificationReceived   Kind = "CLARIFICATION_RECEIVED"
	KindWebSearchStarted        Kind = "WEB_SEARCH_STARTED"
	KindWebSearchResults        Kind = "WEB_SEARCH_RESULTS"
	KindTaskBlockSearchStarted  Kind = "TASK_BLOCK_SEARCH_STARTED"
	KindTaskBlockSearchResults  Kind = "TASK_BLOCK_SEARCH_RESULTS"
	KindValidatorProgressUpdate Kind = "VALIDATOR_PROGRESS_UPDATE"
	KindWorkflowJSON            Kind = "OPKEY_WORKFLOW_JSON"
	KindReferencingStarted      Kind = "REFERENCING_STARTED"
	KindQueryRefinementStarted  Kind = "QUERY_REFINEMENT_STARTED"
	KindQueryRefinementComplete Kind = "QUERY_REFINEMENT_COMPLETED"
	KindChatEnded               Kind = "CHAT_ENDED"
	KindError                   Kind = "ERROR"
)

// Event is a single emitted occurrence, always scoped to a conversation id
// and, when meaningful, a message id.
type Event struct {
	Kind           Kind      `json:"event"`
	ConversationID string    `json:"chat_id"`
	MessageID      string    `json:"message_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	Payload        any       `json:"payload"`
}

// Sink emits events. Implementations must not block the caller for long and
// must not panic; Emit errors are logged by callers and swallowed.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// NoopSink discards every event. Useful for tests and for planners/pipelines
// invoked outside the full orchestrator.
type NoopSink struct{}

// Emit implements Sink by discarding ev.
func (NoopSink) Emit(context.Context, Event) error { return nil }

// ChannelSink fans events out to a single subscriber channel, matching the
// convention of one event sink per in-flight turn with a single writer.
// Events are dropped (not blocked on) if the channel's buffer is full, since
// the sink contract is explicitly fire-and-forget.
type ChannelSink struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the channel events are published to.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// Emit publishes ev, dropping it silently if the channel is full or closed.
func (s *ChannelSink) Emit(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- ev:
	default:
	}
	return nil
}

// Close closes the underlying channel. Safe to call at most once.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	close(s.ch)
}

// RecordingSink accumulates every emitted event in order. Intended for tests
// that assert on event sequences.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
}

// Emit records ev.
func (s *RecordingSink) Emit(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a snapshot of recorded events in emission order.
func (s *RecordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
