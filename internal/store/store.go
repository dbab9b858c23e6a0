// Package store defines the Conversation Store capability: keyed persistence
// of chat history, state, drafts, clarification requests/responses, and an
// append-only event stream, with TTL-extending semantics on every read and
// write. Concrete drivers live in subpackages (memstore for tests/local dev,
// redisstore for the Redis-compatible production layout of spec.md §6).
package store

import (
	"context"
	"time"

	"github.com/saketkr/reasoning-engine/internal/convo"
)

// DefaultTTL is the uniform TTL policy applied across all keys belonging to a
// conversation, refreshed on every touch.
const DefaultTTL = 24 * time.Hour

// StoredEvent is one append-only entry in a conversation's event stream.
type StoredEvent struct {
	ID      string
	Type    string
	Payload []byte
}

// Store is the Conversation Store capability. Every operation may fail with a
// driver-specific error; callers wrap failures as errs.StorageFailure before
// surfacing them.
type Store interface {
	// AppendMessage atomically appends msg to the conversation's history and
	// extends TTL on all of the conversation's keys.
	AppendMessage(ctx context.Context, conversationID string, msg convo.Message) error

	// GetHistory returns the most recent maxN messages in chronological
	// order (maxN <= 0 means "all"). Returns an empty slice, not an error, if
	// the conversation is absent or expired. Extends TTL when found.
	GetHistory(ctx context.Context, conversationID string, maxN int) ([]convo.Message, error)

	// PutState overwrites the state record for conversationID and extends TTL.
	PutState(ctx context.Context, state convo.State) error

	// GetState returns the state record, or ErrNotFound if expired/absent.
	// Extends TTL when found.
	GetState(ctx context.Context, conversationID string) (convo.State, error)

	// PutDraft overwrites the single-slot draft scratch value.
	PutDraft(ctx context.Context, conversationID string, draft string) error

	// GetDraft returns the draft scratch value, or "" if absent.
	GetDraft(ctx context.Context, conversationID string) (string, error)

	// SaveClarificationRequest persists the question set for a newly raised
	// clarification, keyed by (conversationID, clarificationID).
	SaveClarificationRequest(ctx context.Context, conversationID, clarificationID string, questions []string) error

	// SaveClarificationResponse persists the client-supplied response text for
	// a pending clarification.
	SaveClarificationResponse(ctx context.Context, conversationID, clarificationID, response string) error

	// GetClarificationResponse returns the stored response text, or
	// ErrNotFound if no response has been recorded yet.
	GetClarificationResponse(ctx context.Context, conversationID, clarificationID string) (string, error)

	// AppendEvent appends an entry to the conversation's totally-ordered
	// event stream.
	AppendEvent(ctx context.Context, conversationID string, eventType string, payload []byte) (eventID string, err error)

	// ReadEventsSince returns events strictly after afterID (afterID == ""
	// means "from the beginning").
	ReadEventsSince(ctx context.Context, conversationID string, afterID string) ([]StoredEvent, error)

	// ExtendTTL refreshes TTL on every key belonging to conversationID in one
	// batch.
	ExtendTTL(ctx context.Context, conversationID string) error

	// DeleteConversation removes every key for conversationID.
	DeleteConversation(ctx context.Context, conversationID string) error

	// Exists reports whether a (non-expired) state record exists for
	// conversationID.
	Exists(ctx context.Context, conversationID string) (bool, error)
}

// ErrNotFound is returned by GetState/GetClarificationResponse when the
// requested key is absent or has expired.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "store: not found" }

// Failure wraps a driver-level error with the operation name that failed.
// Orchestrators translate Failure into errs.StorageFailure before surfacing
// it to clients.
type Failure struct {
	Op    string
	Cause error
}

func (e *Failure) Error() string { return "store: " + e.Op + ": " + e.Cause.Error() }
func (e *Failure) Unwrap() error { return e.Cause }
