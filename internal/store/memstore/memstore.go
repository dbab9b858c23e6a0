// Package memstore provides an in-memory implementation of store.Store. It is
// intended for tests and local development; production deployments should use
// redisstore. TTL is tracked but only enforced lazily, on access.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saketkr/reasoning-engine/internal/convo"
	"github.com/saketkr/reasoning-engine/internal/store"
)

type conversationRecord struct {
	history       []convo.Message
	state         *convo.State
	hasState      bool
	draft         string
	clarifyReq    map[string][]string
	clarifyResp   map[string]string
	events        []store.StoredEvent
	expiresAt     time.Time
}

// Store is an in-memory, mutex-guarded store.Store implementation safe for
// concurrent use.
type Store struct {
	mu    sync.Mutex
	ttl   time.Duration
	convs map[string]*conversationRecord
}

// New returns an empty Store with the given TTL (store.DefaultTTL if zero).
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = store.DefaultTTL
	}
	return &Store{ttl: ttl, convs: make(map[string]*conversationRecord)}
}

func (s *Store) getOrCreate(id string) *conversationRecord {
	rec, ok := s.convs[id]
	if !ok || s.expired(rec) {
		rec = &conversationRecord{
			clarifyReq:  make(map[string][]string),
			clarifyResp: make(map[string]string),
		}
		s.convs[id] = rec
	}
	s.touch(rec)
	return rec
}

func (s *Store) expired(rec *conversationRecord) bool {
	return !rec.expiresAt.IsZero() && time.Now().After(rec.expiresAt)
}

func (s *Store) touch(rec *conversationRecord) {
	rec.expiresAt = time.Now().Add(s.ttl)
}

// AppendMessage implements store.Store.
func (s *Store) AppendMessage(_ context.Context, conversationID string, msg convo.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.getOrCreate(conversationID)
	rec.history = append(rec.history, msg)
	return nil
}

// GetHistory implements store.Store.
func (s *Store) GetHistory(_ context.Context, conversationID string, maxN int) ([]convo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.convs[conversationID]
	if !ok || s.expired(rec) {
		return nil, nil
	}
	s.touch(rec)
	hist := rec.history
	if maxN > 0 && len(hist) > maxN {
		hist = hist[len(hist)-maxN:]
	}
	out := make([]convo.Message, len(hist))
	copy(out, hist)
	return out, nil
}

// PutState implements store.Store.
func (s *Store) PutState(_ context.Context, state convo.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.getOrCreate(state.ConversationID)
	st := state
	rec.state = &st
	rec.hasState = true
	return nil
}

// GetState implements store.Store.
func (s *Store) GetState(_ context.Context, conversationID string) (convo.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.convs[conversationID]
	if !ok || s.expired(rec) || !rec.hasState {
		return convo.State{}, store.ErrNotFound
	}
	s.touch(rec)
	return *rec.state, nil
}

// PutDraft implements store.Store.
func (s *Store) PutDraft(_ context.Context, conversationID string, draft string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.getOrCreate(conversationID)
	rec.draft = draft
	return nil
}

// GetDraft implements store.Store.
func (s *Store) GetDraft(_ context.Context, conversationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.convs[conversationID]
	if !ok || s.expired(rec) {
		return "", nil
	}
	s.touch(rec)
	return rec.draft, nil
}

// SaveClarificationRequest implements store.Store.
func (s *Store) SaveClarificationRequest(_ context.Context, conversationID, clarificationID string, questions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.getOrCreate(conversationID)
	cp := make([]string, len(questions))
	copy(cp, questions)
	rec.clarifyReq[clarificationID] = cp
	return nil
}

// SaveClarificationResponse implements store.Store.
func (s *Store) SaveClarificationResponse(_ context.Context, conversationID, clarificationID, response string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.getOrCreate(conversationID)
	rec.clarifyResp[clarificationID] = response
	return nil
}

// GetClarificationResponse implements store.Store.
func (s *Store) GetClarificationResponse(_ context.Context, conversationID, clarificationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.convs[conversationID]
	if !ok || s.expired(rec) {
		return "", store.ErrNotFound
	}
	resp, ok := rec.clarifyResp[clarificationID]
	if !ok {
		return "", store.ErrNotFound
	}
	s.touch(rec)
	return resp, nil
}

// AppendEvent implements store.Store.
func (s *Store) AppendEvent(_ context.Context, conversationID string, eventType string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.getOrCreate(conversationID)
	id := uuid.NewString()
	rec.events = append(rec.events, store.StoredEvent{ID: id, Type: eventType, Payload: payload})
	return id, nil
}

// ReadEventsSince implements store.Store.
func (s *Store) ReadEventsSince(_ context.Context, conversationID string, afterID string) ([]store.StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.convs[conversationID]
	if !ok || s.expired(rec) {
		return nil, nil
	}
	if afterID == "" {
		out := make([]store.StoredEvent, len(rec.events))
		copy(out, rec.events)
		return out, nil
	}
	idx := -1
	for i, ev := range rec.events {
		if ev.ID == afterID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, nil
	}
	out := make([]store.StoredEvent, len(rec.events)-idx-1)
	copy(out, rec.events[idx+1:])
	return out, nil
}

// ExtendTTL implements store.Store.
func (s *Store) ExtendTTL(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.convs[conversationID]
	if !ok || s.expired(rec) {
		return nil
	}
	s.touch(rec)
	return nil
}

// DeleteConversation implements store.Store.
func (s *Store) DeleteConversation(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, conversationID)
	return nil
}

// Exists implements store.Store.
func (s *Store) Exists(_ context.Context, conversationID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.convs[conversationID]
	if !ok || s.expired(rec) {
		return false, nil
	}
	return rec.hasState, nil
}
