// Package redisstore implements store.Store backed by Redis, using the
// bit-exact key layout from spec.md §6: conv:{id}:history (list),
// conv:{id}:state (string), conv:{id}:draft (string),
// clarify:{conv}:{clarify}:request / :response (strings), and events:{id}
// (stream). AppendMessage pushes the message and refreshes the TTL of the
// conversation's history, state, draft and events keys in one transaction;
// the other writes set or refresh the TTL of the single key they write.
// Clarification keys carry their own TTL and are not refreshed or deleted by
// AppendMessage, ExtendTTL or DeleteConversation.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saketkr/reasoning-engine/internal/convo"
	"github.com/saketkr/reasoning-engine/internal/store"
)

type (
	// Options configures the Redis-backed store.
	Options struct {
		// Redis is the connection used for all operations. Required.
		Redis *redis.Client
		// TTL is the uniform TTL applied to every key. Defaults to
		// store.DefaultTTL when zero.
		TTL time.Duration
	}

	// Store is a store.Store implementation backed by Redis.
	Store struct {
		rdb *redis.Client
		ttl time.Duration
	}
)

// New constructs a Redis-backed Store. Returns an error if opts.Redis is nil.
func New(opts Options) (*Store, error) {
	if opts.Redis == nil {
		return nil, errors.New("redisstore: redis client is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = store.DefaultTTL
	}
	return &Store{rdb: opts.Redis, ttl: ttl}, nil
}

func historyKey(id string) string { return fmt.Sprintf("conv:%s:history", id) }
func stateKey(id string) string   { return fmt.Sprintf("conv:%s:state", id) }
func draftKey(id string) string   { return fmt.Sprintf("conv:%s:draft", id) }
func clarifyRequestKey(conv, clarify string) string {
	return fmt.Sprintf("clarify:%s:%s:request", conv, clarify)
}
func clarifyResponseKey(conv, clarify string) string {
	return fmt.Sprintf("clarify:%s:%s:response", conv, clarify)
}
func eventsKey(id string) string { return fmt.Sprintf("events:%s", id) }

// conversationKeys lists a conversation's history, state and draft keys, used
// by AppendMessage, ExtendTTL and DeleteConversation, which add the events key
// themselves. Clarification keys are not included.
func conversationKeys(id string) []string {
	return []string{historyKey(id), stateKey(id), draftKey(id)}
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &store.Failure{Op: op, Cause: err}
}

// AppendMessage implements store.Store.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg convo.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return wrap("append_message", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, historyKey(conversationID), data)
	for _, k := range conversationKeys(conversationID) {
		pipe.Expire(ctx, k, s.ttl)
	}
	pipe.Expire(ctx, eventsKey(conversationID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("append_message", err)
	}
	return nil
}

// GetHistory implements store.Store.
func (s *Store) GetHistory(ctx context.Context, conversationID string, maxN int) ([]convo.Message, error) {
	key := historyKey(conversationID)
	start := int64(0)
	if maxN > 0 {
		start = -int64(maxN)
	}
	raws, err := s.rdb.LRange(ctx, key, start, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, wrap("get_history", err)
	}
	if len(raws) == 0 {
		return nil, nil
	}
	out := make([]convo.Message, 0, len(raws))
	for _, raw := range raws {
		var m convo.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, wrap("get_history", err)
		}
		out = append(out, m)
	}
	if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
		return nil, wrap("get_history", err)
	}
	return out, nil
}

// PutState implements store.Store.
func (s *Store) PutState(ctx context.Context, state convo.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return wrap("put_state", err)
	}
	if err := s.rdb.Set(ctx, stateKey(state.ConversationID), data, s.ttl).Err(); err != nil {
		return wrap("put_state", err)
	}
	return nil
}

// GetState implements store.Store.
func (s *Store) GetState(ctx context.Context, conversationID string) (convo.State, error) {
	raw, err := s.rdb.Get(ctx, stateKey(conversationID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return convo.State{}, store.ErrNotFound
		}
		return convo.State{}, wrap("get_state", err)
	}
	var st convo.State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return convo.State{}, wrap("get_state", err)
	}
	if err := s.rdb.Expire(ctx, stateKey(conversationID), s.ttl).Err(); err != nil {
		return convo.State{}, wrap("get_state", err)
	}
	return st, nil
}

// PutDraft implements store.Store.
func (s *Store) PutDraft(ctx context.Context, conversationID string, draft string) error {
	if err := s.rdb.Set(ctx, draftKey(conversationID), draft, s.ttl).Err(); err != nil {
		return wrap("put_draft", err)
	}
	return nil
}

// GetDraft implements store.Store.
func (s *Store) GetDraft(ctx context.Context, conversationID string) (string, error) {
	v, err := s.rdb.Get(ctx, draftKey(conversationID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", wrap("get_draft", err)
	}
	return v, nil
}

// SaveClarificationRequest implements store.Store.
func (s *Store) SaveClarificationRequest(ctx context.Context, conversationID, clarificationID string, questions []string) error {
	data, err := json.Marshal(questions)
	if err != nil {
		return wrap("save_clarification_request", err)
	}
	if err := s.rdb.Set(ctx, clarifyRequestKey(conversationID, clarificationID), data, s.ttl).Err(); err != nil {
		return wrap("save_clarification_request", err)
	}
	return nil
}

// SaveClarificationResponse implements store.Store.
func (s *Store) SaveClarificationResponse(ctx context.Context, conversationID, clarificationID, response string) error {
	if err := s.rdb.Set(ctx, clarifyResponseKey(conversationID, clarificationID), response, s.ttl).Err(); err != nil {
		return wrap("save_clarification_response", err)
	}
	return nil
}

// GetClarificationResponse implements store.Store.
func (s *Store) GetClarificationResponse(ctx context.Context, conversationID, clarificationID string) (string, error) {
	v, err := s.rdb.Get(ctx, clarifyResponseKey(conversationID, clarificationID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", store.ErrNotFound
		}
		return "", wrap("get_clarification_response", err)
	}
	return v, nil
}

// AppendEvent implements store.Store.
func (s *Store) AppendEvent(ctx context.Context, conversationID string, eventType string, payload []byte) (string, error) {
	key := eventsKey(conversationID)
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		Values: map[string]any{"type": eventType, "payload": payload},
	}).Result()
	if err != nil {
		return "", wrap("append_event", err)
	}
	if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
		return "", wrap("append_event", err)
	}
	return id, nil
}

// ReadEventsSince implements store.Store.
func (s *Store) ReadEventsSince(ctx context.Context, conversationID string, afterID string) ([]store.StoredEvent, error) {
	start := "-"
	if afterID != "" {
		start = "(" + afterID
	}
	msgs, err := s.rdb.XRange(ctx, eventsKey(conversationID), start, "+").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, wrap("read_events_since", err)
	}
	out := make([]store.StoredEvent, 0, len(msgs))
	for _, m := range msgs {
		evType, _ := m.Values["type"].(string)
		var payload []byte
		if raw, ok := m.Values["payload"].(string); ok {
			payload = []byte(raw)
		}
		out = append(out, store.StoredEvent{ID: m.ID, Type: evType, Payload: payload})
	}
	return out, nil
}

// ExtendTTL implements store.Store.
func (s *Store) ExtendTTL(ctx context.Context, conversationID string) error {
	pipe := s.rdb.Pipeline()
	for _, k := range conversationKeys(conversationID) {
		pipe.Expire(ctx, k, s.ttl)
	}
	pipe.Expire(ctx, eventsKey(conversationID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrap("extend_ttl", err)
	}
	return nil
}

// DeleteConversation implements store.Store.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	keys := append(conversationKeys(conversationID), eventsKey(conversationID))
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return wrap("delete_conversation", err)
	}
	return nil
}

// Exists implements store.Store.
func (s *Store) Exists(ctx context.Context, conversationID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, stateKey(conversationID)).Result()
	if err != nil {
		return false, wrap("exists", err)
	}
	return n > 0, nil
}
