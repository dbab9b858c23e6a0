// Package transport implements the bidirectional client<->orchestrator event
// stream of spec.md §6.1 over WebSocket, grounded on win30221-genesis's
// web_channel.go connection-map-plus-upgrader pattern: one handler registers
// each live *websocket.Conn in a map and drives it with a read loop and a
// buffered write loop.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saketkr/reasoning-engine/internal/config"
	"github.com/saketkr/reasoning-engine/internal/convo"
	"github.com/saketkr/reasoning-engine/internal/events"
	"github.com/saketkr/reasoning-engine/internal/orchestrator"
	"github.com/saketkr/reasoning-engine/internal/telemetry"
)

// clientEnvelope is the wire shape of a client->server event, per spec.md
// §6.1: {event, payload}.
type clientEnvelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// serverEnvelope is the wire shape of every server->client event.
type serverEnvelope struct {
	Event   events.Kind `json:"event"`
	Payload any         `json:"payload"`
}

const (
	eventStartChat             = "start_chat"
	eventProvideClarification  = "provide_clarification"
	eventEndChat                = "end_chat"
	eventPing                  = "ping"
	eventInputAnalysis         = "input_analysis"
)

type startChatPayload struct {
	ChatID      string              `json:"chat_id"`
	Message     string              `json:"message"`
	User        *convo.UserInfo     `json:"userDTO,omitempty"`
	Attachment  []convo.Attachment  `json:"attachment,omitempty"`
}

type clarificationPayload struct {
	ChatID          string `json:"chat_id"`
	ClarificationID string `json:"clarification_id"`
	Response        string `json:"response"`
}

type endChatPayload struct {
	ChatID string `json:"chat_id"`
}

// Server upgrades incoming HTTP connections to WebSocket and drives the
// client<->orchestrator event protocol over them.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
	Sink         *RoutingSink
	Config       config.TransportConfig
	Logger       telemetry.Logger

	upgrader websocket.Upgrader

	mu          sync.Mutex
	activeConns int
}

// New builds a transport Server routing events through sink. sink must be
// the same value installed as the Orchestrator's Options.Sink, so events
// emitted during a processing pass reach the connection that owns each
// conversation — see NewRoutingSink.
func New(o *orchestrator.Orchestrator, sink *RoutingSink, cfg config.TransportConfig, logger telemetry.Logger) *Server {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	if sink == nil {
		sink = NewRoutingSink()
	}
	return &Server{
		Orchestrator: o,
		Sink:         sink,
		Config:       cfg,
		Logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler, upgrading the connection and running its
// session loop until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit := s.Config.MaxConcurrentConnections
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	if s.activeConns >= limit {
		s.mu.Unlock()
		s.rejectConnection(w, r, limit)
		return
	}
	s.activeConns++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.activeConns--
		s.mu.Unlock()
	}()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess := &session{
		server: s,
		conn:   conn,
		send:   make(chan serverEnvelope, 64),
	}
	sess.run()
}

// rejectConnection completes the upgrade handshake just far enough to send
// MAX_CONCURRENT_CONNECTIONS_EXCEEDED and close with code 4000, per spec.md
// §6.1.
func (s *Server) rejectConnection(w http.ResponseWriter, r *http.Request, limit int) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	env := serverEnvelope{Event: "ERROR", Payload: map[string]any{
		"code":    "MAX_CONCURRENT_CONNECTIONS_EXCEEDED",
		"message": fmt.Sprintf("server is at the connection limit (%d)", limit),
	}}
	data, _ := json.Marshal(env)
	_ = conn.WriteMessage(websocket.TextMessage, data)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(4000, "max concurrent connections exceeded"),
		time.Now().Add(time.Second))
}

// session drives a single upgraded connection: a read loop that decodes
// client envelopes and dispatches them to the Orchestrator, a write loop that
// serializes outbound server envelopes, and a heartbeat ticker that closes
// connections which stop answering pongs.
type session struct {
	server *Server
	conn   *websocket.Conn
	send   chan serverEnvelope

	mu             sync.Mutex
	conversationID string
	missedBeats    int
}

func (sess *session) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer sess.cleanup()

	go sess.writeLoop()
	go sess.heartbeat(ctx)
	sess.readLoop()
}

func (sess *session) cleanup() {
	sess.mu.Lock()
	id := sess.conversationID
	sess.mu.Unlock()
	if id != "" {
		sess.server.Sink.Unregister(id, sess.send)
	}
	close(sess.send)
	_ = sess.conn.Close()
}

func (sess *session) readLoop() {
	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		var env clientEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			sess.emitError("", "INVALID_PAYLOAD", "malformed envelope")
			continue
		}

		if err := sess.dispatch(env); err != nil {
			if pe, ok := err.(*payloadError); ok {
				sess.emitError(env.Event, pe.code, pe.message)
				continue
			}
			sess.emitError(env.Event, "INTERNAL_ERROR", err.Error())
		}
	}
}

type payloadError struct {
	code    string
	message string
}

func (e *payloadError) Error() string { return e.message }

func missingField(field string) *payloadError {
	return &payloadError{code: "INVALID_PAYLOAD", message: fmt.Sprintf("missing required field %q", field)}
}

func (sess *session) dispatch(env clientEnvelope) error {
	ctx := context.Background()

	switch env.Event {
	case eventPing:
		sess.send <- serverEnvelope{Event: "pong", Payload: map[string]any{}}
		return nil

	case eventStartChat, eventInputAnalysis:
		var p startChatPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return &payloadError{code: "INVALID_PAYLOAD", message: err.Error()}
		}
		if p.ChatID == "" {
			return missingField("chat_id")
		}
		if p.Message == "" {
			return missingField("message")
		}
		sess.bindConversation(p.ChatID)
		return sess.server.Orchestrator.StartConversation(ctx, p.ChatID, p.Message, p.User, p.Attachment)

	case eventProvideClarification:
		var p clarificationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return &payloadError{code: "INVALID_PAYLOAD", message: err.Error()}
		}
		if p.ChatID == "" {
			return missingField("chat_id")
		}
		if p.ClarificationID == "" {
			return missingField("clarification_id")
		}
		if p.Response == "" {
			return missingField("response")
		}
		sess.bindConversation(p.ChatID)
		return sess.server.Orchestrator.HandleClarificationResponse(ctx, p.ChatID, p.ClarificationID, p.Response)

	case eventEndChat:
		var p endChatPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return &payloadError{code: "INVALID_PAYLOAD", message: err.Error()}
		}
		if p.ChatID == "" {
			return missingField("chat_id")
		}
		if err := sess.server.Orchestrator.EndConversation(ctx, p.ChatID); err != nil {
			return err
		}
		sess.send <- serverEnvelope{Event: events.KindChatEnded, Payload: map[string]any{"chat_id": p.ChatID}}
		return nil

	default:
		return &payloadError{code: "UNKNOWN_EVENT", message: fmt.Sprintf("unknown event %q", env.Event)}
	}
}

// bindConversation registers this session's send channel with the routing
// sink the first time a chat_id is seen, so the Orchestrator's single
// process-wide Sink can reach this connection.
func (sess *session) bindConversation(id string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.conversationID == id {
		return
	}
	if sess.conversationID != "" {
		sess.server.Sink.Unregister(sess.conversationID, sess.send)
	}
	sess.conversationID = id
	sess.server.Sink.Register(id, sess.send)
}

func (sess *session) emitError(event, code, message string) {
	select {
	case sess.send <- serverEnvelope{Event: events.KindError, Payload: map[string]any{
		"event":   event,
		"code":    code,
		"message": message,
	}}:
	default:
	}
}

func (sess *session) writeLoop() {
	for env := range sess.send {
		data, err := json.Marshal(env)
		if err != nil {
			continue
		}
		_ = sess.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// heartbeat pings the client on the configured interval and closes the
// connection once heartbeat_max_missed consecutive pongs are missed,
// supplementing spec.md's ping/pong event with the missed-heartbeat
// detail original_source's api/websocket/connection.py tracks.
func (sess *session) heartbeat(ctx context.Context) {
	interval := time.Duration(sess.server.Config.HeartbeatIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	maxMissed := sess.server.Config.HeartbeatMaxMissed
	if maxMissed <= 0 {
		maxMissed = 3
	}

	sess.conn.SetPongHandler(func(string) error {
		sess.mu.Lock()
		sess.missedBeats = 0
		sess.mu.Unlock()
		return nil
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sess.mu.Lock()
			sess.missedBeats++
			missed := sess.missedBeats
			sess.mu.Unlock()
			if missed > maxMissed {
				_ = sess.conn.Close()
				return
			}
			_ = sess.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// RoutingSink implements events.Sink by routing each event to the send
// channel(s) registered for its ConversationID, since the Orchestrator holds
// a single process-wide Sink shared by every conversation. Construct one with
// NewRoutingSink, install it as both orchestrator.Options.Sink and the
// transport.Server's sink, so a conversation's events reach the connection
// that owns it.
type RoutingSink struct {
	mu    sync.Mutex
	chans map[string][]chan serverEnvelope
}

// NewRoutingSink returns an empty RoutingSink.
func NewRoutingSink() *RoutingSink {
	return &RoutingSink{chans: make(map[string][]chan serverEnvelope)}
}

// Register associates conversationID with a session's send channel.
func (r *RoutingSink) Register(conversationID string, ch chan serverEnvelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chans[conversationID] = append(r.chans[conversationID], ch)
}

// Unregister removes a previously registered send channel.
func (r *RoutingSink) Unregister(conversationID string, ch chan serverEnvelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.chans[conversationID]
	for i, c := range subs {
		if c == ch {
			r.chans[conversationID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(r.chans[conversationID]) == 0 {
		delete(r.chans, conversationID)
	}
}

// Emit implements events.Sink.
func (r *RoutingSink) Emit(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	subs := append([]chan serverEnvelope(nil), r.chans[ev.ConversationID]...)
	r.mu.Unlock()

	env := serverEnvelope{Event: ev.Kind, Payload: ev.Payload}
	for _, ch := range subs {
		select {
		case ch <- env:
		default:
		}
	}
	return nil
}
