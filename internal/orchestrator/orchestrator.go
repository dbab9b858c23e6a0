// Package orchestrator implements the public entry point of spec.md §4.5:
// the conversation lifecycle state machine that wires the Conversation
// Store, Planner, Validation Pipeline, and Referencing Agent, handles the
// clarification rendezvous, and traps errors into the client-facing
// mapping of spec.md §7.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/saketkr/reasoning-engine/internal/convo"
	"github.com/saketkr/reasoning-engine/internal/errs"
	"github.com/saketkr/reasoning-engine/internal/events"
	"github.com/saketkr/reasoning-engine/internal/fewshot"
	"github.com/saketkr/reasoning-engine/internal/jobname"
	"github.com/saketkr/reasoning-engine/internal/llm"
	"github.com/saketkr/reasoning-engine/internal/planner"
	"github.com/saketkr/reasoning-engine/internal/preprocess"
	"github.com/saketkr/reasoning-engine/internal/prompts"
	"github.com/saketkr/reasoning-engine/internal/referencing"
	"github.com/saketkr/reasoning-engine/internal/store"
	"github.com/saketkr/reasoning-engine/internal/summarizer"
	"github.com/saketkr/reasoning-engine/internal/telemetry"
	"github.com/saketkr/reasoning-engine/internal/tools"
	"github.com/saketkr/reasoning-engine/internal/validation"
	"github.com/saketkr/reasoning-engine/internal/workflow"
)

// Options wires every collaborator the Orchestrator needs. This is the
// explicit Services value spec.md §9 calls for in place of a process-wide
// singleton container — constructed once at server start and passed here
// rather than reached for globally.
type Options struct {
	Store         store.Store
	Gateway       llm.Gateway
	Registry      *tools.Registry
	ToolDefs      []llm.ToolDefinition
	Summarizer    *summarizer.Summarizer // optional; nil disables mid-turn summarization
	Pipeline      validation.Pipeline
	Referencing   *referencing.Agent     // optional; nil disables §4.7 step
	Preprocessor  preprocess.Preprocessor // optional; nil = passthrough
	FewShot       *fewshot.Loader
	JobNames      jobname.Generator
	Prompts       *prompts.Store
	Sink          events.Sink
	Logger        telemetry.Logger
	Tracer        telemetry.Tracer  // optional; nil = no-op
	Metrics       telemetry.Metrics // optional; nil = no-op
	MaxIterations int
	TokenLimit    int
}

// Orchestrator drives conversations through the state machine of spec.md
// §4.5. Per-conversation processing is serialized via a map of per-key
// mutexes guarded by a single lock (not sharded); across conversations,
// calls run in parallel.
type Orchestrator struct {
	opts Options

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds an Orchestrator from opts.
func New(opts Options) *Orchestrator {
	if opts.Sink == nil {
		opts.Sink = events.NoopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NoopLogger{}
	}
	if opts.Preprocessor == nil {
		opts.Preprocessor = preprocess.Passthrough{}
	}
	if opts.JobNames == nil {
		opts.JobNames = jobname.NewRegexGenerator()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NoopTracer{}
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NoopMetrics{}
	}
	return &Orchestrator{opts: opts, locks: make(map[string]*sync.Mutex)}
}

func (o *Orchestrator) lockFor(conversationID string) *sync.Mutex {
	o.locksMu.Lock()
	defer o.locksMu.Unlock()
	l, ok := o.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[conversationID] = l
	}
	return l
}

// StartConversation begins a new conversation (spec.md §4.5
// start_conversation). Fails if id is empty.
func (o *Orchestrator) StartConversation(ctx context.Context, id, initialMessage string, user *convo.UserInfo, attachments []convo.Attachment) error {
	if id == "" {
		return fmt.Errorf("orchestrator: conversation id is required")
	}

	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	state := convo.State{
		ConversationID: id,
		Status:         convo.StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
		User:           user,
	}
	if err := o.opts.Store.PutState(ctx, state); err != nil {
		return &errs.StorageFailure{Op: "put_state", Cause: err}
	}

	msg := convo.NewMessage(convo.RoleUser, initialMessage, now)
	msg.Attachments = attachments
	if err := o.opts.Store.AppendMessage(ctx, id, msg); err != nil {
		return &errs.StorageFailure{Op: "append_message", Cause: err}
	}

	o.emit(ctx, id, events.KindProcessingStarted, nil)
	o.runProcessingPass(ctx, id, &state)
	return nil
}

// HandleClarificationResponse implements spec.md §4.5
// handle_clarification_response.
func (o *Orchestrator) HandleClarificationResponse(ctx context.Context, id, clarificationID, response string) error {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	state, err := o.opts.Store.GetState(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return &errs.ConversationNotFound{ConversationID: id}
		}
		return &errs.StorageFailure{Op: "get_state", Cause: err}
	}

	if state.PendingClarification == nil || state.PendingClarification.ID != clarificationID {
		return fmt.Errorf("orchestrator: no matching pending clarification for id %q", clarificationID)
	}

	now := time.Now()
	if err := o.opts.Store.SaveClarificationResponse(ctx, id, clarificationID, response); err != nil {
		return &errs.StorageFailure{Op: "save_clarification_response", Cause: err}
	}

	state.PendingClarification.ResponseText = &response
	state.PendingClarification.RespondedAt = &now
	state.Status = convo.StatusActive
	state.UpdatedAt = now
	if err := o.opts.Store.PutState(ctx, state); err != nil {
		return &errs.StorageFailure{Op: "put_state", Cause: err}
	}

	msg := convo.NewMessage(convo.RoleUser, "[Clarification Response]\n"+response, now)
	if err := o.opts.Store.AppendMessage(ctx, id, msg); err != nil {
		return &errs.StorageFailure{Op: "append_message", Cause: err}
	}

	o.emit(ctx, id, events.KindClarificationReceived, map[string]any{"clarification_id": clarificationID})
	o.runProcessingPass(ctx, id, &state)
	return nil
}

// EndConversation transitions the conversation to COMPLETED. Idempotent.
func (o *Orchestrator) EndConversation(ctx context.Context, id string) error {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	state, err := o.opts.Store.GetState(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return &errs.StorageFailure{Op: "get_state", Cause: err}
	}
	if state.Status == convo.StatusCompleted {
		return nil
	}
	state.Status = convo.StatusCompleted
	state.UpdatedAt = time.Now()
	if err := o.opts.Store.PutState(ctx, state); err != nil {
		return &errs.StorageFailure{Op: "put_state", Cause: err}
	}
	return nil
}

// runProcessingPass implements spec.md §4.5's numbered processing pass.
// Errors are trapped internally: state is set to ERROR and an ERROR event
// emitted with a mapped client-facing code, per spec.md §7 policy.
func (o *Orchestrator) runProcessingPass(ctx context.Context, id string, state *convo.State) {
	ctx, span := o.opts.Tracer.Start(ctx, "orchestrator.processing_pass")
	defer span.End()
	started := time.Now()
	o.opts.Metrics.IncCounter("orchestrator.processing_pass.started", 1, "conversation_id", id)
	defer func() {
		o.opts.Metrics.RecordTimer("orchestrator.processing_pass.duration_ms", float64(time.Since(started).Milliseconds()))
	}()

	history, err := o.opts.Store.GetHistory(ctx, id, 0)
	if err != nil {
		o.fail(ctx, id, state, &errs.StorageFailure{Op: "get_history", Cause: err})
		return
	}

	if len(history) > 0 {
		lastIdx := -1
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role == convo.RoleUser {
				lastIdx = i
				break
			}
		}
		if lastIdx >= 0 {
			refined, err := o.opts.Preprocessor.Preprocess(ctx, history[lastIdx].Content, history[:lastIdx], state.User)
			if err == nil {
				history[lastIdx].Content = refined
			}
		}
	}

	examples := o.opts.FewShot
	var examplesText string
	if examples != nil {
		examplesText = fewshot.Format(examples.Load(ctx))
	}

	systemPrompt, err := o.opts.Prompts.Render(prompts.SystemPlanner, map[string]any{
		"Domain":          "enterprise workflow automation",
		"FewShotExamples": examplesText,
	})
	if err != nil {
		o.fail(ctx, id, state, err)
		return
	}

	p := planner.New(planner.Options{
		Gateway:        o.opts.Gateway,
		Registry:       o.opts.Registry,
		Summarizer:     o.opts.Summarizer,
		Sink:           o.opts.Sink,
		MaxIterations:  o.opts.MaxIterations,
		TokenLimit:     o.opts.TokenLimit,
		ConversationID: id,
	})

	outcome, err := p.Run(ctx, systemPrompt, planner.ToLLMMessages(history), o.opts.ToolDefs)
	if err != nil {
		o.fail(ctx, id, state, &errs.LLMProviderFailure{Provider: "planner", Cause: err})
		return
	}

	now := time.Now()

	switch outcome.Kind {
	case planner.OutcomeClarificationNeeded:
		state.Status = convo.StatusAwaitingClarification
		state.PendingClarification = &convo.PendingClarification{
			ID:        outcome.Clarification.ID,
			Questions: outcome.Clarification.Questions,
			CreatedAt: now,
		}
		state.UpdatedAt = now
		if err := o.opts.Store.PutState(ctx, *state); err != nil {
			o.fail(ctx, id, state, &errs.StorageFailure{Op: "put_state", Cause: err})
			return
		}
		if err := o.opts.Store.SaveClarificationRequest(ctx, id, outcome.Clarification.ID, outcome.Clarification.Questions); err != nil {
			o.fail(ctx, id, state, &errs.StorageFailure{Op: "save_clarification_request", Cause: err})
			return
		}
		o.emit(ctx, id, events.KindClarificationRequested, map[string]any{
			"clarification_id": outcome.Clarification.ID,
			"questions":         outcome.Clarification.Questions,
		})
		return

	default:
		assistantMsg := convo.NewMessage(convo.RoleAssistant, outcome.Text, now)
		if err := o.opts.Store.AppendMessage(ctx, id, assistantMsg); err != nil {
			o.fail(ctx, id, state, &errs.StorageFailure{Op: "append_message", Cause: err})
			return
		}

		if outcome.Kind == planner.OutcomeWorkflowProduced {
			o.finalizeWorkflow(ctx, id, state, history, outcome.Workflow)
			return
		}

		state.Status = convo.StatusCompleted
		state.UpdatedAt = now
		if err := o.opts.Store.PutState(ctx, *state); err != nil {
			o.fail(ctx, id, state, &errs.StorageFailure{Op: "put_state", Cause: err})
		}
	}
}

// finalizeWorkflow implements spec.md §4.5 step 7 / §4.7-§4.8: run the
// validation pipeline, then the referencing agent, then emit.
func (o *Orchestrator) finalizeWorkflow(ctx context.Context, id string, state *convo.State, history []convo.Message, w *workflow.Workflow) {
	vctx := validation.Context{ConversationID: id, UserQuery: lastUserMessage(history)}

	result, err := o.opts.Pipeline.Run(ctx, w, vctx)
	if err != nil {
		o.fail(ctx, id, state, &errs.ValidationFailure{Reason: err.Error()})
		return
	}
	if result.HasErrors() {
		o.fail(ctx, id, state, &errs.ValidationFailure{Reason: fmt.Sprintf("%v", result.Errors)})
		return
	}

	final := result.CorrectedWorkflow
	if final == nil {
		final = w
	}

	if o.opts.Referencing != nil {
		final = o.opts.Referencing.Fill(ctx, id, history, final)
	}

	final.JobName = o.opts.JobNames.Generate(ctx, final, vctx.UserQuery)

	now := time.Now()
	state.Status = convo.StatusCompleted
	state.UpdatedAt = now
	if err := o.opts.Store.PutState(ctx, *state); err != nil {
		o.fail(ctx, id, state, &errs.StorageFailure{Op: "put_state", Cause: err})
		return
	}

	o.emit(ctx, id, events.KindWorkflowJSON, final)
}

func lastUserMessage(history []convo.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == convo.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

func (o *Orchestrator) fail(ctx context.Context, id string, state *convo.State, err error) {
	o.opts.Logger.Error(ctx, "orchestrator: processing pass failed", "conversation_id", id, "error", err)

	state.Status = convo.StatusError
	state.UpdatedAt = time.Now()
	_ = o.opts.Store.PutState(ctx, *state)

	code, message := errs.ClientMessage(err)
	o.opts.Metrics.IncCounter("orchestrator.processing_pass.failed", 1, "code", code)
	o.emit(ctx, id, events.KindError, map[string]any{"code": code, "message": message})
}

// emit publishes an event to the live subscriber Sink and, best-effort,
// appends it to the durable per-conversation event stream (spec.md §4.1) so a
// client that reconnects mid-turn can replay via ReadEventsSince. A store
// append failure is logged but never fails the turn — the Sink delivery is
// what the active connection actually observes.
func (o *Orchestrator) emit(ctx context.Context, id string, kind events.Kind, payload any) {
	evt := events.Event{Kind: kind, ConversationID: id, Timestamp: time.Now(), Payload: payload}
	if err := o.opts.Sink.Emit(ctx, evt); err != nil {
		o.opts.Logger.Warn(ctx, "orchestrator: event emit failed", "conversation_id", id, "kind", kind, "error", err)
	}
	if raw, err := json.Marshal(payload); err == nil {
		if _, err := o.opts.Store.AppendEvent(ctx, id, string(kind), raw); err != nil {
			o.opts.Logger.Warn(ctx, "orchestrator: event append failed", "conversation_id", id, "kind", kind, "error", err)
		}
	}
}
