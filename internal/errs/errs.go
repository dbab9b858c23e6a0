// Package errs defines the core error taxonomy shared across the engine and
// the client-facing code/message mapping used to sanitize failures before
// they cross the wire. Kinds are classification tags, not Go types on their
// own — each concrete error type below reports its Kind() so callers can
// branch on category without type-switching every concrete type.
package errs

import "fmt"

// Kind classifies an error into one of the categories spec.md's error
// handling design enumerates.
type Kind string

const (
	KindLLMProviderFailure   Kind = "llm_provider_failure"
	KindToolExecutionFailure Kind = "tool_execution_failure"
	KindStorageFailure       Kind = "storage_failure"
	KindValidationFailure    Kind = "validation_failure"
	KindWorkflowParseFailure Kind = "workflow_parse_failure"
	KindConversationNotFound Kind = "conversation_not_found"
	KindClarificationNeeded  Kind = "clarification_required"
	KindMaxConnections       Kind = "max_connections_exceeded"
	KindUnknown              Kind = "unknown"
)

// Classified is implemented by every error type in this package.
type Classified interface {
	error
	Kind() Kind
}

// LLMProviderFailure wraps any transport, decode, or API error from the LLM
// gateway. Provider carries adapter context (e.g. "anthropic", "openai").
type LLMProviderFailure struct {
	Provider string
	Cause    error
}

func (e *LLMProviderFailure) Error() string {
	return fmt.Sprintf("llm provider %q failed: %v", e.Provider, e.Cause)
}
func (e *LLMProviderFailure) Unwrap() error { return e.Cause }
func (e *LLMProviderFailure) Kind() Kind    { return KindLLMProviderFailure }

// ToolExecutionFailure carries the failing tool's name and cause.
type ToolExecutionFailure struct {
	Tool  string
	Cause error
}

func (e *ToolExecutionFailure) Error() string {
	return fmt.Sprintf("tool %q execution failed: %v", e.Tool, e.Cause)
}
func (e *ToolExecutionFailure) Unwrap() error { return e.Cause }
func (e *ToolExecutionFailure) Kind() Kind    { return KindToolExecutionFailure }

// StorageFailure wraps any error surfaced by the conversation store.
type StorageFailure struct {
	Op    string
	Cause error
}

func (e *StorageFailure) Error() string {
	return fmt.Sprintf("storage operation %q failed: %v", e.Op, e.Cause)
}
func (e *StorageFailure) Unwrap() error { return e.Cause }
func (e *StorageFailure) Kind() Kind    { return KindStorageFailure }

// ValidationFailure is a structural invariant violation discovered at
// pipeline entry — distinct from per-stage findings, which are returned in a
// ValidationResult rather than raised as an error.
type ValidationFailure struct {
	Reason string
}

func (e *ValidationFailure) Error() string { return fmt.Sprintf("validation failure: %s", e.Reason) }
func (e *ValidationFailure) Kind() Kind    { return KindValidationFailure }

// WorkflowParseFailure indicates the planner produced text that could not be
// coerced into a Workflow at all.
type WorkflowParseFailure struct {
	Reason string
}

func (e *WorkflowParseFailure) Error() string {
	return fmt.Sprintf("could not parse workflow: %s", e.Reason)
}
func (e *WorkflowParseFailure) Kind() Kind { return KindWorkflowParseFailure }

// ConversationNotFound indicates an operation targeted an absent/expired
// conversation.
type ConversationNotFound struct {
	ConversationID string
}

func (e *ConversationNotFound) Error() string {
	return fmt.Sprintf("conversation %q not found", e.ConversationID)
}
func (e *ConversationNotFound) Kind() Kind { return KindConversationNotFound }

// ClarificationRequired is a control-flow signal raised by the Planner; it is
// not logged as an error by the orchestrator.
type ClarificationRequired struct {
	ClarificationID string
	Questions       []string
}

func (e *ClarificationRequired) Error() string {
	return fmt.Sprintf("clarification %q required", e.ClarificationID)
}
func (e *ClarificationRequired) Kind() Kind { return KindClarificationNeeded }

// MaxConnectionsExceeded is a transport-layer error.
type MaxConnectionsExceeded struct{ Limit int }

func (e *MaxConnectionsExceeded) Error() string {
	return fmt.Sprintf("max concurrent connections (%d) exceeded", e.Limit)
}
func (e *MaxConnectionsExceeded) Kind() Kind { return KindMaxConnections }

// clientMapping holds the exhaustive code/message pairs from spec.md §7.
var clientMapping = map[Kind][2]string{
	KindLLMProviderFailure:   {"LLM_UNAVAILABLE", "The AI service is temporarily unavailable. Please try again."},
	KindToolExecutionFailure: {"TOOL_ERROR", "A search service is temporarily unavailable."},
	KindStorageFailure:       {"STORAGE_ERROR", "A temporary storage issue occurred. Please try again."},
	KindValidationFailure:    {"VALIDATION_ERROR", "We encountered an issue processing your workflow."},
	KindWorkflowParseFailure: {"PARSE_ERROR", "We had trouble generating the workflow. Please try rephrasing your request."},
	KindConversationNotFound: {"NOT_FOUND", "Conversation not found."},
	KindClarificationNeeded:  {"CLARIFICATION_REQUIRED", "Additional information is needed to proceed."},
	KindMaxConnections:       {"MAX_CONNECTIONS", "Server is at capacity. Please try again later."},
	KindUnknown:              {"INTERNAL_ERROR", "An unexpected error occurred. Please try again."},
}

// ClientMessage maps an arbitrary error to the sanitized (code, message) pair
// delivered to clients. Raw error text, internal URLs, and credentials never
// leak through this mapping.
func ClientMessage(err error) (code string, message string) {
	kind := KindUnknown
	if c, ok := err.(Classified); ok {
		kind = c.Kind()
	}
	pair, ok := clientMapping[kind]
	if !ok {
		pair = clientMapping[KindUnknown]
	}
	return pair[0], pair[1]
}

// KindOf returns the classification of err, or KindUnknown if err does not
// implement Classified.
func KindOf(err error) Kind {
	if c, ok := err.(Classified); ok {
		return c.Kind()
	}
	return KindUnknown
}
