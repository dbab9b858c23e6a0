package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saketkr/reasoning-engine/internal/toolerrors"
)

// stubExecutor is a minimal hand-rolled Executor double, in the teacher's
// fake-per-interface test style.
type stubExecutor struct {
	name   string
	result map[string]any
	err    error
}

func (s *stubExecutor) Name() string                        { return s.name }
func (s *stubExecutor) Description() string                 { return "stub executor " + s.name }
func (s *stubExecutor) InputSchema() map[string]any          { return map[string]any{"type": "object"} }
func (s *stubExecutor) OutputSchema() map[string]any         { return map[string]any{"type": "object"} }
func (s *stubExecutor) RequiresUserResponse() bool           { return false }
func (s *stubExecutor) Execute(_ context.Context, _ map[string]any) (map[string]any, error) {
	return s.result, s.err
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	exec := &stubExecutor{name: "widget_search", result: map[string]any{"ok": true}}
	r.Register(exec)

	got, ok := r.Get("widget_search")
	require.True(t, ok)
	assert.Equal(t, exec, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_Dispatch_Success(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(&stubExecutor{name: "widget_search", result: map[string]any{"found": 3}})

	out, err := r.Dispatch(context.Background(), "widget_search", map[string]any{"query": "widgets"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"found": 3}, out)
}

func TestRegistry_Dispatch_UnknownTool(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	_, err := r.Dispatch(context.Background(), "nope", nil)

	require.Error(t, err)
	var toolErr *toolerrors.ToolError
	require.ErrorAs(t, err, &toolErr)
}

func TestRegistry_Dispatch_ExecutorFailure(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(&stubExecutor{name: "flaky", err: assert.AnError})

	_, err := r.Dispatch(context.Background(), "flaky", nil)

	require.Error(t, err)
	var toolErr *toolerrors.ToolError
	require.ErrorAs(t, err, &toolErr)
}

func TestRegistry_Definitions_IncludesOutputSignallingAndRegistered(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(&stubExecutor{name: "widget_search"})

	defs := r.Definitions()

	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	assert.Contains(t, names, ThinkApproach)
	assert.Contains(t, names, PresentAnswer)
	assert.Contains(t, names, SubmitWorkflow)
	assert.Contains(t, names, "widget_search")
}
