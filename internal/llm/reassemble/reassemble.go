// Package reassemble accumulates index-keyed tool-call fragments streamed by
// provider adapters into complete tool calls. Reassembly state is per-turn
// and must be dropped at every turn boundary — callers construct a fresh
// Accumulator for each GenerateStream call, per spec.md §4.2 and the
// teacher's streaming-chunk-reassembly design note.
package reassemble

import "encoding/json"

// fragment collects the pieces of one in-progress tool call.
type fragment struct {
	id   string
	name string
	args string
}

// Accumulator reassembles tool-call fragments indexed by position into a
// completed, ordered tool-call list. Unparseable argument JSON is surfaced as
// an empty argument mapping, never as an error — providers may terminate a
// tool-call block mid-fragment and callers must still make progress.
type Accumulator struct {
	order []int
	frags map[int]*fragment
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{frags: make(map[int]*fragment)}
}

// Add merges a partial fragment at the given index. Any of id/name/argsDelta
// may be empty; non-empty argsDelta is appended to the accumulated argument
// string for that index.
func (a *Accumulator) Add(index int, id, name, argsDelta string) {
	f, ok := a.frags[index]
	if !ok {
		f = &fragment{}
		a.frags[index] = f
		a.order = append(a.order, index)
	}
	if id != "" {
		f.id = id
	}
	if name != "" {
		f.name = name
	}
	f.args += argsDelta
}

// ToolCall is the reassembled result for one index.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Finish returns the completed tool-call list in index-insertion order. Call
// this exactly once, on the chunk whose finish reason indicates tool
// invocation.
func (a *Accumulator) Finish() []ToolCall {
	out := make([]ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		f := a.frags[idx]
		args := map[string]any{}
		if f.args != "" {
			var parsed map[string]any
			if err := json.Unmarshal([]byte(f.args), &parsed); err == nil {
				args = parsed
			}
		}
		out = append(out, ToolCall{ID: f.id, Name: f.name, Arguments: args})
	}
	return out
}

// Empty reports whether any fragments have been accumulated.
func (a *Accumulator) Empty() bool { return len(a.order) == 0 }
