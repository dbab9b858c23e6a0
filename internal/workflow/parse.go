package workflow

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractFencedJSON returns the content of every fenced code block tagged
// (optionally) json, in document order.
func ExtractFencedJSON(text string) []string {
	matches := fencedJSONPattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

// ExtractBalancedBraces finds the first occurrence of prefix and returns the
// substring from its opening brace through its matching closing brace,
// tracking string-literal and escape state so braces inside JSON string
// values don't unbalance the scan.
func ExtractBalancedBraces(text, prefix string) (string, bool) {
	start := strings.Index(text, prefix)
	if start == -1 {
		return "", false
	}
	braceStart := strings.IndexByte(text[start:], '{')
	if braceStart == -1 {
		return "", false
	}
	braceStart += start

	depth := 0
	inString := false
	escaped := false
	for i := braceStart; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string literal, braces don't count
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[braceStart : i+1], true
			}
		}
	}
	return "", false
}

// rawWorkflowSubmission mirrors the submit_workflow tool argument shape and
// the planner's best-effort text-parsed shape: a wrapped workflow_json plus
// a top-level edges list (spec.md §4.4 step 3).
type rawWorkflowSubmission struct {
	WorkflowJSON json.RawMessage `json:"workflow_json"`
	Edges        json.RawMessage `json:"edges"`
}

// ParseSubmission decodes the submit_workflow argument shape
// ({workflow_json, edges}) into a Workflow.
func ParseSubmission(raw []byte) (*Workflow, error) {
	var sub rawWorkflowSubmission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, err
	}
	var w Workflow
	if len(sub.WorkflowJSON) > 0 {
		if err := json.Unmarshal(sub.WorkflowJSON, &w); err != nil {
			return nil, err
		}
	}
	if len(sub.Edges) > 0 {
		if err := json.Unmarshal(sub.Edges, &w.Edges); err != nil {
			return nil, err
		}
	}
	return &w, nil
}

// ParseFromText best-effort parses a Workflow out of free-form assistant
// text: it searches fenced JSON blocks containing both "workflow_json" and
// "edges" keys, falling back to balanced-brace extraction anchored on the
// literal `{"workflow_json"` prefix (spec.md §4.4 step 3).
func ParseFromText(text string) (*Workflow, bool) {
	for _, block := range ExtractFencedJSON(text) {
		if strings.Contains(block, "workflow_json") && strings.Contains(block, "edges") {
			if w, err := ParseSubmission([]byte(block)); err == nil {
				return w, true
			}
		}
	}
	if block, ok := ExtractBalancedBraces(text, `{"workflow_json"`); ok {
		if w, err := ParseSubmission([]byte(block)); err == nil {
			return w, true
		}
	}
	return nil, false
}

// ParseWorkflowJSON parses a bare Workflow object (no workflow_json wrapper)
// from text: fenced JSON first, then balanced-brace fallback anchored on
// `{"blocks"`. Used by the Referencing Agent (spec.md §4.8), which works
// with the workflow shape directly rather than the submit_workflow envelope.
func ParseWorkflowJSON(text string) (*Workflow, bool) {
	for _, block := range ExtractFencedJSON(text) {
		var w Workflow
		if err := json.Unmarshal([]byte(block), &w); err == nil && len(w.Blocks) > 0 {
			return &w, true
		}
	}
	if block, ok := ExtractBalancedBraces(text, `{"blocks"`); ok {
		var w Workflow
		if err := json.Unmarshal([]byte(block), &w); err == nil {
			return &w, true
		}
	}
	return nil, false
}
