// Package search defines the web-search and task-block-search capabilities
// used by the web_search and task_block_search tool executors (spec.md
// §4.3), plus HTTP implementations for the perplexity/legacy and
// "integrated" backends named in spec.md §6. Neither backend needs an
// exotic client library — net/http suffices and is the justified stdlib
// choice recorded in DESIGN.md.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"
)

// WebResult is one web search hit.
type WebResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearchClient fans out 1-10 queries and returns results plus the number
// of queries actually issued.
type WebSearchClient interface {
	Search(ctx context.Context, queries []string, maxResults int) (results []WebResult, queryCount int, err error)
}

// TaskBlockCandidate is one discovered task-block descriptor.
type TaskBlockCandidate struct {
	BlockID    string  `json:"block_id"`
	Name       string  `json:"name"`
	ActionCode string  `json:"action_code"`
	Relevance  float64 `json:"relevance"`
	Inputs     []TaskBlockField `json:"inputs"`
	Outputs    []TaskBlockField `json:"outputs"`
}

// TaskBlockField names one input or output slot of a cataloged task block.
type TaskBlockField struct {
	Name string `json:"name"`
}

// TaskBlockClient searches the task-block catalog. Results are deduplicated
// by BlockID, keeping the highest-relevance entry for each id (spec.md
// §4.3).
type TaskBlockClient interface {
	Search(ctx context.Context, queries []string, isReasonRequired bool) ([]TaskBlockCandidate, error)
}

// DedupeByBlockID keeps, for each BlockID, the candidate with the highest
// Relevance.
func DedupeByBlockID(candidates []TaskBlockCandidate) []TaskBlockCandidate {
	best := make(map[string]TaskBlockCandidate, len(candidates))
	order := make([]string, 0, len(candidates))
	for _, c := range candidates {
		existing, ok := best[c.BlockID]
		if !ok {
			order = append(order, c.BlockID)
			best[c.BlockID] = c
			continue
		}
		if c.Relevance > existing.Relevance {
			best[c.BlockID] = c
		}
	}
	out := make([]TaskBlockCandidate, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	return out
}

// PerplexityWebSearch implements WebSearchClient against a Perplexity-style
// chat completions endpoint used as a search proxy.
type PerplexityWebSearch struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	Model      string
	MaxTokens  int
}

func (p *PerplexityWebSearch) client() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (p *PerplexityWebSearch) Search(ctx context.Context, queries []string, maxResults int) ([]WebResult, int, error) {
	var all []WebResult
	for _, q := range queries {
		results, err := p.searchOne(ctx, q, maxResults)
		if err != nil {
			return nil, len(queries), fmt.Errorf("search: perplexity query %q: %w", q, err)
		}
		all = append(all, results...)
	}
	if len(all) > maxResults {
		all = all[:maxResults]
	}
	return all, len(queries), nil
}

func (p *PerplexityWebSearch) searchOne(ctx context.Context, query string, maxResults int) ([]WebResult, error) {
	body, _ := json.Marshal(map[string]any{
		"model":      p.Model,
		"max_tokens": p.MaxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": query},
		},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("perplexity search: status %d", resp.StatusCode)
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Citations []string `json:"citations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}

	results := make([]WebResult, 0, len(decoded.Citations))
	for i, url := range decoded.Citations {
		if i >= maxResults {
			break
		}
		results = append(results, WebResult{Title: url, URL: url})
	}
	if len(decoded.Choices) > 0 {
		for i := range results {
			results[i].Snippet = decoded.Choices[0].Message.Content
		}
	}
	return results, nil
}

// integratedRecordPattern matches the integrated endpoint's XML-tagged
// Python-repr-like records, e.g. <result>{'title': '...', 'url': '...'}</result>.
// spec.md §9 flags this endpoint's payload as only partially specified;
// this parser is intentionally best-effort.
var integratedRecordPattern = regexp.MustCompile(`<result>\s*\{([^}]*)\}\s*</result>`)
var integratedFieldPattern = regexp.MustCompile(`'([a-zA-Z_]+)':\s*'([^']*)'`)

// IntegratedWebSearch implements WebSearchClient against the shared
// "integrated" endpoint.
type IntegratedWebSearch struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
}

func (s *IntegratedWebSearch) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (s *IntegratedWebSearch) Search(ctx context.Context, queries []string, maxResults int) ([]WebResult, int, error) {
	body, _ := json.Marshal(map[string]any{"queries": queries, "max_results": maxResults})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/search/web", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client().Do(req)
	if err != nil {
		return nil, len(queries), fmt.Errorf("search: integrated web search: %w", err)
	}
	defer resp.Body.Close()

	var decoded struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, len(queries), fmt.Errorf("search: integrated web search decode: %w", err)
	}

	results := ParseIntegratedRecords(decoded.Content)
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, len(queries), nil
}

// ParseIntegratedRecords extracts WebResult entries from the integrated
// endpoint's XML-tagged, Python-repr-like content field.
func ParseIntegratedRecords(content string) []WebResult {
	var out []WebResult
	for _, m := range integratedRecordPattern.FindAllStringSubmatch(content, -1) {
		fields := map[string]string{}
		for _, f := range integratedFieldPattern.FindAllStringSubmatch(m[1], -1) {
			fields[f[1]] = f[2]
		}
		out = append(out, WebResult{
			Title:   fields["title"],
			URL:     fields["url"],
			Snippet: fields["snippet"],
		})
	}
	return out
}

// IntegratedTaskBlockSearch implements TaskBlockClient against the shared
// integrated endpoint.
type IntegratedTaskBlockSearch struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	SearchType string
	Size       int
}

func (s *IntegratedTaskBlockSearch) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (s *IntegratedTaskBlockSearch) Search(ctx context.Context, queries []string, isReasonRequired bool) ([]TaskBlockCandidate, error) {
	body, _ := json.Marshal(map[string]any{
		"queries":            queries,
		"search_type":        s.SearchType,
		"size":               s.Size,
		"is_reason_required": isReasonRequired,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/search/task-blocks", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: integrated task block search: %w", err)
	}
	defer resp.Body.Close()

	var decoded struct {
		Candidates []TaskBlockCandidate `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("search: integrated task block search decode: %w", err)
	}
	return DedupeByBlockID(decoded.Candidates), nil
}

// LegacyTaskBlockSearch implements TaskBlockClient against the older,
// dedicated task-block search service (provider-kind "legacy" in spec.md
// §6).
type LegacyTaskBlockSearch struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	Size       int
}

func (s *LegacyTaskBlockSearch) client() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (s *LegacyTaskBlockSearch) Search(ctx context.Context, queries []string, _ bool) ([]TaskBlockCandidate, error) {
	var all []TaskBlockCandidate
	for _, q := range queries {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/blocks?q="+q, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+s.APIKey)

		resp, err := s.client().Do(req)
		if err != nil {
			return nil, fmt.Errorf("search: legacy task block search %q: %w", q, err)
		}
		var decoded struct {
			Blocks []TaskBlockCandidate `json:"blocks"`
		}
		err = json.NewDecoder(resp.Body).Decode(&decoded)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("search: legacy task block search decode %q: %w", q, err)
		}
		all = append(all, decoded.Blocks...)
	}
	return DedupeByBlockID(all), nil
}
