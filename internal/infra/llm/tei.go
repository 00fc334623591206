// Text-embeddings-inference HTTP adapter for the Reranker capability.
// Calls a TEI-compatible server (huggingface/text-embeddings-inference)
// hosting a cross-encoder model. Endpoints used:
//   - POST /rerank  — score (query, text) pairs
//   - GET  /health  — health check
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"
)

// TEIReranker implements Reranker against a text-embeddings-inference server.
// The served model is fixed at server startup; the model name held here is
// metadata only.
type TEIReranker struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewTEIReranker creates a TEIReranker with a 30s default timeout.
func NewTEIReranker(baseURL, model string) *TEIReranker {
	return &TEIReranker{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ─── internal TEI JSON types ─────────────────────────────────────────────────

type teiRerankRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type teiRerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// ─── Reranker implementation ─────────────────────────────────────────────────

// Rerank posts the query and candidate texts to /rerank and returns the
// ranks best-first. Ranks are re-sorted locally so the best-first contract
// holds regardless of backend response ordering.
func (p *TEIReranker) Rerank(ctx context.Context, req RerankRequest) (*RerankResponse, error) {
	if len(req.Texts) == 0 {
		return &RerankResponse{Ranks: []Rank{}}, nil
	}

	body, err := json.Marshal(teiRerankRequest{Query: req.Query, Texts: req.Texts})
	if err != nil {
		return nil, err
	}

	url := p.baseURL + "/rerank"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tei rerank: build request: %w", err)
	}
	httpReq.Header.Set(headerContentType, mimeJSON)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tei rerank: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tei rerank: status %d", resp.StatusCode)
	}

	var results []teiRerankResult
	if decodeErr := json.NewDecoder(resp.Body).Decode(&results); decodeErr != nil {
		return nil, fmt.Errorf("tei rerank: decode response: %w", decodeErr)
	}
	if len(results) != len(req.Texts) {
		return nil, fmt.Errorf("tei rerank: got %d results for %d texts", len(results), len(req.Texts))
	}

	ranks := make([]Rank, len(results))
	for i, r := range results {
		if r.Index < 0 || r.Index >= len(req.Texts) {
			return nil, fmt.Errorf("tei rerank: result index %d out of range", r.Index)
		}
		ranks[i] = Rank{Index: r.Index, Score: r.Score}
	}
	sort.SliceStable(ranks, func(i, j int) bool { return ranks[i].Score > ranks[j].Score })

	return &RerankResponse{Ranks: ranks}, nil
}

// ModelInfo returns static metadata for this adapter/model.
func (p *TEIReranker) ModelInfo() ModelMeta {
	return ModelMeta{
		ID:       p.model,
		Provider: "tei",
	}
}

// HealthCheck calls GET /health — returns nil if the server is reachable.
func (p *TEIReranker) HealthCheck(ctx context.Context) error {
	url := p.baseURL + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("tei healthcheck: build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tei healthcheck: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tei healthcheck: status %d", resp.StatusCode)
	}
	return nil
}
