// Two-stage semantic search: embed the question, score stored chunk vectors
// by cosine similarity (with the optional school prefilter applied before
// any limiting), then hand the surviving candidate texts to the cross-encoder
// reranker and keep its top 10.
package websearch

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/matiasleandrokruk/cpsdata/internal/infra/llm"
)

const (
	// candidateLimit caps how many vector-retrieval candidates are passed to
	// the reranker. Prefiltering happens before this cap.
	candidateLimit = 50
	// resultLimit is the final truncation after reranking.
	resultLimit = 10
)

// SearchService composes the embedder, the chunk store, and the reranker
// into a single ranked-results operation. The store handle and both model
// backends are created once at startup and shared read-only across calls.
type SearchService struct {
	db       *sql.DB
	embedder llm.Embedder
	reranker llm.Reranker
}

// NewSearchService creates a SearchService backed by the given vector store
// and model adapters.
func NewSearchService(db *sql.DB, embedder llm.Embedder, reranker llm.Reranker) *SearchService {
	return &SearchService{
		db:       db,
		embedder: embedder,
		reranker: reranker,
	}
}

// Search returns at most 10 results ranked best-first by the reranker.
// An empty question fails fast with ErrEmptyQuestion. Zero candidates
// surviving the prefilter is an empty result, not an error. All backend
// failures wrap ErrRetrieval.
func (s *SearchService) Search(ctx context.Context, req Request) ([]Result, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	resp, err := s.embedder.Embed(ctx, llm.EmbedRequest{Texts: []string{question}})
	if err != nil {
		return nil, fmt.Errorf("%w: embed question: %v", ErrRetrieval, err)
	}
	if len(resp.Embeddings) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for one text", ErrRetrieval, len(resp.Embeddings))
	}

	candidates, err := s.retrieve(ctx, resp.Embeddings[0], req.SchoolName)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	return s.rerank(ctx, question, candidates)
}

// retrieve runs the vector lookup: fetch the (optionally prefiltered) chunk
// rows, score each against the question vector, and keep the closest
// candidateLimit best-first.
func (s *SearchService) retrieve(ctx context.Context, questionVec []float32, schoolName string) ([]chunkRow, error) {
	const baseQuery = `
		SELECT school_name, page_url, chunk_text, embedding
		FROM webpagechunk`

	var (
		rows *sql.Rows
		err  error
	)
	if strings.TrimSpace(schoolName) == "" {
		rows, err = s.db.QueryContext(ctx, baseQuery)
	} else {
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE school_name = ?`, titleCase(schoolName))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: vector lookup: %v", ErrRetrieval, err)
	}
	defer rows.Close() //nolint:errcheck

	type scoredChunk struct {
		row        chunkRow
		similarity float32
	}

	var scored []scoredChunk
	for rows.Next() {
		var (
			row     chunkRow
			embJSON string
		)
		if scanErr := rows.Scan(&row.schoolName, &row.pageURL, &row.text, &embJSON); scanErr != nil {
			return nil, fmt.Errorf("%w: scan chunk: %v", ErrRetrieval, scanErr)
		}
		vec, decodeErr := decodeEmbedding(embJSON)
		if decodeErr != nil {
			continue // skip malformed vectors
		}
		row.embedding = vec
		scored = append(scored, scoredChunk{row: row, similarity: cosineSimilarity(questionVec, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: vector lookup: %v", ErrRetrieval, err)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].similarity > scored[j].similarity
	})

	n := min(candidateLimit, len(scored))
	candidates := make([]chunkRow, 0, n)
	for i := 0; i < n; i++ {
		candidates = append(candidates, scored[i].row)
	}
	return candidates, nil
}

// rerank orders the candidates with the cross-encoder and projects the top
// resultLimit into Results. The reranker sees the original question string,
// not its vector.
func (s *SearchService) rerank(ctx context.Context, question string, candidates []chunkRow) ([]Result, error) {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.text
	}

	resp, err := s.reranker.Rerank(ctx, llm.RerankRequest{Query: question, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: rerank: %v", ErrRetrieval, err)
	}

	results := make([]Result, 0, min(resultLimit, len(resp.Ranks)))
	for _, rank := range resp.Ranks {
		if len(results) == resultLimit {
			break
		}
		if rank.Index < 0 || rank.Index >= len(candidates) {
			return nil, fmt.Errorf("%w: rerank index %d out of range", ErrRetrieval, rank.Index)
		}
		c := candidates[rank.Index]
		results = append(results, Result{
			SchoolName: c.schoolName,
			PageURL:    c.pageURL,
			Content:    c.text,
		})
	}
	return results, nil
}

// cosineSimilarity computes cosine similarity between two float32 vectors.
// Returns 0 if either vector has zero magnitude.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}
