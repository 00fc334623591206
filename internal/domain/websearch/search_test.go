package websearch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/matiasleandrokruk/cpsdata/internal/infra/llm"
	"github.com/matiasleandrokruk/cpsdata/internal/infra/sqlite"
)

// ─── stubs ───────────────────────────────────────────────────────────────────

// stubEmbedder returns a fixed vector per text, or a canned error.
type stubEmbedder struct {
	vectors  map[string][]float32 // keyed by text; missing keys get fallback
	fallback []float32
	err      error
}

func (s *stubEmbedder) Embed(_ context.Context, req llm.EmbedRequest) (*llm.EmbedResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(req.Texts))
	for i, text := range req.Texts {
		if v, ok := s.vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = s.fallback
		}
	}
	return &llm.EmbedResponse{Embeddings: out}, nil
}

func (s *stubEmbedder) ModelInfo() llm.ModelMeta { return llm.ModelMeta{ID: "stub", Provider: "test"} }
func (s *stubEmbedder) HealthCheck(context.Context) error { return nil }

// stubReranker scores each text by a lookup table (unknown texts score 0),
// or fails with a canned error.
type stubReranker struct {
	scores map[string]float64
	err    error
	calls  int
}

func (s *stubReranker) Rerank(_ context.Context, req llm.RerankRequest) (*llm.RerankResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	ranks := make([]llm.Rank, len(req.Texts))
	for i, text := range req.Texts {
		ranks[i] = llm.Rank{Index: i, Score: s.scores[text]}
	}
	// best-first, as the Reranker contract requires
	for i := 0; i < len(ranks); i++ {
		for j := i + 1; j < len(ranks); j++ {
			if ranks[j].Score > ranks[i].Score {
				ranks[i], ranks[j] = ranks[j], ranks[i]
			}
		}
	}
	return &llm.RerankResponse{Ranks: ranks}, nil
}

func (s *stubReranker) ModelInfo() llm.ModelMeta { return llm.ModelMeta{ID: "stub", Provider: "test"} }
func (s *stubReranker) HealthCheck(context.Context) error { return nil }

// ─── fixtures ────────────────────────────────────────────────────────────────

// newChunkStore opens a migrated vector store in a temp dir.
func newChunkStore(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sqlite.OpenVector(filepath.Join(t.TempDir(), "chunks.db"))
	if err != nil {
		t.Fatalf("OpenVector() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	return db
}

// insertTestChunk writes one chunk row directly. School names are stored
// title-cased, matching what ingest does.
func insertTestChunk(t *testing.T, db *sql.DB, id, school, url, text string, vec []float32) {
	t.Helper()

	embJSON, err := encodeEmbedding(vec)
	if err != nil {
		t.Fatalf("encodeEmbedding() error = %v", err)
	}
	_, err = db.Exec(`
		INSERT INTO webpagechunk (id, school_name, page_url, chunk_text, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))`,
		id, school, url, text, embJSON)
	if err != nil {
		t.Fatalf("insert chunk: %v", err)
	}
}

// ─── tests ───────────────────────────────────────────────────────────────────

// TestSearch_RanksByReranker verifies the final order follows the reranker
// scores, not the vector similarity order.
func TestSearch_RanksByReranker(t *testing.T) {
	t.Parallel()

	db := newChunkStore(t)
	// "near" is closest to the question vector, "far" is furthest.
	insertTestChunk(t, db, "c1", "Lane Tech High School", "https://lane.example/a", "near", []float32{1, 0, 0})
	insertTestChunk(t, db, "c2", "Lane Tech High School", "https://lane.example/b", "mid", []float32{0.7, 0.7, 0})
	insertTestChunk(t, db, "c3", "Lane Tech High School", "https://lane.example/c", "far", []float32{0, 1, 0})

	embedder := &stubEmbedder{fallback: []float32{1, 0.1, 0}}
	// The reranker inverts the similarity order.
	reranker := &stubReranker{scores: map[string]float64{"near": 0.1, "mid": 0.5, "far": 0.9}}

	svc := NewSearchService(db, embedder, reranker)
	results, err := svc.Search(context.Background(), Request{Question: "what clubs exist?"})
	if err != nil {
		t.Fatalf("Search() error = %v; want nil", err)
	}

	wantOrder := []string{"far", "mid", "near"}
	if len(results) != len(wantOrder) {
		t.Fatalf("len(results) = %d; want %d", len(results), len(wantOrder))
	}
	for i, want := range wantOrder {
		if results[i].Content != want {
			t.Errorf("results[%d].Content = %q; want %q", i, results[i].Content, want)
		}
	}
	if results[0].PageURL != "https://lane.example/c" {
		t.Errorf("results[0].PageURL = %q; want the far chunk's URL", results[0].PageURL)
	}
}

// TestSearch_SchoolNameFilter verifies the prefilter title-cases the caller's
// filter and matches stored metadata exactly.
func TestSearch_SchoolNameFilter(t *testing.T) {
	t.Parallel()

	db := newChunkStore(t)
	insertTestChunk(t, db, "c1", "Lane Tech High School", "https://lane.example", "lane chunk", []float32{1, 0})
	insertTestChunk(t, db, "c2", "Whitney Young High School", "https://wy.example", "whitney chunk", []float32{1, 0})

	embedder := &stubEmbedder{fallback: []float32{1, 0}}
	reranker := &stubReranker{scores: map[string]float64{"lane chunk": 1, "whitney chunk": 1}}
	svc := NewSearchService(db, embedder, reranker)

	// lower-case filter gets title-cased before the equality match
	results, err := svc.Search(context.Background(), Request{
		Question:   "sports?",
		SchoolName: "lane tech high school",
	})
	if err != nil {
		t.Fatalf("Search() error = %v; want nil", err)
	}

	if len(results) != 1 {
		t.Fatalf("len(results) = %d; want 1", len(results))
	}
	if results[0].SchoolName != "Lane Tech High School" {
		t.Errorf("results[0].SchoolName = %q; want Lane Tech High School", results[0].SchoolName)
	}
}

// TestSearch_FilterWithNoMatches verifies an unmatched prefilter yields an
// empty result and never reaches the reranker.
func TestSearch_FilterWithNoMatches(t *testing.T) {
	t.Parallel()

	db := newChunkStore(t)
	insertTestChunk(t, db, "c1", "Lane Tech High School", "https://lane.example", "chunk", []float32{1, 0})

	reranker := &stubReranker{}
	svc := NewSearchService(db, &stubEmbedder{fallback: []float32{1, 0}}, reranker)

	results, err := svc.Search(context.Background(), Request{
		Question:   "anything",
		SchoolName: "No Such School",
	})
	if err != nil {
		t.Fatalf("Search() error = %v; want nil", err)
	}
	if len(results) != 0 {
		t.Errorf("len(results) = %d; want 0", len(results))
	}
	if reranker.calls != 0 {
		t.Errorf("reranker.calls = %d; want 0 (no candidates to rerank)", reranker.calls)
	}
}

// TestSearch_EmptyQuestion verifies empty and whitespace-only questions fail
// fast with ErrEmptyQuestion.
func TestSearch_EmptyQuestion(t *testing.T) {
	t.Parallel()

	svc := NewSearchService(newChunkStore(t), &stubEmbedder{}, &stubReranker{})

	for _, q := range []string{"", "   ", "\n\t"} {
		if _, err := svc.Search(context.Background(), Request{Question: q}); !errors.Is(err, ErrEmptyQuestion) {
			t.Errorf("Search(%q) error = %v; want ErrEmptyQuestion", q, err)
		}
	}
}

// TestSearch_ResultLimit verifies at most 10 results survive reranking.
func TestSearch_ResultLimit(t *testing.T) {
	t.Parallel()

	db := newChunkStore(t)
	scores := make(map[string]float64)
	for i := 0; i < 15; i++ {
		text := fmt.Sprintf("chunk %02d", i)
		insertTestChunk(t, db, fmt.Sprintf("c%d", i), "Lane Tech High School",
			"https://lane.example", text, []float32{1, float32(i) * 0.01})
		scores[text] = float64(i)
	}

	svc := NewSearchService(db, &stubEmbedder{fallback: []float32{1, 0}}, &stubReranker{scores: scores})
	results, err := svc.Search(context.Background(), Request{Question: "q"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	if len(results) != 10 {
		t.Errorf("len(results) = %d; want 10", len(results))
	}
	if results[0].Content != "chunk 14" {
		t.Errorf("results[0].Content = %q; want the highest-scored chunk", results[0].Content)
	}
}

// TestSearch_BackendFailures verifies embedder and reranker faults wrap
// ErrRetrieval.
func TestSearch_BackendFailures(t *testing.T) {
	t.Parallel()

	db := newChunkStore(t)
	insertTestChunk(t, db, "c1", "Lane Tech High School", "https://lane.example", "chunk", []float32{1, 0})

	t.Run("embedder error", func(t *testing.T) {
		t.Parallel()
		svc := NewSearchService(db, &stubEmbedder{err: errors.New("boom")}, &stubReranker{})
		if _, err := svc.Search(context.Background(), Request{Question: "q"}); !errors.Is(err, ErrRetrieval) {
			t.Errorf("Search() error = %v; want ErrRetrieval", err)
		}
	})

	t.Run("reranker error", func(t *testing.T) {
		t.Parallel()
		svc := NewSearchService(db, &stubEmbedder{fallback: []float32{1, 0}}, &stubReranker{err: errors.New("boom")})
		if _, err := svc.Search(context.Background(), Request{Question: "q"}); !errors.Is(err, ErrRetrieval) {
			t.Errorf("Search() error = %v; want ErrRetrieval", err)
		}
	})
}

// TestSearch_Idempotent verifies repeated identical searches return identical
// results (the pipeline holds no per-call state).
func TestSearch_Idempotent(t *testing.T) {
	t.Parallel()

	db := newChunkStore(t)
	insertTestChunk(t, db, "c1", "Lane Tech High School", "https://lane.example/a", "alpha", []float32{1, 0})
	insertTestChunk(t, db, "c2", "Lane Tech High School", "https://lane.example/b", "beta", []float32{0.9, 0.1})

	svc := NewSearchService(db,
		&stubEmbedder{fallback: []float32{1, 0}},
		&stubReranker{scores: map[string]float64{"alpha": 0.3, "beta": 0.8}})

	first, err := svc.Search(context.Background(), Request{Question: "q"})
	if err != nil {
		t.Fatalf("Search() first error = %v", err)
	}
	second, err := svc.Search(context.Background(), Request{Question: "q"})
	if err != nil {
		t.Fatalf("Search() second error = %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("result counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("results[%d] differ: %+v vs %+v", i, first[i], second[i])
		}
	}
}

// TestCosineSimilarity covers orthogonal, identical and degenerate vectors.
func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := cosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-6 || diff < -1e-6 {
				t.Errorf("cosineSimilarity() = %v; want %v", got, tt.want)
			}
		})
	}
}
