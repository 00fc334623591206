// Ingest pipeline for the chunk store. Reads JSONL chunk records, embeds
// their text in batch, and writes rows into the webpagechunk table inside a
// single transaction.
package websearch

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matiasleandrokruk/cpsdata/internal/infra/llm"
)

// embedBatchSize bounds how many chunk texts go into one Embed call.
const embedBatchSize = 32

// ChunkInput is one line of an ingest JSONL file.
type ChunkInput struct {
	SchoolName string `json:"school_name"`
	PageURL    string `json:"page_url"`
	Text       string `json:"text"`
}

// IngestService writes embedded chunks into the vector store.
type IngestService struct {
	db       *sql.DB
	embedder llm.Embedder
}

// NewIngestService creates an IngestService backed by the given vector store
// and embedder.
func NewIngestService(db *sql.DB, embedder llm.Embedder) *IngestService {
	return &IngestService{db: db, embedder: embedder}
}

// Ingest reads JSONL chunk records from r, embeds them, and inserts them.
// School names are title-cased on write so the search prefilter's
// exact-match-after-normalization policy holds against stored metadata.
// Returns the number of chunks written.
func (s *IngestService) Ingest(ctx context.Context, r io.Reader) (int, error) {
	chunks, err := readChunks(r)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("ingest: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	written := 0
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		resp, embedErr := s.embedder.Embed(ctx, llm.EmbedRequest{Texts: texts})
		if embedErr != nil {
			return 0, fmt.Errorf("ingest: embed batch at %d: %w", start, embedErr)
		}
		if len(resp.Embeddings) != len(batch) {
			return 0, fmt.Errorf("ingest: embedder returned %d vectors for %d texts", len(resp.Embeddings), len(batch))
		}

		for i, c := range batch {
			if insErr := insertChunk(ctx, tx, c, resp.Embeddings[i], now); insErr != nil {
				return 0, insErr
			}
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("ingest: commit: %w", err)
	}
	return written, nil
}

// readChunks parses JSONL input, skipping blank lines. Every chunk needs all
// three fields; a malformed line aborts the whole ingest so a partial corpus
// is never committed.
func readChunks(r io.Reader) ([]ChunkInput, error) {
	var chunks []ChunkInput
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var c ChunkInput
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, fmt.Errorf("ingest: line %d: %w", lineNo, err)
		}
		if c.SchoolName == "" || c.PageURL == "" || c.Text == "" {
			return nil, fmt.Errorf("ingest: line %d: school_name, page_url and text are required", lineNo)
		}
		chunks = append(chunks, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ingest: read: %w", err)
	}
	return chunks, nil
}

// insertChunk writes one embedded chunk row.
func insertChunk(ctx context.Context, tx *sql.Tx, c ChunkInput, vec []float32, now time.Time) error {
	embJSON, err := encodeEmbedding(vec)
	if err != nil {
		return fmt.Errorf("ingest: encode embedding: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("ingest: new id: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO webpagechunk (id, school_name, page_url, chunk_text, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		id.String(),
		titleCase(c.SchoolName),
		c.PageURL,
		c.Text,
		embJSON,
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("ingest: insert chunk: %w", err)
	}
	return nil
}
