// Package websearch implements semantic search over the school-website chunk
// store: dense-vector retrieval with an optional school prefilter, followed
// by cross-encoder reranking.
package websearch

import (
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// ErrEmptyQuestion is returned before anything is embedded: the embedder
	// contract is undefined for empty input, so the pipeline fails fast.
	ErrEmptyQuestion = errors.New("question must not be empty")

	// ErrRetrieval wraps embedding, vector lookup, and reranking failures.
	// Never retried — these need operator intervention, not backoff.
	ErrRetrieval = errors.New("retrieval failed")
)

// Request carries one search invocation. SchoolName is optional; when
// non-empty it is title-cased and applied as an equality prefilter.
type Request struct {
	Question   string
	SchoolName string
}

// Result is one ranked snippet projected from a stored chunk.
type Result struct {
	SchoolName string `json:"school_name"`
	PageURL    string `json:"page_url"`
	Content    string `json:"content"`
}

// chunkRow is a candidate chunk as read from the webpagechunk table.
type chunkRow struct {
	schoolName string
	pageURL    string
	text       string
	embedding  []float32
}

var titleCaser = cases.Title(language.Und)

// titleCase normalizes a school name to title case. Ingest applies it to
// stored chunk metadata and search applies it to the caller's filter, so the
// equality prefilter is exact-match after normalization. Case variants that
// survive normalization are deliberately not matched.
func titleCase(s string) string {
	return titleCaser.String(s)
}

// encodeEmbedding serialises a float32 slice to JSON TEXT for storage.
// e.g. [0.1, 0.2, 0.3] → "[0.1,0.2,0.3]"
func encodeEmbedding(vec []float32) (string, error) {
	b, err := json.Marshal(vec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeEmbedding deserialises a JSON TEXT vector back to []float32.
func decodeEmbedding(jsonStr string) ([]float32, error) {
	var vec []float32
	if err := json.Unmarshal([]byte(jsonStr), &vec); err != nil {
		return nil, fmt.Errorf("decodeEmbedding: %w", err)
	}
	return vec, nil
}
