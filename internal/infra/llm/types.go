// Package llm defines the model-agnostic embedding and reranking abstractions.
// All types here are shared between the capability interfaces and adapters.
package llm

// EmbedRequest is the input for a batch embedding call.
type EmbedRequest struct {
	// Model overrides the adapter default when non-empty.
	Model string
	Texts []string
}

// EmbedResponse is the output from a batch embedding call.
// Embeddings[i] corresponds to Texts[i] in the request.
type EmbedResponse struct {
	Embeddings [][]float32
}

// RerankRequest is the input for a cross-encoder reranking call.
// The query is the original question text, not its vector: rerankers score
// (query, candidate text) pairs directly.
type RerankRequest struct {
	// Model overrides the adapter default when non-empty.
	Model string
	Query string
	Texts []string
}

// Rank is one entry of a rerank result: the index of the candidate in the
// request's Texts plus its relevance score.
type Rank struct {
	Index int
	Score float64
}

// RerankResponse is the output from a reranking call.
// Ranks covers every requested text exactly once, best-first.
type RerankResponse struct {
	Ranks []Rank
}

// ModelMeta describes the model / adapter identity.
type ModelMeta struct {
	ID       string // e.g. "nomic-embed-text", "answerdotai/answerai-colbert-small-v1"
	Provider string // e.g. "ollama", "tei"
}
