// Capability interfaces. Adapters (Ollama, TEI, etc.) implement these so the
// search pipeline is never coupled to a specific model vendor; tests
// substitute stubs.
package llm

import "context"

// Embedder maps text to fixed-length dense vectors. Deterministic for a
// given model and input text.
type Embedder interface {
	// Embed computes dense vector representations for a batch of texts.
	Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error)

	// ModelInfo returns static metadata about the adapter/model.
	ModelInfo() ModelMeta

	// HealthCheck returns nil if the backend is reachable and operational.
	HealthCheck(ctx context.Context) error
}

// Reranker reorders a candidate set by relevance to a query string. The
// scoring function is the backend's own; callers rely only on the returned
// total order.
type Reranker interface {
	// Rerank scores (query, text) pairs and returns ranks best-first.
	Rerank(ctx context.Context, req RerankRequest) (*RerankResponse, error)

	// ModelInfo returns static metadata about the adapter/model.
	ModelInfo() ModelMeta

	// HealthCheck returns nil if the backend is reachable and operational.
	HealthCheck(ctx context.Context) error
}
