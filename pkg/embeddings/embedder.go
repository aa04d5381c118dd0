// Package embeddings defines the interface for turning memory content into
// vectors. Embeddings power semantic search over stored memories and the
// similarity clustering that consolidation groups episodic entries by; when
// no embedder is configured the system falls back to keyword-only recall.
package embeddings

import "context"

// Embedder converts memory content into fixed-dimension vectors. One
// implementation backs a whole provider, so the dimensionality must stay
// constant for the lifetime of the vector index.
type Embedder interface {
	// Embed returns the vector for a piece of memory content.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}
