// Package embeddings
package embeddings

import "context"

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model reports the identifier of the embedding model in use. The
	// vector index is versioned by it, and recovery compares it against
	// stored abbreviation records to detect model changes.
	Model() string

	// Close releases any resources held by the embedder.
	Close() error
}
