// Package vector provides interfaces and implementations for storing one
// embedding per conversation — the embedding of its abbreviation — and
// answering nearest-neighbor queries over them.
package vector

import "context"

// Document is one conversation's abbreviation embedding.
type Document struct {
	// ConversationID is the owning conversation; there is at most one
	// document per conversation and upserts replace the previous vector.
	ConversationID string

	// Embedding is the vector representation of the abbreviation text.
	Embedding []float32
}

// QueryResult is a nearest-neighbor match with its similarity score.
type QueryResult struct {
	Document

	// Score is a similarity score (higher = more similar).
	Score float32
}

// Driver handles storage and retrieval of abbreviation embeddings.
type Driver interface {
	// Upsert stores documents, replacing any existing vector for the same
	// conversation.
	Upsert(ctx context.Context, docs []Document) error

	// Query finds the topK conversations most similar to the embedding.
	Query(ctx context.Context, embedding []float32, topK int) ([]QueryResult, error)

	// Delete removes documents by conversation id.
	Delete(ctx context.Context, conversationIDs []string) error

	// Count reports how many documents are stored. Search uses this to
	// detect an empty index and fall back to keyword-only ranking.
	Count(ctx context.Context) (int, error)

	// Close releases any resources held by the driver.
	Close() error
}
