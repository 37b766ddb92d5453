// Package index provides the synchronously-maintained keyword index over
// conversation turns. Indexing happens inline with the durable transcript
// append, so keyword search reflects a turn within the same request cycle.
//
// The index is a rebuildable projection: dropping it and re-indexing every
// stored turn from the transcript log reproduces it exactly.
package index

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the index backend cannot be reached.
var ErrUnavailable = errors.New("keyword index unavailable")

// Row is one keyword-searchable unit: a single turn of a conversation.
type Row struct {
	ConversationID string
	Turn           int
	Role           string
	Channel        string
	Timestamp      time.Time

	// Content is the role-prefixed turn text (e.g. "user: restart the api").
	Content string
}

// Hit is a keyword match, deduplicated by conversation.
type Hit struct {
	ConversationID string
	Turn           int
	Snippet        string

	// Score is backend-specific (bm25 or ts_rank); hits are always returned
	// best-first, and fusion consumes positions rather than raw scores.
	Score float64
}

// Filters narrows a keyword search.
type Filters struct {
	Channel string
}

// Driver is the keyword index backend.
type Driver interface {
	// IndexTurn inserts one turn. Called synchronously after the transcript
	// append succeeds; a failure is logged by the caller and repaired by
	// recovery, never surfaced to the user.
	IndexTurn(ctx context.Context, row Row) error

	// Search returns the best-first keyword matches for the query, at most
	// one hit per conversation.
	Search(ctx context.Context, query string, limit int, f Filters) ([]Hit, error)

	// CountTurns reports how many rows a conversation has, for drift
	// detection against the transcript's turn count.
	CountTurns(ctx context.Context, conversationID string) (int, error)

	// DeleteConversation drops every row for a conversation, ahead of a
	// full re-index.
	DeleteConversation(ctx context.Context, conversationID string) error

	// Close releases backend resources.
	Close() error
}
