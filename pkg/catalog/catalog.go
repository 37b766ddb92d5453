// Package catalog stores per-conversation metadata: title, topics,
// participants, turn counts, the current abbreviation, and the retry flag
// driving the background abbreviation pipeline.
//
// Everything in the catalog is a rebuildable projection of the transcript
// log; the recovery manager recreates missing rows on startup.
package catalog

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation does not exist in the catalog.
var ErrNotFound = errors.New("conversation not found")

// Conversation is the catalog row for one conversation.
type Conversation struct {
	// ID is stable, immutable, and time-ordered (UUIDv7). It never changes
	// after creation.
	ID string `json:"id"`

	Channel      string   `json:"channel"`
	Title        string   `json:"title,omitempty"`
	Topics       []string `json:"topics,omitempty"`
	Participants []string `json:"participants,omitempty"`
	TurnCount    int      `json:"turn_count"`

	// Abbreviation is the current short model-generated summary used for
	// semantic indexing, empty until the pipeline has produced one.
	Abbreviation string `json:"abbreviation,omitempty"`

	// NeedsAbbreviation marks the conversation for a pipeline retry after a
	// summarization or embedding failure.
	NeedsAbbreviation bool `json:"needs_abbreviation,omitempty"`

	// ManuallyNamed protects the title from auto-renaming. Only an explicit
	// user edit may change the title once set.
	ManuallyNamed bool `json:"manually_named,omitempty"`

	// LastRenamedTurn is the turn count at the most recent auto-naming, used
	// by the every-10-turns rename trigger.
	LastRenamedTurn int `json:"last_renamed_turn,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AbbreviationRecord is the current abbreviation for a conversation together
// with the identifier of the model that embedded it. Exactly one record
// exists per conversation; regeneration replaces it.
type AbbreviationRecord struct {
	ConversationID string
	Abbreviation   string
	EmbeddingModel string
	GeneratedAt    time.Time
}
