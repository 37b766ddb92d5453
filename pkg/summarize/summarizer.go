// Package summarize produces conversation abbreviations and names.
//
// An abbreviation is a short semantic digest of a conversation. It is
// what gets embedded into the vector index, so its quality bounds the
// quality of semantic search.
package summarize

import "context"

// Request carries the conversation content to digest.
type Request struct {
	// ConversationID identifies the conversation, for logging only.
	ConversationID string

	// Turns is the transcript rendered as role-prefixed lines, oldest
	// first. When the conversation has a compression event, Turns holds
	// only the tail and Summary holds the compressed prefix.
	Turns []string

	// Summary is the compression summary covering turns before the
	// tail, empty if the conversation was never compressed.
	Summary string

	// Title is the conversation's current title, empty if unnamed.
	Title string

	// WantTitle requests a fresh title and topics alongside the
	// abbreviation.
	WantTitle bool
}

// Result is the digest produced from a Request.
type Result struct {
	// Abbreviation is a short prose digest of the conversation.
	Abbreviation string

	// Title is a proposed conversation title, set only when the request
	// asked for one.
	Title string

	// Topics are a few keyword tags, set only alongside Title.
	Topics []string
}

// Summarizer turns conversation content into an abbreviation and,
// optionally, a title.
type Summarizer interface {
	Summarize(ctx context.Context, req Request) (Result, error)

	// Close releases any resources held by the summarizer.
	Close() error
}
