// Package transcript implements the durable, append-only, per-conversation
// record that the rest of the spool system is derived from. Every keyword
// row, vector, and catalog field is a rebuildable projection of these logs.
//
// Each conversation is one JSONL file. The first line is a meta line; every
// subsequent line is either a turn or an event. Lines are never mutated or
// deleted, and a malformed line is skippable without invalidating the rest
// of the file.
package transcript

import (
	"errors"
	"fmt"
	"time"
)

// Line types.
const (
	TypeMeta  = "meta"
	TypeTurn  = "turn"
	TypeEvent = "event"
)

// Event subtypes.
const (
	EventTitleAssigned = "title_assigned"
	EventCompression   = "compression"
	EventAbbreviation  = "abbreviation"
	EventMetaUpdate    = "meta_update"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrInvalidLine is returned when a line fails structural validation
// before being appended.
var ErrInvalidLine = errors.New("invalid transcript line")

// Line is the tagged union written to a transcript file. Exactly one of
// Meta, Turn, or Event is set, selected by Type.
type Line struct {
	Type  string `json:"type"`
	Meta  *Meta  `json:"meta,omitempty"`
	Turn  *Turn  `json:"turn,omitempty"`
	Event *Event `json:"event,omitempty"`
}

// Meta is the first line of every transcript.
type Meta struct {
	ConversationID string    `json:"conversation_id"`
	Channel        string    `json:"channel"`
	CreatedAt      time.Time `json:"created_at"`
	Participants   []string  `json:"participants,omitempty"`
}

// Usage carries optional per-turn token and cost metadata.
type Usage struct {
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
}

// Turn is one message in a conversation. A user message and the assistant
// response that answers it share the same Number.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Number    int       `json:"number"`
	Timestamp time.Time `json:"timestamp"`

	// Channel overrides the conversation's channel for this turn
	// (e.g. a reply that arrived over email in a WhatsApp conversation).
	Channel string `json:"channel,omitempty"`
	Sender  string `json:"sender,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
}

// Event records a lifecycle occurrence in the transcript. Subtype selects
// which fields are meaningful.
type Event struct {
	Subtype   string    `json:"subtype"`
	Timestamp time.Time `json:"timestamp"`

	// title_assigned
	Title  string   `json:"title,omitempty"`
	Topics []string `json:"topics,omitempty"`

	// compression
	CompressedThrough int    `json:"compressed_through,omitempty"`
	Summary           string `json:"summary,omitempty"`

	// abbreviation
	Abbreviation string `json:"abbreviation,omitempty"`

	// meta_update
	Participants []string `json:"participants,omitempty"`
	Channel      string   `json:"channel,omitempty"`
}

// NewMetaLine builds the first line of a transcript.
func NewMetaLine(conversationID, channel string, createdAt time.Time, participants []string) Line {
	return Line{
		Type: TypeMeta,
		Meta: &Meta{
			ConversationID: conversationID,
			Channel:        channel,
			CreatedAt:      createdAt,
			Participants:   participants,
		},
	}
}

// NewTurnLine builds a turn line.
func NewTurnLine(turn Turn) Line {
	return Line{Type: TypeTurn, Turn: &turn}
}

// NewEventLine builds an event line.
func NewEventLine(event Event) Line {
	return Line{Type: TypeEvent, Event: &event}
}

// Validate checks that the line's Type matches the variant that is set.
func (l Line) Validate() error {
	switch l.Type {
	case TypeMeta:
		if l.Meta == nil || l.Turn != nil || l.Event != nil {
			return fmt.Errorf("%w: meta line must carry exactly the meta variant", ErrInvalidLine)
		}
		if l.Meta.ConversationID == "" {
			return fmt.Errorf("%w: meta line missing conversation id", ErrInvalidLine)
		}
	case TypeTurn:
		if l.Turn == nil || l.Meta != nil || l.Event != nil {
			return fmt.Errorf("%w: turn line must carry exactly the turn variant", ErrInvalidLine)
		}
		if l.Turn.Role != RoleUser && l.Turn.Role != RoleAssistant {
			return fmt.Errorf("%w: unknown role %q", ErrInvalidLine, l.Turn.Role)
		}
		if l.Turn.Number <= 0 {
			return fmt.Errorf("%w: turn number must be positive", ErrInvalidLine)
		}
	case TypeEvent:
		if l.Event == nil || l.Meta != nil || l.Turn != nil {
			return fmt.Errorf("%w: event line must carry exactly the event variant", ErrInvalidLine)
		}
		switch l.Event.Subtype {
		case EventTitleAssigned, EventCompression, EventAbbreviation, EventMetaUpdate:
		default:
			return fmt.Errorf("%w: unknown event subtype %q", ErrInvalidLine, l.Event.Subtype)
		}
	default:
		return fmt.Errorf("%w: unknown line type %q", ErrInvalidLine, l.Type)
	}

	return nil
}
