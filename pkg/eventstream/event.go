package eventstream

import "time"

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeConversationCreated is emitted when a new conversation is created.
	EventTypeConversationCreated = "spool.conversation.created"

	// EventTypeConversationRenamed is emitted when a conversation's title changes.
	EventTypeConversationRenamed = "spool.conversation.renamed"

	// EventTypeStateChanged is emitted when a conversation's lifecycle state changes.
	EventTypeStateChanged = "spool.conversation.state_changed"
)

// ConversationEvent is a transport-neutral event payload for conversation
// lifecycle notifications. Consumers dispatch on EventType; fields not
// relevant to an event type are omitted from the payload.
type ConversationEvent struct {
	SchemaVersion  int       `json:"schema_version"`
	EventType      string    `json:"event_type"`
	EventID        string    `json:"event_id"`
	EmittedAt      time.Time `json:"emitted_at"`
	ConversationID string    `json:"conversation_id"`
	Channel        string    `json:"channel,omitempty"`

	// Renames.
	Title    string `json:"title,omitempty"`
	OldTitle string `json:"old_title,omitempty"`

	// State changes.
	State    string `json:"state,omitempty"`
	OldState string `json:"old_state,omitempty"`
}
