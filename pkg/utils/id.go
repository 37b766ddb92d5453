package utils

import "github.com/google/uuid"

// NewConversationID returns a time-ordered (v7) UUID so conversation ids
// sort by creation time. Falls back to v4 if the clock misbehaves.
func NewConversationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewEventID returns an id for eventstream payloads.
func NewEventID() string {
	return "evt_" + uuid.NewString()
}
