package dotdir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	currentFile = "current.json"
)

// CurrentState represents the persisted current-conversation state.
// The CLI uses it to remember which conversation tail and context commands
// operate on between invocations.
type CurrentState struct {
	// ConversationID is the id of the conversation the CLI is pointed at.
	ConversationID string `json:"conversation_id"`

	// Title is the conversation title at the time the state was saved.
	// Informational only, the server remains the source of truth.
	Title string `json:"title,omitempty"`
}

// LoadCurrent loads the current-conversation state from a target
// .spool/current.json. Returns nil, nil if no state exists (no conversation
// selected yet). If overrideDir is non-empty, it is used instead of the
// default ~/.spool/ location.
func (m *Manager) LoadCurrent(overrideDir string) (*CurrentState, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, currentFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading current conversation state: %w", err)
	}

	state := &CurrentState{}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing current conversation state: %w", err)
	}

	return state, nil
}

// SaveCurrent persists the current-conversation state to a target
// .spool/current.json.
func (m *Manager) SaveCurrent(state *CurrentState, overrideDir string) error {
	if state == nil {
		return errors.New("cannot save nil current conversation state")
	}

	if state.ConversationID == "" {
		return errors.New("cannot save current conversation state without a conversation id")
	}

	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling current conversation state: %w", err)
	}

	path := filepath.Join(dir, currentFile)
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // state file carries no secrets
		return fmt.Errorf("writing current conversation state: %w", err)
	}

	return nil
}

// ClearCurrent removes the current-conversation state file.
// The next CLI session starts without a selected conversation.
// If overrideDir is non-empty, it is used instead of the default ~/.spool/ location.
// Returns nil if the file doesn't exist (already cleared).
func (m *Manager) ClearCurrent(overrideDir string) error {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, currentFile)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing current conversation state: %w", err)
	}

	return nil
}
