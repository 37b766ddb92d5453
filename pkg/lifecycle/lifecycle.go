// Package lifecycle tracks the in-memory state of each conversation and
// drives the idle transition that feeds the abbreviation pipeline.
//
// States are process-local and cheap to lose: a restart simply leaves every
// conversation untracked until its next turn, and recovery re-enqueues any
// abbreviation work that was missed.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/spoolhq/spool/pkg/eventstream"
	"github.com/spoolhq/spool/pkg/utils"
)

// State is a conversation's lifecycle state.
type State string

const (
	StateCreated    State = "created"
	StateActive     State = "active"
	StateCompressed State = "compressed"
	StateIdle       State = "idle"
)

// DefaultIdleTimeout is how long a conversation sits without a new turn
// before it is considered idle.
const DefaultIdleTimeout = 10 * time.Minute

// Enqueuer schedules an abbreviation pass. Satisfied by pipeline.Pipeline.
type Enqueuer interface {
	Enqueue(id string)
}

// Config holds configuration for the lifecycle manager.
type Config struct {
	// IdleTimeout is the inactivity window before a conversation goes idle.
	// Defaults to DefaultIdleTimeout. Negative disables the timers, leaving
	// only explicit Switch transitions.
	IdleTimeout time.Duration
}

type conversation struct {
	state   State
	channel string
	timer   *time.Timer
}

// Manager owns conversation states and idle timers.
type Manager struct {
	enqueue     Enqueuer
	publisher   eventstream.Publisher
	logger      *slog.Logger
	idleTimeout time.Duration

	mu     sync.Mutex
	convs  map[string]*conversation
	closed bool
}

// NewManager creates a lifecycle manager.
func NewManager(cfg Config, enqueue Enqueuer, publisher eventstream.Publisher, logger *slog.Logger) *Manager {
	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = DefaultIdleTimeout
	}

	return &Manager{
		enqueue:     enqueue,
		publisher:   publisher,
		logger:      logger,
		idleTimeout: idleTimeout,
		convs:       make(map[string]*conversation),
	}
}

// Register starts tracking a newly created conversation.
func (m *Manager) Register(id, channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if _, ok := m.convs[id]; ok {
		return
	}
	m.convs[id] = &conversation{state: StateCreated, channel: channel}
}

// Touch records activity: the conversation becomes Active (from any state)
// and its idle timer restarts.
func (m *Manager) Touch(id, channel string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	conv, ok := m.convs[id]
	if !ok {
		conv = &conversation{state: StateCreated, channel: channel}
		m.convs[id] = conv
	}

	m.transitionLocked(id, conv, StateActive)
	m.resetTimerLocked(id, conv)
}

// Switch marks a conversation as switched away from: it goes idle
// immediately and one abbreviation pass is enqueued.
func (m *Manager) Switch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[id]
	if !ok || m.closed {
		return
	}

	m.goIdleLocked(id, conv)
}

// RecordCompression marks the conversation as compressed. The transcript
// event itself is appended by the caller; compression never resets the idle
// timer.
func (m *Manager) RecordCompression(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[id]
	if !ok || m.closed {
		return
	}

	m.transitionLocked(id, conv, StateCompressed)
}

// State reports a conversation's current state and whether it is tracked.
func (m *Manager) State(id string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[id]
	if !ok {
		return "", false
	}
	return conv.state, true
}

// Close stops every idle timer. No further transitions happen.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for _, conv := range m.convs {
		if conv.timer != nil {
			conv.timer.Stop()
			conv.timer = nil
		}
	}
	return nil
}

func (m *Manager) resetTimerLocked(id string, conv *conversation) {
	if m.idleTimeout < 0 {
		return
	}

	if conv.timer != nil {
		conv.timer.Stop()
	}
	conv.timer = time.AfterFunc(m.idleTimeout, func() {
		m.onIdleTimer(id)
	})
}

func (m *Manager) onIdleTimer(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.convs[id]
	if !ok || m.closed {
		return
	}

	m.goIdleLocked(id, conv)
}

// goIdleLocked performs the idle transition exactly once: a conversation
// already idle stays put and nothing is re-enqueued.
func (m *Manager) goIdleLocked(id string, conv *conversation) {
	if conv.state == StateIdle {
		return
	}

	if conv.timer != nil {
		conv.timer.Stop()
		conv.timer = nil
	}

	m.transitionLocked(id, conv, StateIdle)
	m.enqueue.Enqueue(id)
}

func (m *Manager) transitionLocked(id string, conv *conversation, to State) {
	if conv.state == to {
		return
	}

	from := conv.state
	conv.state = to

	m.logger.Debug("conversation state changed",
		"conversation_id", id,
		"from", string(from),
		"to", string(to),
	)

	if err := m.publisher.Publish(context.Background(), &eventstream.ConversationEvent{
		SchemaVersion:  eventstream.SchemaVersionV1,
		EventType:      eventstream.EventTypeStateChanged,
		EventID:        utils.NewEventID(),
		EmittedAt:      time.Now().UTC(),
		ConversationID: id,
		Channel:        conv.channel,
		State:          string(to),
		OldState:       string(from),
	}); err != nil {
		m.logger.Warn("publishing state change failed", "conversation_id", id, "error", err)
	}
}
