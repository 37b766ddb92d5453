// Package conversations is the facade over spool's persistence and
// retrieval machinery: durable appends, synchronous keyword indexing,
// lifecycle tracking, hybrid search, context hydration, and startup
// recovery.
//
// AppendTurn is the only operation that may fail loudly; everything
// downstream of the durable write (indexing, catalog upkeep, events) is a
// rebuildable projection and degrades to a logged warning.
package conversations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spoolhq/spool/pkg/catalog"
	"github.com/spoolhq/spool/pkg/embeddings"
	"github.com/spoolhq/spool/pkg/eventstream"
	"github.com/spoolhq/spool/pkg/index"
	"github.com/spoolhq/spool/pkg/lifecycle"
	"github.com/spoolhq/spool/pkg/search"
	"github.com/spoolhq/spool/pkg/transcript"
	"github.com/spoolhq/spool/pkg/utils"
	"github.com/spoolhq/spool/pkg/vector"
)

// DefaultHydrateTurns is the tail window used by HydrateContext when the
// caller does not size it.
const DefaultHydrateTurns = 50

// Enqueuer schedules an abbreviation pass. Satisfied by pipeline.Pipeline.
type Enqueuer interface {
	Enqueue(id string)
}

// Config holds configuration for the core facade.
type Config struct {
	// HydrateTurns is the default tail window for context hydration.
	// Defaults to DefaultHydrateTurns.
	HydrateTurns int
}

// Deps are the collaborators the core is wired with. Vectors and Embedder
// may be nil when the deployment runs keyword-only.
type Deps struct {
	Log       *transcript.Log
	Store     *catalog.Store
	Index     index.Driver
	Vectors   vector.Driver
	Embedder  embeddings.Embedder
	Lifecycle *lifecycle.Manager
	Pipeline  Enqueuer
	Fusion    *search.Fusion
	Publisher eventstream.Publisher
	Logger    *slog.Logger
}

// Core implements the external conversation interface.
type Core struct {
	log       *transcript.Log
	store     *catalog.Store
	index     index.Driver
	vectors   vector.Driver
	embedder  embeddings.Embedder
	lifecycle *lifecycle.Manager
	pipeline  Enqueuer
	fusion    *search.Fusion
	publisher eventstream.Publisher
	logger    *slog.Logger

	hydrateTurns int
}

// New creates the core facade.
func New(cfg Config, deps Deps) *Core {
	hydrateTurns := cfg.HydrateTurns
	if hydrateTurns <= 0 {
		hydrateTurns = DefaultHydrateTurns
	}

	return &Core{
		log:          deps.Log,
		store:        deps.Store,
		index:        deps.Index,
		vectors:      deps.Vectors,
		embedder:     deps.Embedder,
		lifecycle:    deps.Lifecycle,
		pipeline:     deps.Pipeline,
		fusion:       deps.Fusion,
		publisher:    deps.Publisher,
		logger:       deps.Logger,
		hydrateTurns: hydrateTurns,
	}
}

// TurnMeta carries the optional metadata of an incoming turn.
type TurnMeta struct {
	// Channel is where the turn arrived (telegram, email, ...). Required
	// when the turn creates a new conversation; otherwise it overrides the
	// conversation's channel for this turn only.
	Channel string

	// Sender identifies who produced the turn.
	Sender string

	// Participants seeds the participant list of a new conversation.
	Participants []string

	// Usage is optional token and cost metadata.
	Usage *transcript.Usage
}

// AppendResult reports what AppendTurn did.
type AppendResult struct {
	ConversationID string `json:"conversation_id"`
	Turn           int    `json:"turn"`
	Created        bool   `json:"created"`
}

// AppendTurn durably records one turn. An empty conversationID creates a
// new conversation; an unknown one is created with that id. The durable
// write must succeed or the call fails; indexing and catalog upkeep behind
// it never block the caller.
func (c *Core) AppendTurn(ctx context.Context, conversationID, role, content string, meta TurnMeta) (*AppendResult, error) {
	if role != transcript.RoleUser && role != transcript.RoleAssistant {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if content == "" {
		return nil, fmt.Errorf("turn content is required")
	}

	now := time.Now().UTC()
	created := false

	var conv *catalog.Conversation
	if conversationID == "" {
		conversationID = utils.NewConversationID()
	} else {
		existing, err := c.store.Get(ctx, conversationID)
		if err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return nil, err
		}
		conv = existing
	}

	if conv == nil {
		newConv, err := c.createConversation(ctx, conversationID, meta, now)
		if err != nil {
			return nil, err
		}
		conv = newConv
		created = true
	}

	number := nextTurnNumber(conv.TurnCount, role)

	channel := meta.Channel
	turnChannel := ""
	if channel == "" || channel == conv.Channel {
		channel = conv.Channel
	} else {
		turnChannel = channel
	}

	turn := transcript.Turn{
		Role:      role,
		Content:   content,
		Number:    number,
		Timestamp: now,
		Channel:   turnChannel,
		Sender:    meta.Sender,
		Usage:     meta.Usage,
	}

	if err := c.log.Append(ctx, conversationID, transcript.NewTurnLine(turn)); err != nil {
		return nil, err
	}

	// Synchronous keyword indexing: the turn is searchable when this call
	// returns. A failure is repaired by recovery, not surfaced.
	if err := c.index.IndexTurn(ctx, index.Row{
		ConversationID: conversationID,
		Turn:           number,
		Role:           role,
		Channel:        channel,
		Timestamp:      now,
		Content:        role + ": " + content,
	}); err != nil {
		c.logger.Error("keyword indexing failed", "conversation_id", conversationID, "turn", number, "error", err)
	}

	if err := c.store.Touch(ctx, conversationID, number, now); err != nil {
		c.logger.Error("catalog touch failed", "conversation_id", conversationID, "error", err)
	}

	c.lifecycle.Touch(conversationID, channel)

	return &AppendResult{
		ConversationID: conversationID,
		Turn:           number,
		Created:        created,
	}, nil
}

// createConversation writes the meta line and the catalog row for a new
// conversation. The meta line is the durable part; everything after it is
// projection.
func (c *Core) createConversation(ctx context.Context, id string, meta TurnMeta, now time.Time) (*catalog.Conversation, error) {
	if meta.Channel == "" {
		return nil, fmt.Errorf("channel is required for a new conversation")
	}

	if err := c.log.Append(ctx, id, transcript.NewMetaLine(id, meta.Channel, now, meta.Participants)); err != nil {
		return nil, fmt.Errorf("creating transcript: %w", err)
	}

	conv := catalog.Conversation{
		ID:           id,
		Channel:      meta.Channel,
		Participants: meta.Participants,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := c.store.Create(ctx, conv); err != nil {
		c.logger.Error("catalog create failed", "conversation_id", id, "error", err)
	}

	c.lifecycle.Register(id, meta.Channel)

	if err := c.publisher.Publish(ctx, &eventstream.ConversationEvent{
		SchemaVersion:  eventstream.SchemaVersionV1,
		EventType:      eventstream.EventTypeConversationCreated,
		EventID:        utils.NewEventID(),
		EmittedAt:      now,
		ConversationID: id,
		Channel:        meta.Channel,
	}); err != nil {
		c.logger.Warn("publishing creation event failed", "conversation_id", id, "error", err)
	}

	return &conv, nil
}

// nextTurnNumber assigns the turn number: a user turn opens a new pair, the
// assistant reply shares its number.
func nextTurnNumber(current int, role string) int {
	if role == transcript.RoleUser || current == 0 {
		return current + 1
	}
	return current
}

// OnCompression records that the conversational engine compressed its
// context through the given turn. The summary lands in the transcript; this
// core never compresses anything itself.
func (c *Core) OnCompression(ctx context.Context, conversationID string, through int, summary string) error {
	if through <= 0 {
		return fmt.Errorf("compression boundary must be positive")
	}
	if summary == "" {
		return fmt.Errorf("compression summary is required")
	}

	err := c.log.Append(ctx, conversationID, transcript.NewEventLine(transcript.Event{
		Subtype:           transcript.EventCompression,
		Timestamp:         time.Now().UTC(),
		CompressedThrough: through,
		Summary:           summary,
	}))
	if err != nil {
		return err
	}

	c.lifecycle.RecordCompression(conversationID)

	return nil
}

// Switch marks a conversation as switched away from, sending it idle.
func (c *Core) Switch(conversationID string) {
	c.lifecycle.Switch(conversationID)
}

// Search runs hybrid retrieval over all conversations.
func (c *Core) Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	return c.fusion.Search(ctx, query, opts)
}

// Rename applies a user-chosen title. Manual titles stick: the pipeline's
// auto-naming never overwrites them afterwards.
func (c *Core) Rename(ctx context.Context, conversationID, title string) error {
	if title == "" {
		return fmt.Errorf("title is required")
	}

	conv, err := c.store.Get(ctx, conversationID)
	if err != nil {
		return err
	}

	if _, err := c.store.SetTitle(ctx, conversationID, title, conv.Topics, true); err != nil {
		return err
	}

	if err := c.log.Append(ctx, conversationID, transcript.NewEventLine(transcript.Event{
		Subtype:   transcript.EventTitleAssigned,
		Timestamp: time.Now().UTC(),
		Title:     title,
	})); err != nil {
		c.logger.Warn("recording title event failed", "conversation_id", conversationID, "error", err)
	}

	if err := c.publisher.Publish(ctx, &eventstream.ConversationEvent{
		SchemaVersion:  eventstream.SchemaVersionV1,
		EventType:      eventstream.EventTypeConversationRenamed,
		EventID:        utils.NewEventID(),
		EmittedAt:      time.Now().UTC(),
		ConversationID: conversationID,
		Channel:        conv.Channel,
		Title:          title,
		OldTitle:       conv.Title,
	}); err != nil {
		c.logger.Warn("publishing rename event failed", "conversation_id", conversationID, "error", err)
	}

	return nil
}

// Get returns a conversation's catalog entry.
func (c *Core) Get(ctx context.Context, conversationID string) (*catalog.Conversation, error) {
	return c.store.Get(ctx, conversationID)
}

// List returns all conversations, most recently updated first.
func (c *Core) List(ctx context.Context) ([]catalog.Conversation, error) {
	return c.store.List(ctx)
}

// FetchTurns returns the turns of a conversation with from <= number <= to.
// Zero bounds are open.
func (c *Core) FetchTurns(ctx context.Context, conversationID string, from, to int) ([]transcript.Turn, error) {
	var turns []transcript.Turn
	err := c.log.ReadAll(ctx, conversationID, func(line transcript.Line) error {
		if line.Type != transcript.TypeTurn {
			return nil
		}
		if from > 0 && line.Turn.Number < from {
			return nil
		}
		if to > 0 && line.Turn.Number > to {
			return nil
		}
		turns = append(turns, *line.Turn)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return turns, nil
}
