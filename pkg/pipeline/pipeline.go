// Package pipeline runs the background summarize-then-embed flow that keeps
// the vector index current.
//
// Conversations are enqueued when they go idle. A single serial worker reads
// the transcript, asks the summarizer for an abbreviation (and a title when
// naming is due), embeds the abbreviation, and persists the record plus the
// vector. Callers never wait on any of this: Enqueue is non-blocking and a
// failed pass only flags the conversation for the periodic sweep to retry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spoolhq/spool/pkg/catalog"
	"github.com/spoolhq/spool/pkg/embeddings"
	"github.com/spoolhq/spool/pkg/eventstream"
	"github.com/spoolhq/spool/pkg/summarize"
	"github.com/spoolhq/spool/pkg/transcript"
	"github.com/spoolhq/spool/pkg/utils"
	"github.com/spoolhq/spool/pkg/vector"
)

const (
	// DefaultSweepInterval is how often flagged conversations are re-enqueued.
	DefaultSweepInterval = 5 * time.Minute

	// DefaultQueueSize bounds the number of queued conversation ids.
	DefaultQueueSize = 256

	// maxAbbreviationLen bounds the stored abbreviation text.
	maxAbbreviationLen = 2000

	// Naming triggers: first title at turn namingFirstTurn, then again each
	// time namingRenameGap turns have passed since the last rename.
	namingFirstTurn = 5
	namingRenameGap = 10
)

// Config holds configuration for the pipeline.
type Config struct {
	// SweepInterval is how often flagged conversations are re-enqueued.
	// Defaults to DefaultSweepInterval. Negative disables the sweep.
	SweepInterval time.Duration

	// QueueSize bounds the queue. Defaults to DefaultQueueSize.
	QueueSize int
}

// Pipeline is the abbreviation worker.
type Pipeline struct {
	log        *transcript.Log
	store      *catalog.Store
	summarizer summarize.Summarizer
	embedder   embeddings.Embedder
	vectors    vector.Driver
	publisher  eventstream.Publisher
	logger     *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}

	queue chan string
	quit  chan struct{}
	wg    sync.WaitGroup
}

// New creates and starts a pipeline: one serial worker plus the retry sweep.
func New(
	cfg Config,
	log *transcript.Log,
	store *catalog.Store,
	summarizer summarize.Summarizer,
	embedder embeddings.Embedder,
	vectors vector.Driver,
	publisher eventstream.Publisher,
	logger *slog.Logger,
) *Pipeline {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	sweepInterval := cfg.SweepInterval
	if sweepInterval == 0 {
		sweepInterval = DefaultSweepInterval
	}

	p := &Pipeline{
		log:        log,
		store:      store,
		summarizer: summarizer,
		embedder:   embedder,
		vectors:    vectors,
		publisher:  publisher,
		logger:     logger,
		pending:    make(map[string]struct{}),
		queue:      make(chan string, queueSize),
		quit:       make(chan struct{}),
	}

	p.wg.Add(1)
	go p.worker()

	if sweepInterval > 0 {
		p.wg.Add(1)
		go p.sweep(sweepInterval)
	}

	return p
}

// Enqueue schedules an abbreviation pass for a conversation. It never
// blocks, and an id that is already queued is dropped. An enqueue during an
// in-flight pass for the same id queues exactly one follow-up pass.
func (p *Pipeline) Enqueue(id string) {
	p.mu.Lock()
	if _, ok := p.pending[id]; ok {
		p.mu.Unlock()
		return
	}
	p.pending[id] = struct{}{}
	p.mu.Unlock()

	select {
	case p.queue <- id:
	default:
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		p.logger.Warn("abbreviation queue full, dropping enqueue", "conversation_id", id)
	}
}

// PendingCount reports how many conversations are waiting in the queue.
func (p *Pipeline) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close drains the queue, processes what remains, and stops the worker and
// sweep.
func (p *Pipeline) Close() error {
	close(p.quit)
	p.wg.Wait()
	return nil
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.quit:
			// Drain what is already queued, then stop.
			for {
				select {
				case id := <-p.queue:
					p.run(id)
				default:
					return
				}
			}
		case id := <-p.queue:
			p.run(id)
		}
	}
}

func (p *Pipeline) run(id string) {
	// Leave the pending set before processing, not after. An enqueue that
	// arrives while the pass runs (new turns landed and the conversation
	// idled again) then queues exactly one follow-up pass instead of being
	// dropped against a stale result. The single worker still serializes
	// passes per conversation.
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()

	ctx := context.Background()

	if err := p.process(ctx, id); err != nil {
		p.logger.Error("abbreviation pass failed", "conversation_id", id, "error", err)
	}
}

func (p *Pipeline) sweep(interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			ids, err := p.store.ListNeedingAbbreviation(context.Background())
			if err != nil {
				p.logger.Error("abbreviation sweep failed", "error", err)
				continue
			}
			for _, id := range ids {
				p.Enqueue(id)
			}
			if len(ids) > 0 {
				p.logger.Debug("abbreviation sweep re-enqueued conversations", "count", len(ids))
			}
		}
	}
}

// process runs one summarize-embed-persist pass for a conversation.
func (p *Pipeline) process(ctx context.Context, id string) error {
	conv, err := p.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			p.logger.Warn("skipping abbreviation for unknown conversation", "conversation_id", id)
			return nil
		}
		return err
	}

	tail, err := p.log.ReadTail(ctx, id, 0)
	if err != nil {
		p.flag(ctx, id)
		return fmt.Errorf("reading transcript: %w", err)
	}
	if len(tail.Turns) == 0 {
		return nil
	}

	req := summarize.Request{
		ConversationID: id,
		Title:          conv.Title,
		WantTitle:      namingDue(conv),
	}
	for _, turn := range tail.Turns {
		if tail.Compression != nil && turn.Number <= tail.Compression.CompressedThrough {
			continue
		}
		req.Turns = append(req.Turns, turn.Role+": "+turn.Content)
	}
	if tail.Compression != nil {
		req.Summary = tail.Compression.Summary
	}

	result, err := p.summarizer.Summarize(ctx, req)
	if err != nil {
		p.flag(ctx, id)
		return fmt.Errorf("summarizing: %w", err)
	}

	abbreviation := utils.Truncate(result.Abbreviation, maxAbbreviationLen)

	if p.embedder == nil || p.vectors == nil {
		// Keyword-only deployment: keep the text for display and clear
		// the flag. Recovery re-enqueues if embedding is enabled later,
		// since the record carries no embedding model.
		if err := p.store.SetAbbreviation(ctx, catalog.AbbreviationRecord{
			ConversationID: id,
			Abbreviation:   abbreviation,
			GeneratedAt:    time.Now().UTC(),
		}); err != nil {
			p.flag(ctx, id)
			return fmt.Errorf("persisting abbreviation: %w", err)
		}
		if req.WantTitle && result.Title != "" {
			p.rename(ctx, conv, result.Title, result.Topics)
		}
		return nil
	}

	embedding, err := p.embedder.Embed(ctx, abbreviation)
	if err != nil {
		// The text is still useful for display; keep it and leave the
		// conversation flagged so the sweep retries the embed.
		if storeErr := p.store.SetAbbreviationText(ctx, id, abbreviation); storeErr != nil {
			p.logger.Error("storing abbreviation text failed", "conversation_id", id, "error", storeErr)
		}
		return fmt.Errorf("embedding abbreviation: %w", err)
	}

	if err := p.vectors.Upsert(ctx, []vector.Document{{
		ConversationID: id,
		Embedding:      embedding,
	}}); err != nil {
		p.flag(ctx, id)
		return fmt.Errorf("upserting vector: %w", err)
	}

	if err := p.store.SetAbbreviation(ctx, catalog.AbbreviationRecord{
		ConversationID: id,
		Abbreviation:   abbreviation,
		EmbeddingModel: p.embedder.Model(),
		GeneratedAt:    time.Now().UTC(),
	}); err != nil {
		p.flag(ctx, id)
		return fmt.Errorf("persisting abbreviation: %w", err)
	}

	// Record the abbreviation in the transcript so the catalog stays
	// rebuildable from the log alone. Best effort.
	if err := p.log.Append(ctx, id, transcript.NewEventLine(transcript.Event{
		Subtype:      transcript.EventAbbreviation,
		Timestamp:    time.Now().UTC(),
		Abbreviation: abbreviation,
	})); err != nil {
		p.logger.Warn("recording abbreviation event failed", "conversation_id", id, "error", err)
	}

	if req.WantTitle && result.Title != "" {
		p.rename(ctx, conv, result.Title, result.Topics)
	}

	p.logger.Debug("abbreviation pass completed", "conversation_id", id)

	return nil
}

// rename applies an auto-generated title, skipping conversations the user
// has named themselves.
func (p *Pipeline) rename(ctx context.Context, conv *catalog.Conversation, title string, topics []string) {
	renamed, err := p.store.SetTitle(ctx, conv.ID, title, topics, false)
	if err != nil {
		p.logger.Error("auto-rename failed", "conversation_id", conv.ID, "error", err)
		return
	}
	if !renamed {
		return
	}

	if err := p.store.SetLastRenamedTurn(ctx, conv.ID, conv.TurnCount); err != nil {
		p.logger.Error("updating rename marker failed", "conversation_id", conv.ID, "error", err)
	}

	if err := p.log.Append(ctx, conv.ID, transcript.NewEventLine(transcript.Event{
		Subtype:   transcript.EventTitleAssigned,
		Timestamp: time.Now().UTC(),
		Title:     title,
		Topics:    topics,
	})); err != nil {
		p.logger.Warn("recording title event failed", "conversation_id", conv.ID, "error", err)
	}

	if err := p.publisher.Publish(ctx, &eventstream.ConversationEvent{
		SchemaVersion:  eventstream.SchemaVersionV1,
		EventType:      eventstream.EventTypeConversationRenamed,
		EventID:        utils.NewEventID(),
		EmittedAt:      time.Now().UTC(),
		ConversationID: conv.ID,
		Channel:        conv.Channel,
		Title:          title,
		OldTitle:       conv.Title,
	}); err != nil {
		p.logger.Warn("publishing rename event failed", "conversation_id", conv.ID, "error", err)
	}
}

func (p *Pipeline) flag(ctx context.Context, id string) {
	if err := p.store.SetNeedsAbbreviation(ctx, id, true); err != nil {
		p.logger.Error("flagging conversation for retry failed", "conversation_id", id, "error", err)
	}
}

// namingDue reports whether this pass should also produce a title. The
// first title lands once the conversation has a few turns; after that a
// rename is due each time enough new turns have accumulated.
func namingDue(conv *catalog.Conversation) bool {
	if conv.ManuallyNamed {
		return false
	}
	if conv.LastRenamedTurn == 0 {
		return conv.TurnCount >= namingFirstTurn
	}
	return conv.TurnCount-conv.LastRenamedTurn >= namingRenameGap
}
