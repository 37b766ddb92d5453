package conversations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spoolhq/spool/pkg/catalog"
	"github.com/spoolhq/spool/pkg/index"
	"github.com/spoolhq/spool/pkg/transcript"
)

// RecoveryStats summarizes one startup recovery pass.
type RecoveryStats struct {
	// Conversations is how many transcripts were examined.
	Conversations int

	// CreatedRows is how many missing catalog rows were recreated.
	CreatedRows int

	// Reindexed is how many conversations had keyword-index drift and were
	// fully re-indexed.
	Reindexed int

	// Enqueued is how many conversations were handed to the abbreviation
	// pipeline.
	Enqueued int

	// OrphanRows is how many catalog rows had no transcript behind them.
	OrphanRows int
}

// transcriptSummary is what one recovery scan of a transcript yields.
type transcriptSummary struct {
	meta         *transcript.Meta
	turnLines    int
	maxNumber    int
	lastActivity time.Time
	title        string
	topics       []string
	abbreviation string
}

// Recover reconciles the derived stores with the transcripts after a
// restart. Transcripts are the source of truth: missing catalog rows are
// recreated, drifted keyword indexes are rebuilt, and conversations whose
// abbreviation is missing, stale, or from another embedding model are
// re-enqueued. Catalog rows with no transcript behind them are reported.
func (c *Core) Recover(ctx context.Context) (*RecoveryStats, error) {
	ids, err := c.log.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing transcripts: %w", err)
	}

	stats := &RecoveryStats{}

	for _, id := range ids {
		stats.Conversations++

		summary, err := c.scanTranscript(ctx, id)
		if err != nil {
			c.logger.Error("recovery scan failed", "conversation_id", id, "error", err)
			continue
		}

		created, err := c.recoverCatalogRow(ctx, id, summary)
		if err != nil {
			c.logger.Error("recovering catalog row failed", "conversation_id", id, "error", err)
			continue
		}
		if created {
			stats.CreatedRows++
		}

		reindexed, err := c.recoverKeywordIndex(ctx, id, summary)
		if err != nil {
			c.logger.Error("recovering keyword index failed", "conversation_id", id, "error", err)
		}
		if reindexed {
			stats.Reindexed++
		}

		if c.needsAbbreviationPass(ctx, id) {
			c.pipeline.Enqueue(id)
			stats.Enqueued++
		}
	}

	// The reverse direction: a catalog row whose transcript is gone has
	// nothing to rebuild from. Surface it but leave the row in place.
	rows, err := c.store.List(ctx)
	if err != nil {
		c.logger.Error("listing catalog rows failed", "error", err)
	} else {
		for _, conv := range rows {
			if !c.log.Exists(conv.ID) {
				stats.OrphanRows++
				c.logger.Warn("catalog row has no transcript", "conversation_id", conv.ID)
			}
		}
	}

	c.logger.Info("recovery completed",
		"conversations", stats.Conversations,
		"created_rows", stats.CreatedRows,
		"reindexed", stats.Reindexed,
		"enqueued", stats.Enqueued,
		"orphan_rows", stats.OrphanRows,
	)

	return stats, nil
}

func (c *Core) scanTranscript(ctx context.Context, id string) (*transcriptSummary, error) {
	s := &transcriptSummary{}

	err := c.log.ReadAll(ctx, id, func(line transcript.Line) error {
		switch line.Type {
		case transcript.TypeMeta:
			s.meta = line.Meta
		case transcript.TypeTurn:
			s.turnLines++
			if line.Turn.Number > s.maxNumber {
				s.maxNumber = line.Turn.Number
			}
			if line.Turn.Timestamp.After(s.lastActivity) {
				s.lastActivity = line.Turn.Timestamp
			}
		case transcript.TypeEvent:
			switch line.Event.Subtype {
			case transcript.EventTitleAssigned:
				s.title = line.Event.Title
				s.topics = line.Event.Topics
			case transcript.EventAbbreviation:
				s.abbreviation = line.Event.Abbreviation
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}

// recoverCatalogRow recreates a missing catalog row from the transcript.
// Whether a recovered title was manually chosen is unknowable from the log,
// so recreated rows are treated as auto-named.
func (c *Core) recoverCatalogRow(ctx context.Context, id string, s *transcriptSummary) (bool, error) {
	_, err := c.store.Get(ctx, id)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, catalog.ErrNotFound) {
		return false, err
	}

	channel := ""
	createdAt := s.lastActivity
	if s.meta != nil {
		channel = s.meta.Channel
		createdAt = s.meta.CreatedAt
	}
	updatedAt := s.lastActivity
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	conv := catalog.Conversation{
		ID:                id,
		Channel:           channel,
		Title:             s.title,
		Topics:            s.topics,
		TurnCount:         s.maxNumber,
		Abbreviation:      s.abbreviation,
		NeedsAbbreviation: s.turnLines > 0,
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}
	if err := c.store.Create(ctx, conv); err != nil {
		return false, err
	}

	c.logger.Info("recreated catalog row from transcript", "conversation_id", id)

	return true, nil
}

// recoverKeywordIndex rebuilds a conversation's keyword rows when the index
// row count disagrees with the transcript.
func (c *Core) recoverKeywordIndex(ctx context.Context, id string, s *transcriptSummary) (bool, error) {
	indexed, err := c.index.CountTurns(ctx, id)
	if err != nil {
		return false, err
	}
	if indexed == s.turnLines {
		return false, nil
	}

	c.logger.Warn("keyword index drift, re-indexing conversation",
		"conversation_id", id,
		"indexed", indexed,
		"transcript", s.turnLines,
	)

	if err := c.index.DeleteConversation(ctx, id); err != nil {
		return false, err
	}

	channel := ""
	if s.meta != nil {
		channel = s.meta.Channel
	}

	err = c.log.ReadAll(ctx, id, func(line transcript.Line) error {
		if line.Type != transcript.TypeTurn {
			return nil
		}
		turnChannel := line.Turn.Channel
		if turnChannel == "" {
			turnChannel = channel
		}
		return c.index.IndexTurn(ctx, index.Row{
			ConversationID: id,
			Turn:           line.Turn.Number,
			Role:           line.Turn.Role,
			Channel:        turnChannel,
			Timestamp:      line.Turn.Timestamp,
			Content:        line.Turn.Role + ": " + line.Turn.Content,
		})
	})
	if err != nil {
		return false, err
	}

	return true, nil
}

// needsAbbreviationPass reports whether recovery should re-enqueue the
// conversation: the retry flag is set, no abbreviation record exists, or
// the record was embedded with a different model than the one now
// configured.
func (c *Core) needsAbbreviationPass(ctx context.Context, id string) bool {
	conv, err := c.store.Get(ctx, id)
	if err != nil {
		return false
	}
	if conv.TurnCount == 0 {
		return false
	}
	if conv.NeedsAbbreviation {
		return true
	}

	rec, err := c.store.GetAbbreviation(ctx, id)
	if err != nil {
		return true
	}
	if c.embedder != nil && rec.EmbeddingModel != c.embedder.Model() {
		c.logger.Info("embedding model changed, re-embedding conversation",
			"conversation_id", id,
			"old_model", rec.EmbeddingModel,
			"new_model", c.embedder.Model(),
		)
		return true
	}

	return false
}
