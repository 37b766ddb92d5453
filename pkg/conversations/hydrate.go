package conversations

import (
	"context"

	"github.com/spoolhq/spool/pkg/transcript"
)

// Context is the ephemeral working context handed to the conversational
// engine. It lives only in process memory and is fully reconstructible from
// the transcript at any time.
type Context struct {
	ConversationID string            `json:"conversation_id"`
	Channel        string            `json:"channel,omitempty"`
	Title          string            `json:"title,omitempty"`
	Turns          []transcript.Turn `json:"turns"`

	// Summary is the latest compression summary, prepended as synthetic
	// context standing in for the turns it covers. Empty if the
	// conversation was never compressed.
	Summary string `json:"summary,omitempty"`

	// SummaryThrough is the turn number the summary covers through, 0 when
	// Summary is empty.
	SummaryThrough int `json:"summary_through,omitempty"`
}

// HydrateContext rebuilds the working context with the default tail window.
func (c *Core) HydrateContext(ctx context.Context, conversationID string) (*Context, error) {
	return c.Hydrate(ctx, conversationID, c.hydrateTurns)
}

// Hydrate rebuilds the working context from the last maxTurns turns of the
// transcript. Turns already covered by the latest compression event are
// replaced by its summary.
func (c *Core) Hydrate(ctx context.Context, conversationID string, maxTurns int) (*Context, error) {
	tail, err := c.log.ReadTail(ctx, conversationID, maxTurns)
	if err != nil {
		return nil, err
	}

	hydrated := &Context{
		ConversationID: conversationID,
		Turns:          tail.Turns,
	}
	if tail.Meta != nil {
		hydrated.Channel = tail.Meta.Channel
	}

	if conv, err := c.store.Get(ctx, conversationID); err == nil {
		hydrated.Title = conv.Title
	}

	if tail.Compression != nil {
		hydrated.Summary = tail.Compression.Summary
		hydrated.SummaryThrough = tail.Compression.CompressedThrough

		kept := hydrated.Turns[:0]
		for _, turn := range hydrated.Turns {
			if turn.Number > tail.Compression.CompressedThrough {
				kept = append(kept, turn)
			}
		}
		hydrated.Turns = kept
	}

	return hydrated, nil
}
