// Package search fuses keyword and vector retrieval into one ranked result
// list using reciprocal rank fusion.
//
// Both branches are rank-based, so their incomparable raw scores (bm25 vs
// cosine similarity) never need normalizing. The vector branch is strictly
// optional: any failure there degrades the query to keyword-only rather
// than surfacing an error.
package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/spoolhq/spool/pkg/catalog"
	"github.com/spoolhq/spool/pkg/embeddings"
	"github.com/spoolhq/spool/pkg/index"
	"github.com/spoolhq/spool/pkg/vector"
)

const (
	// DefaultLimit is the number of results returned when none is requested.
	DefaultLimit = 10

	// DefaultRRFK is the reciprocal rank fusion constant: each branch
	// contributes 1/(k+rank) per conversation.
	DefaultRRFK = 60
)

// Options narrows a search.
type Options struct {
	// Limit caps the number of results. Defaults to DefaultLimit.
	Limit int

	// Channel restricts results to conversations on one channel.
	Channel string
}

// Result is one fused search hit.
type Result struct {
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title,omitempty"`
	Snippet        string    `json:"snippet,omitempty"`
	Score          float64   `json:"score"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Turn is the best-matching turn number from the keyword branch, 0 when
	// the hit came from the vector branch alone.
	Turn int `json:"turn,omitempty"`
}

// Fusion runs hybrid search over the keyword and vector indexes.
type Fusion struct {
	index    index.Driver
	vectors  vector.Driver
	embedder embeddings.Embedder
	store    *catalog.Store
	logger   *slog.Logger
	k        int
}

// NewFusion creates a search fusion. vectors and embedder may be nil, in
// which case every query is keyword-only.
func NewFusion(idx index.Driver, vectors vector.Driver, embedder embeddings.Embedder, store *catalog.Store, logger *slog.Logger) *Fusion {
	return &Fusion{
		index:    idx,
		vectors:  vectors,
		embedder: embedder,
		store:    store,
		logger:   logger,
		k:        DefaultRRFK,
	}
}

// candidate accumulates per-conversation fusion state.
type candidate struct {
	score   float64
	snippet string
	turn    int
}

// Search runs both branches and fuses them. It returns an error only when
// the keyword branch itself fails; a broken vector branch just narrows the
// results.
func (f *Fusion) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	// Overfetch per branch so fusion has something to reorder.
	fetchLimit := limit * 2

	hits, err := f.index.Search(ctx, query, fetchLimit, index.Filters{Channel: opts.Channel})
	if err != nil {
		return nil, err
	}

	candidates := make(map[string]*candidate)
	for rank, hit := range hits {
		candidates[hit.ConversationID] = &candidate{
			score:   rrf(f.k, rank),
			snippet: hit.Snippet,
			turn:    hit.Turn,
		}
	}

	for rank, id := range f.vectorBranch(ctx, query, fetchLimit, opts.Channel) {
		c, ok := candidates[id]
		if !ok {
			c = &candidate{}
			candidates[id] = c
		}
		c.score += rrf(f.k, rank)
	}

	results := make([]Result, 0, len(candidates))
	for id, c := range candidates {
		conv, err := f.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if opts.Channel != "" && conv.Channel != opts.Channel {
			continue
		}

		snippet := c.snippet
		if snippet == "" {
			snippet = conv.Abbreviation
		}

		results = append(results, Result{
			ConversationID: id,
			Title:          conv.Title,
			Snippet:        snippet,
			Score:          c.score,
			UpdatedAt:      conv.UpdatedAt,
			Turn:           c.turn,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].UpdatedAt.After(results[j].UpdatedAt)
	})

	if len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// vectorBranch returns conversation ids best-first, or nothing when the
// branch is unavailable or failing.
func (f *Fusion) vectorBranch(ctx context.Context, query string, fetchLimit int, channel string) []string {
	if f.vectors == nil || f.embedder == nil {
		return nil
	}

	count, err := f.vectors.Count(ctx)
	if err != nil {
		f.logger.Warn("vector index unavailable, keyword-only search", "error", err)
		return nil
	}
	if count == 0 {
		return nil
	}

	embedding, err := f.embedder.Embed(ctx, query)
	if err != nil {
		f.logger.Warn("query embedding failed, keyword-only search", "error", err)
		return nil
	}

	matches, err := f.vectors.Query(ctx, embedding, fetchLimit)
	if err != nil {
		f.logger.Warn("vector query failed, keyword-only search", "error", err)
		return nil
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ConversationID)
	}
	return ids
}

// rrf is the reciprocal rank fusion contribution for a zero-based rank.
func rrf(k, rank int) float64 {
	return 1.0 / float64(k+rank+1)
}
