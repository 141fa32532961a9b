package analysis

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/4-nyang-dan/mindtrack-ai/internal/vector"
)

// BatchContext is what one analysis cycle contributed to, and retrieved from,
// the vector context store.
type BatchContext struct {
	// RecordID is the id assigned to the freshly stored description.
	RecordID int64

	// Recent is the text of the most recent prior record.
	Recent string

	// Similar is the text of the nearest prior record by embedding distance.
	Similar string
}

// ContextBuilder maintains the vector context store across analysis cycles:
// each successful description is embedded and appended, then recent and
// similar prior descriptions are pulled back out for prompting.
type ContextBuilder struct {
	embedder Embedder
	index    vector.Index
	recentK  int
	topK     int
}

// NewContextBuilder creates a context builder.
func NewContextBuilder(embedder Embedder, index vector.Index, recentK, topK int) *ContextBuilder {
	if recentK <= 0 {
		recentK = 3
	}
	if topK <= 0 {
		topK = 2
	}
	return &ContextBuilder{embedder: embedder, index: index, recentK: recentK, topK: topK}
}

// Observe embeds a new description, appends it to the index, persists the
// index and returns recent/similar context excluding the new record itself.
func (b *ContextBuilder) Observe(ctx context.Context, file, description string) (*BatchContext, error) {
	embedding, err := b.embedder.Embed(ctx, description)
	if err != nil {
		return nil, fmt.Errorf("embed description: %w", err)
	}

	id, err := b.index.Add(ctx, embedding, vector.Metadata{File: file, Text: description})
	if err != nil {
		return nil, fmt.Errorf("store embedding: %w", err)
	}
	if err := b.index.Save(ctx); err != nil {
		// The record is in memory; a failed snapshot only costs durability.
		log.Warn().Err(err).Msg("Failed to persist vector index")
	}

	out := &BatchContext{RecordID: id}

	recent, err := b.index.Recent(ctx, b.recentK)
	if err != nil {
		return nil, fmt.Errorf("recent context: %w", err)
	}
	// The newest record is the one just added. The scan runs newest-first, so
	// the newest prior record wins, not the oldest of the last-k window: the
	// closest-in-time screen is the better prompt.
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].ID != id {
			out.Recent = recent[i].Meta.Text
			break
		}
	}

	hits, err := b.index.Search(ctx, embedding, b.topK, id)
	if err != nil {
		return nil, fmt.Errorf("similar context: %w", err)
	}
	if len(hits) > 0 {
		out.Similar = hits[0].Meta.Text
	}

	return out, nil
}

// ContextFor retrieves current/recent/similar context for arbitrary text
// without storing it. Used for ad-hoc question answering. Current is the
// newest stored description; recent is the oldest of the last-k window, empty
// when only one record exists.
func (b *ContextBuilder) ContextFor(ctx context.Context, text string) (current, recent, similar string, err error) {
	records, err := b.index.Recent(ctx, b.recentK)
	if err != nil {
		return "", "", "", fmt.Errorf("recent context: %w", err)
	}
	if len(records) > 0 {
		current = records[len(records)-1].Meta.Text
	}
	if len(records) > 1 {
		recent = records[0].Meta.Text
	}

	embedding, err := b.embedder.Embed(ctx, text)
	if err != nil {
		return "", "", "", fmt.Errorf("embed question: %w", err)
	}
	hits, err := b.index.Search(ctx, embedding, 1, 0)
	if err != nil {
		return "", "", "", fmt.Errorf("similar context: %w", err)
	}
	if len(hits) > 0 {
		similar = hits[0].Meta.Text
	}
	return current, recent, similar, nil
}
