// Package pipeline implements the ingestion, batching and analysis pipeline:
// scanner, per-user window collectors, the dispatcher hand-off queue and the
// analyzer worker pool.
package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/4-nyang-dan/mindtrack-ai/internal/store"
)

// Batch is one user's collected window of screenshots, materialized into a
// working directory. Ownership of the directory is exclusive to the analyzer
// worker that pulls the batch, which destroys it unconditionally.
type Batch struct {
	ID       uuid.UUID
	UserID   int64
	Dir      string
	ImageIDs []int64
}

// ImageQueue is the subset of the blob/queue store the pipeline needs.
type ImageQueue interface {
	PopPending(ctx context.Context, userID int64) (int64, bool, error)
	GetImage(ctx context.Context, userID, imageID int64) ([]byte, error)
	Ack(ctx context.Context, userID, imageID int64) error
	ActiveUsers(ctx context.Context) ([]int64, error)
}

// ItemStates records item state-machine transitions.
type ItemStates interface {
	MarkInProgress(ctx context.Context, userID int64, imageIDs []int64) error
	MarkDone(ctx context.Context, userID int64, imageIDs []int64) error
	MarkFailed(ctx context.Context, userID int64, imageIDs []int64, reason string) error
}

// SuggestionWriter persists batch analysis results.
type SuggestionWriter interface {
	CreateSuggestion(ctx context.Context, sugg *store.Suggestion, items []store.SuggestionItem) (int64, error)
}
