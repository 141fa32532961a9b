package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/4-nyang-dan/mindtrack-ai/internal/queue"
	"github.com/4-nyang-dan/mindtrack-ai/internal/store"
)

// ClaimLoopConfig tunes the relational claim ingress.
type ClaimLoopConfig struct {
	Window   time.Duration
	MaxItems int
	Poll     time.Duration // backoff when nothing is pending
	WorkRoot string
}

// ClaimLoop is the relational-store ingress variant: instead of per-user
// queue-draining collectors, it claims time-windowed item groups from the
// durable state machine and materializes them into dispatcher batches. The
// claim itself (SKIP LOCKED) guarantees single ownership, so multiple claim
// loops may run across processes.
type ClaimLoop struct {
	coord      store.ClaimCoordinator
	queue      ImageQueue
	states     ItemStates
	dispatcher *Dispatcher
	cfg        ClaimLoopConfig
	logger     zerolog.Logger
}

// NewClaimLoop creates a claim-based batch producer.
func NewClaimLoop(coord store.ClaimCoordinator, q ImageQueue, states ItemStates, d *Dispatcher, cfg ClaimLoopConfig, logger zerolog.Logger) *ClaimLoop {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Second
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 20
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 1 * time.Second
	}
	return &ClaimLoop{
		coord:      coord,
		queue:      q,
		states:     states,
		dispatcher: d,
		cfg:        cfg,
		logger:     logger.With().Str("component", "claim-loop").Logger(),
	}
}

// Run claims and dispatches until the context is cancelled.
func (l *ClaimLoop) Run(ctx context.Context) {
	l.logger.Info().Dur("window", l.cfg.Window).Int("max_items", l.cfg.MaxItems).
		Msg("Claim loop started")

	for ctx.Err() == nil {
		dispatched, err := l.claimOnce(ctx)
		if err != nil && ctx.Err() == nil {
			l.logger.Error().Err(err).Msg("Claim iteration failed")
			sleepCtx(ctx, l.cfg.Poll)
			continue
		}
		if !dispatched {
			sleepCtx(ctx, l.cfg.Poll)
		}
	}
	l.logger.Info().Msg("Claim loop stopped")
}

// claimOnce claims one window and hands it to the dispatcher. Returns false
// when nothing was pending.
func (l *ClaimLoop) claimOnce(ctx context.Context) (bool, error) {
	claimed, err := l.coord.ClaimWindow(ctx, l.cfg.Window, l.cfg.MaxItems)
	if err != nil {
		return false, fmt.Errorf("claim window: %w", err)
	}
	if len(claimed) == 0 {
		return false, nil
	}

	userID := claimed[0].UserID
	dir, err := os.MkdirTemp(l.cfg.WorkRoot, workdirPrefix)
	if err != nil {
		return false, fmt.Errorf("create working dir: %w", err)
	}

	var collected []int64
	for _, item := range claimed {
		if err := l.materialize(ctx, dir, item); err != nil {
			continue
		}
		collected = append(collected, item.ImageID)
	}

	if len(collected) == 0 {
		os.RemoveAll(dir)
		return true, nil
	}

	batch := Batch{ID: uuid.New(), UserID: userID, Dir: dir, ImageIDs: collected}
	if err := l.dispatcher.Submit(ctx, batch); err != nil {
		os.RemoveAll(dir)
		l.failClaimed(userID, collected, "pipeline shutdown before analysis")
		return false, fmt.Errorf("submit batch: %w", err)
	}
	l.logger.Info().Str("batch_id", batch.ID.String()).Int64("user_id", userID).
		Int("items", len(collected)).Msg("Claimed batch handed off")
	return true, nil
}

func (l *ClaimLoop) materialize(ctx context.Context, dir string, item store.ClaimedItem) error {
	raw, err := l.queue.GetImage(ctx, item.UserID, item.ImageID)
	if err != nil {
		reason := "file_write_error: " + err.Error()
		if errors.Is(err, queue.ErrImageMissing) {
			reason = store.FailReasonExpired
		}
		l.fail(item.UserID, item.ImageID, reason)
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.png", item.ImageID))
	if err := os.WriteFile(path, raw, 0600); err != nil {
		l.fail(item.UserID, item.ImageID, "file_write_error: "+err.Error())
		return err
	}
	return nil
}

func (l *ClaimLoop) fail(userID, imageID int64, reason string) {
	ctx := context.Background()
	if err := l.states.MarkFailed(ctx, userID, []int64{imageID}, reason); err != nil {
		l.logger.Error().Err(err).Int64("image_id", imageID).Msg("Failed to mark item failed")
	}
	if err := l.queue.Ack(ctx, userID, imageID); err != nil {
		l.logger.Error().Err(err).Int64("image_id", imageID).Msg("Failed to ack item")
	}
}

func (l *ClaimLoop) failClaimed(userID int64, imageIDs []int64, reason string) {
	ctx := context.Background()
	if err := l.states.MarkFailed(ctx, userID, imageIDs, reason); err != nil {
		l.logger.Error().Err(err).Msg("Failed to mark claimed batch failed")
	}
	for _, id := range imageIDs {
		if err := l.queue.Ack(ctx, userID, id); err != nil {
			l.logger.Error().Err(err).Int64("image_id", id).Msg("Failed to ack item")
		}
	}
}
