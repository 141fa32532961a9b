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

// workdirPrefix names batch working directories.
const workdirPrefix = "mt_job_"

// CollectorConfig tunes one per-user window collector.
type CollectorConfig struct {
	Window     time.Duration
	EmptySleep time.Duration
	MaxItems   int
	WorkRoot   string // parent of batch working dirs; "" = os temp dir
}

// Collector drains one user's pending queue in fixed time windows and hands
// populated batches to the dispatcher. Collection for the next window starts
// immediately after hand-off, so collection is pipelined ahead of analysis.
type Collector struct {
	userID     int64
	queue      ImageQueue
	states     ItemStates
	dispatcher *Dispatcher
	cfg        CollectorConfig
	logger     zerolog.Logger
}

// NewCollector creates a collector for one user.
func NewCollector(userID int64, q ImageQueue, states ItemStates, d *Dispatcher, cfg CollectorConfig, logger zerolog.Logger) *Collector {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Second
	}
	if cfg.EmptySleep <= 0 {
		cfg.EmptySleep = 200 * time.Millisecond
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 20
	}
	return &Collector{
		userID:     userID,
		queue:      q,
		states:     states,
		dispatcher: d,
		cfg:        cfg,
		logger:     logger.With().Str("component", "collector").Int64("user_id", userID).Logger(),
	}
}

// Run loops windows until the context is cancelled. Errors never escape an
// iteration; one bad item cannot kill the loop.
func (c *Collector) Run(ctx context.Context) {
	c.logger.Debug().Msg("Collector started")
	for ctx.Err() == nil {
		if err := c.collectWindow(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Msg("Window iteration failed")
			sleepCtx(ctx, time.Second)
		}
	}
	c.logger.Debug().Msg("Collector stopped")
}

// collectWindow runs one fixed-duration window: pop, materialize, hand off.
func (c *Collector) collectWindow(ctx context.Context) error {
	dir, err := os.MkdirTemp(c.cfg.WorkRoot, workdirPrefix)
	if err != nil {
		return fmt.Errorf("create working dir: %w", err)
	}

	deadline := time.Now().Add(c.cfg.Window)
	var collected []int64

	for time.Now().Before(deadline) && len(collected) < c.cfg.MaxItems && ctx.Err() == nil {
		imageID, ok, err := c.queue.PopPending(ctx, c.userID)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Warn().Err(err).Msg("Pop failed, backing off")
			sleepCtx(ctx, c.cfg.EmptySleep)
			continue
		}
		if !ok {
			sleepCtx(ctx, c.cfg.EmptySleep)
			continue
		}

		if err := c.states.MarkInProgress(ctx, c.userID, []int64{imageID}); err != nil {
			c.logger.Warn().Err(err).Int64("image_id", imageID).
				Msg("Failed to record in-progress state")
		}

		if err := c.materialize(ctx, dir, imageID); err != nil {
			continue
		}
		collected = append(collected, imageID)
	}

	// An empty window produces no batch; discard the directory and start over.
	if len(collected) == 0 {
		os.RemoveAll(dir)
		return nil
	}

	batch := Batch{ID: uuid.New(), UserID: c.userID, Dir: dir, ImageIDs: collected}
	if err := c.dispatcher.Submit(ctx, batch); err != nil {
		os.RemoveAll(dir)
		c.failCollected(collected, "pipeline shutdown before analysis")
		return fmt.Errorf("submit batch: %w", err)
	}
	c.logger.Info().Str("batch_id", batch.ID.String()).Int("items", len(collected)).
		Msg("Batch handed off")
	return nil
}

// materialize fetches one image's raw bytes into the working directory.
// A missing payload or a write failure marks the item FAILED and consumes it;
// the rest of the batch is unaffected.
func (c *Collector) materialize(ctx context.Context, dir string, imageID int64) error {
	raw, err := c.queue.GetImage(ctx, c.userID, imageID)
	if err != nil {
		if errors.Is(err, queue.ErrImageMissing) {
			c.logger.Warn().Int64("image_id", imageID).Msg("Original image expired or missing")
			c.failAndAck(imageID, store.FailReasonExpired)
			return err
		}
		c.failAndAck(imageID, "file_write_error: "+err.Error())
		return err
	}

	path := filepath.Join(dir, fmt.Sprintf("%d.png", imageID))
	if err := os.WriteFile(path, raw, 0600); err != nil {
		c.failAndAck(imageID, "file_write_error: "+err.Error())
		return err
	}
	return nil
}

func (c *Collector) failAndAck(imageID int64, reason string) {
	// Cleanup uses a fresh context so cancellation cannot leave the item
	// half-consumed.
	ctx := context.Background()
	if err := c.states.MarkFailed(ctx, c.userID, []int64{imageID}, reason); err != nil {
		c.logger.Error().Err(err).Int64("image_id", imageID).Msg("Failed to mark item failed")
	}
	if err := c.queue.Ack(ctx, c.userID, imageID); err != nil {
		c.logger.Error().Err(err).Int64("image_id", imageID).Msg("Failed to ack item")
	}
}

func (c *Collector) failCollected(imageIDs []int64, reason string) {
	ctx := context.Background()
	if err := c.states.MarkFailed(ctx, c.userID, imageIDs, reason); err != nil {
		c.logger.Error().Err(err).Msg("Failed to mark batch failed")
	}
	for _, id := range imageIDs {
		if err := c.queue.Ack(ctx, c.userID, id); err != nil {
			c.logger.Error().Err(err).Int64("image_id", id).Msg("Failed to ack item")
		}
	}
}

// sleepCtx sleeps for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
