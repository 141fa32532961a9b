package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimedItem is one item atomically transitioned to IN_PROGRESS by a claim.
type ClaimedItem struct {
	UserID     int64
	ImageID    int64
	CapturedAt time.Time
}

// ClaimCoordinator hands out exclusive ownership of pending items. The two
// backing implementations (relational SKIP LOCKED claim, Redis list drain)
// are interchangeable behind this interface.
type ClaimCoordinator interface {
	// Enqueue registers a pending item.
	Enqueue(ctx context.Context, userID, imageID int64, capturedAt time.Time) error

	// ClaimWindow selects the oldest pending item for some user plus all of
	// that user's pending items captured within maxWindow of it, at most
	// maxItems, and transitions them to IN_PROGRESS in one atomic step.
	// Returns an empty slice without blocking when nothing is pending.
	// Concurrent callers never receive overlapping items.
	ClaimWindow(ctx context.Context, maxWindow time.Duration, maxItems int) ([]ClaimedItem, error)
}

// Coordinator is the PostgreSQL claim coordinator. Row claims use
// FOR UPDATE SKIP LOCKED so a row selected inside one transaction is invisible
// to concurrent claims instead of blocking them.
type Coordinator struct {
	db    *gorm.DB
	items *ItemStore
}

var _ ClaimCoordinator = (*Coordinator)(nil)

// NewCoordinator creates a PostgreSQL-backed claim coordinator.
func NewCoordinator(s *Store) *Coordinator {
	return &Coordinator{db: s.DB, items: NewItemStore(s)}
}

// Enqueue registers a pending item row.
func (c *Coordinator) Enqueue(ctx context.Context, userID, imageID int64, capturedAt time.Time) error {
	return c.items.CreateItem(ctx, userID, imageID, capturedAt)
}

// ClaimWindow implements ClaimCoordinator against the items table.
func (c *Coordinator) ClaimWindow(ctx context.Context, maxWindow time.Duration, maxItems int) ([]ClaimedItem, error) {
	if maxItems <= 0 {
		maxItems = 1
	}

	var claimed []ClaimedItem
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skipLocked := clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}

		// Pivot: the globally oldest claimable PENDING item.
		var pivot Item
		err := tx.Clauses(skipLocked).
			Where("analysis_status = ?", StatusPending).
			Order("captured_at ASC, id ASC").
			Limit(1).
			Take(&pivot).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select pivot: %w", err)
		}

		selected := []Item{pivot}
		if maxItems > 1 {
			var rest []Item
			err = tx.Clauses(skipLocked).
				Where("analysis_status = ? AND user_id = ? AND id <> ? AND captured_at >= ? AND captured_at < ?",
					StatusPending, pivot.UserID, pivot.ID,
					pivot.CapturedAt, pivot.CapturedAt.Add(maxWindow)).
				Order("captured_at ASC, id ASC").
				Limit(maxItems - 1).
				Find(&rest).Error
			if err != nil {
				return fmt.Errorf("select window: %w", err)
			}
			selected = append(selected, rest...)
		}

		ids := make([]int64, len(selected))
		for i, it := range selected {
			ids[i] = it.ID
		}
		err = tx.Model(&Item{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"analysis_status": StatusInProgress,
				"updated_at":      time.Now().UTC(),
			}).Error
		if err != nil {
			return fmt.Errorf("mark in progress: %w", err)
		}

		claimed = make([]ClaimedItem, len(selected))
		for i, it := range selected {
			claimed[i] = ClaimedItem{UserID: it.UserID, ImageID: it.ImageID, CapturedAt: it.CapturedAt}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
