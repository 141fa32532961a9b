package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ItemStore provides item state-machine operations.
type ItemStore struct {
	db *gorm.DB
}

// NewItemStore creates a new item store.
func NewItemStore(s *Store) *ItemStore {
	return &ItemStore{db: s.DB}
}

// CreateItem registers a newly uploaded screenshot as PENDING. Re-submitting
// the same (user, image) pair is a no-op.
func (s *ItemStore) CreateItem(ctx context.Context, userID, imageID int64, capturedAt time.Time) error {
	item := Item{
		UserID:     userID,
		ImageID:    imageID,
		CapturedAt: capturedAt.UTC(),
		Status:     StatusPending,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "image_id"}},
			DoNothing: true,
		}).
		Create(&item).Error
	if err != nil {
		return fmt.Errorf("create item %d/%d: %w", userID, imageID, err)
	}
	return nil
}

// GetItem fetches one item, or nil when it does not exist.
func (s *ItemStore) GetItem(ctx context.Context, userID, imageID int64) (*Item, error) {
	var item Item
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND image_id = ?", userID, imageID).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item %d/%d: %w", userID, imageID, err)
	}
	return &item, nil
}

// MarkInProgress upserts the given images as IN_PROGRESS. In the Redis drain
// variant the pop itself is the claim and the row may not exist yet.
func (s *ItemStore) MarkInProgress(ctx context.Context, userID int64, imageIDs []int64) error {
	if len(imageIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	items := make([]Item, len(imageIDs))
	for i, imageID := range imageIDs {
		items[i] = Item{
			UserID:     userID,
			ImageID:    imageID,
			CapturedAt: now,
			Status:     StatusInProgress,
			UpdatedAt:  now,
		}
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "image_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"analysis_status", "updated_at"}),
		}).
		Create(&items).Error
	if err != nil {
		return fmt.Errorf("mark in progress for user %d: %w", userID, err)
	}
	return nil
}

// MarkDone transitions the given images to DONE.
func (s *ItemStore) MarkDone(ctx context.Context, userID int64, imageIDs []int64) error {
	return s.setStatus(ctx, userID, imageIDs, StatusDone, "")
}

// MarkFailed transitions the given images to FAILED with a bounded reason.
// FAILED is terminal; the reason is kept for operators, not retried.
func (s *ItemStore) MarkFailed(ctx context.Context, userID int64, imageIDs []int64, reason string) error {
	return s.setStatus(ctx, userID, imageIDs, StatusFailed, TruncateReason(reason))
}

func (s *ItemStore) setStatus(ctx context.Context, userID int64, imageIDs []int64, status AnalysisStatus, reason string) error {
	if len(imageIDs) == 0 {
		return nil
	}
	updates := map[string]interface{}{
		"analysis_status": status,
		"fail_reason":     reason,
		"updated_at":      time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Model(&Item{}).
		Where("user_id = ? AND image_id IN ?", userID, imageIDs).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("set status %s for user %d: %w", status, userID, err)
	}
	return nil
}

// CountByStatus returns the number of items in a given state.
func (s *ItemStore) CountByStatus(ctx context.Context, status AnalysisStatus) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Item{}).
		Where("analysis_status = ?", status).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count items %s: %w", status, err)
	}
	return n, nil
}
