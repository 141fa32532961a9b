package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// SuggestionStore persists batch analysis results.
type SuggestionStore struct {
	db *gorm.DB
}

// NewSuggestionStore creates a new suggestion store.
func NewSuggestionStore(s *Store) *SuggestionStore {
	return &SuggestionStore{db: s.DB}
}

// CreateSuggestion persists a suggestion and its question/answer items in one
// transaction. Suggestions are written once and never updated.
func (s *SuggestionStore) CreateSuggestion(ctx context.Context, sugg *Suggestion, items []SuggestionItem) (int64, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sugg).Error; err != nil {
			return fmt.Errorf("insert suggestion: %w", err)
		}
		for i := range items {
			items[i].SuggestionID = sugg.ID
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return fmt.Errorf("insert suggestion items: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sugg.ID, nil
}

// RecentSuggestions returns a user's newest suggestions with their items.
func (s *SuggestionStore) RecentSuggestions(ctx context.Context, userID int64, limit int) ([]Suggestion, error) {
	if limit <= 0 {
		limit = 10
	}
	var suggs []Suggestion
	err := s.db.WithContext(ctx).
		Preload("Items").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&suggs).Error
	if err != nil {
		return nil, fmt.Errorf("recent suggestions for %d: %w", userID, err)
	}
	return suggs, nil
}
