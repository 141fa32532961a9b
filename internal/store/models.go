// Package store provides GORM-based persistence for screenshot items and
// analysis results.
package store

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"gorm.io/gorm"
)

// AnalysisStatus is the durable state-machine state of one screenshot item.
type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "PENDING"
	StatusInProgress AnalysisStatus = "IN_PROGRESS"
	StatusDone       AnalysisStatus = "DONE"
	StatusFailed     AnalysisStatus = "FAILED"
)

// FailReasonExpired marks items whose raw payload was gone at claim time.
const FailReasonExpired = "original_expired_or_missing"

// MaxFailReasonLen bounds the stored failure reason.
const MaxFailReasonLen = 256

// TruncateReason bounds a failure reason string for storage.
func TruncateReason(reason string) string {
	if len(reason) > MaxFailReasonLen {
		return reason[:MaxFailReasonLen]
	}
	return reason
}

// JSONStringArray stores a []string as a JSON text column.
type JSONStringArray []string

// Value implements driver.Valuer.
func (a JSONStringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (a *JSONStringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for JSONStringArray: %T", value)
	}
	return json.Unmarshal(data, (*[]string)(a))
}

// Item is one uploaded screenshot awaiting (or past) analysis.
// (user_id, image_id) is unique; image_id is assigned by the producer.
type Item struct {
	ID         int64          `gorm:"primaryKey;autoIncrement"`
	UserID     int64          `gorm:"uniqueIndex:idx_items_user_image,priority:1;index:idx_items_status_captured,priority:2;not null"`
	ImageID    int64          `gorm:"uniqueIndex:idx_items_user_image,priority:2;not null"`
	CapturedAt time.Time      `gorm:"index:idx_items_captured;not null"`
	Status     AnalysisStatus `gorm:"column:analysis_status;type:text;default:'PENDING';index:idx_items_status_captured,priority:1;check:analysis_status IN ('PENDING','IN_PROGRESS','DONE','FAILED');not null"`
	FailReason string         `gorm:"type:text"`
	UpdatedAt  time.Time
}

func (Item) TableName() string { return "items" }

// BeforeCreate hook to ensure timestamps are set.
func (i *Item) BeforeCreate(tx *gorm.DB) error {
	if i.CapturedAt.IsZero() {
		i.CapturedAt = time.Now().UTC()
	}
	if i.Status == "" {
		i.Status = StatusPending
	}
	return nil
}

// Suggestion is the persisted result of one successful batch analysis,
// anchored to the batch's pivot image.
type Suggestion struct {
	ID                  int64           `gorm:"primaryKey;autoIncrement"`
	UserID              int64           `gorm:"index:idx_suggestions_user_created,priority:1;not null"`
	ImageID             int64           `gorm:"not null"`
	RepresentativeImage string          `gorm:"type:text"`
	Description         string          `gorm:"type:text"`
	PredictedActions    JSONStringArray `gorm:"type:text"`
	CreatedAt           time.Time       `gorm:"index:idx_suggestions_user_created,priority:2,sort:desc"`

	Items []SuggestionItem `gorm:"foreignKey:SuggestionID"`
}

func (Suggestion) TableName() string { return "suggestions" }

// SuggestionItem is one predicted follow-up question with its answer.
// Rank runs 1..3 within a suggestion.
type SuggestionItem struct {
	ID           int64   `gorm:"primaryKey;autoIncrement"`
	SuggestionID int64   `gorm:"index;not null"`
	Question     string  `gorm:"type:text;not null"`
	Answer       string  `gorm:"type:text"`
	Confidence   float64 `gorm:"type:real"`
	Rank         int     `gorm:"column:rank;not null"`
}

func (SuggestionItem) TableName() string { return "suggestion_items" }
