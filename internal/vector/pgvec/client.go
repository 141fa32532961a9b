// Package pgvec provides the PostgreSQL+pgvector backend of the context store.
package pgvec

import (
	"context"
	"fmt"
	"time"

	pgvector "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/4-nyang-dan/mindtrack-ai/internal/vector"
)

// record is the GORM model for the vector_records table.
type record struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	Embedding pgvector.Vector `gorm:"column:embedding"`
	File      string          `gorm:"type:text"`
	Text      string          `gorm:"type:text"`
	CreatedAt time.Time
}

func (record) TableName() string { return "vector_records" }

// Config holds configuration for the pgvector client.
type Config struct {
	DB  *gorm.DB // PostgreSQL GORM connection (required)
	Dim int      // Embedding dimensionality (required)
}

// Client implements vector.Index on PostgreSQL+pgvector. Save is a no-op:
// durability belongs to the database.
type Client struct {
	db  *gorm.DB
	dim int
}

var _ vector.Index = (*Client)(nil)

// NewClient creates the pgvector client and ensures its table exists.
func NewClient(cfg Config) (*Client, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("DB is required")
	}
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("embedding dimension required")
	}

	if err := cfg.DB.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("create vector extension: %w", err)
	}
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS vector_records (
			id BIGSERIAL PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			file TEXT,
			text TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, cfg.Dim)
	if err := cfg.DB.Exec(createTable).Error; err != nil {
		return nil, fmt.Errorf("create vector_records table: %w", err)
	}

	return &Client{db: cfg.DB, dim: cfg.Dim}, nil
}

// Add inserts one embedding and returns its assigned id.
func (c *Client) Add(ctx context.Context, embedding []float32, meta vector.Metadata) (int64, error) {
	if len(embedding) != c.dim {
		return 0, fmt.Errorf("embedding dimension %d, want %d", len(embedding), c.dim)
	}
	rec := record{
		Embedding: pgvector.NewVector(embedding),
		File:      meta.File,
		Text:      meta.Text,
	}
	if err := c.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("insert vector record: %w", err)
	}
	return rec.ID, nil
}

// Search runs an L2 nearest-neighbor query, ascending by distance.
func (c *Client) Search(ctx context.Context, query []float32, topK int, excludeID int64) ([]vector.Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	if len(query) != c.dim {
		return nil, fmt.Errorf("query dimension %d, want %d", len(query), c.dim)
	}

	rows, err := c.db.WithContext(ctx).Raw(`
		SELECT id, file, text, embedding <-> ? AS distance
		FROM vector_records
		WHERE id <> ?
		ORDER BY distance
		LIMIT ?`,
		pgvector.NewVector(query), excludeID, topK,
	).Rows()
	if err != nil {
		return nil, fmt.Errorf("query vector_records: %w", err)
	}
	defer rows.Close()

	var hits []vector.Hit
	for rows.Next() {
		var hit vector.Hit
		if err := rows.Scan(&hit.ID, &hit.Meta.File, &hit.Meta.Text, &hit.Distance); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// Recent returns the last k records by id, oldest of those first.
func (c *Client) Recent(ctx context.Context, k int) ([]vector.Record, error) {
	if k <= 0 {
		return nil, nil
	}
	var recs []record
	err := c.db.WithContext(ctx).
		Order("id DESC").
		Limit(k).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("recent vector records: %w", err)
	}

	out := make([]vector.Record, len(recs))
	for i, rec := range recs {
		out[len(recs)-1-i] = vector.Record{
			ID:        rec.ID,
			Embedding: rec.Embedding.Slice(),
			Meta:      vector.Metadata{File: rec.File, Text: rec.Text},
			Timestamp: rec.CreatedAt.Format(time.RFC3339),
		}
	}
	return out, nil
}

// Len reports the number of stored records.
func (c *Client) Len(ctx context.Context) (int, error) {
	var n int64
	if err := c.db.WithContext(ctx).Model(&record{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count vector records: %w", err)
	}
	return int(n), nil
}

// Save is a no-op; every Add is already durable.
func (c *Client) Save(context.Context) error { return nil }

// Reset truncates the table and restarts ids at 1.
func (c *Client) Reset(ctx context.Context) error {
	err := c.db.WithContext(ctx).
		Exec("TRUNCATE vector_records RESTART IDENTITY").Error
	if err != nil {
		return fmt.Errorf("truncate vector_records: %w", err)
	}
	return nil
}
