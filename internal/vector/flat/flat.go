// Package flat provides an in-memory flat L2 index with on-disk snapshots.
package flat

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/4-nyang-dan/mindtrack-ai/internal/vector"
)

// Config holds configuration for the flat index.
type Config struct {
	// Path is the snapshot path without extension; the index is written to
	// <Path>.vec.json.
	Path string

	// Dim is the embedding dimensionality. Adds with a different length fail.
	Dim int
}

// Index is a brute-force L2 index. All records live in memory; Save writes an
// atomic JSON snapshot next to Path.
type Index struct {
	mu      sync.RWMutex
	path    string
	dim     int
	records []vector.Record
	nextID  int64
}

var _ vector.Index = (*Index)(nil)

type snapshot struct {
	Dim     int             `json:"dim"`
	NextID  int64           `json:"next_id"`
	Records []vector.Record `json:"records"`
}

// New opens the index at cfg.Path, loading an existing snapshot when present
// and creating-and-saving an empty one otherwise.
func New(cfg Config) (*Index, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("snapshot path required")
	}
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("embedding dimension required")
	}

	idx := &Index{path: cfg.Path + ".vec.json", dim: cfg.Dim, nextID: 1}

	if err := idx.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load snapshot: %w", err)
		}
		if err := idx.Save(context.Background()); err != nil {
			return nil, fmt.Errorf("create snapshot: %w", err)
		}
		log.Info().Str("path", idx.path).Msg("Created new vector index")
		return idx, nil
	}

	log.Info().Str("path", idx.path).Int("records", len(idx.records)).
		Msg("Loaded vector index")
	return idx, nil
}

// Add appends an embedding and assigns the next id.
func (x *Index) Add(_ context.Context, embedding []float32, meta vector.Metadata) (int64, error) {
	if len(embedding) != x.dim {
		return 0, fmt.Errorf("embedding dimension %d, want %d", len(embedding), x.dim)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	rec := vector.Record{
		ID:        x.nextID,
		Embedding: append([]float32(nil), embedding...),
		Meta:      meta,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	x.records = append(x.records, rec)
	x.nextID++
	return rec.ID, nil
}

// Search scans all records and returns the topK nearest by Euclidean distance.
func (x *Index) Search(_ context.Context, query []float32, topK int, excludeID int64) ([]vector.Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("query dimension %d, want %d", len(query), x.dim)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	hits := make([]vector.Hit, 0, len(x.records))
	for _, rec := range x.records {
		if rec.ID == excludeID {
			continue
		}
		hits = append(hits, vector.Hit{
			ID:       rec.ID,
			Meta:     rec.Meta,
			Distance: l2(query, rec.Embedding),
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Recent returns the last min(k, n) records in insertion order.
func (x *Index) Recent(_ context.Context, k int) ([]vector.Record, error) {
	if k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	start := len(x.records) - k
	if start < 0 {
		start = 0
	}
	out := make([]vector.Record, len(x.records)-start)
	copy(out, x.records[start:])
	return out, nil
}

// Len reports the number of stored records.
func (x *Index) Len(_ context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records), nil
}

// Save writes the snapshot atomically (temp file + rename).
func (x *Index) Save(_ context.Context) error {
	x.mu.RLock()
	snap := snapshot{Dim: x.dim, NextID: x.nextID, Records: x.records}
	data, err := json.Marshal(snap)
	x.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(x.path), 0750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := x.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, x.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// Reset drops all records, restarts ids at 1 and persists immediately.
func (x *Index) Reset(ctx context.Context) error {
	x.mu.Lock()
	x.records = nil
	x.nextID = 1
	x.mu.Unlock()

	if err := x.Save(ctx); err != nil {
		return fmt.Errorf("persist reset index: %w", err)
	}
	log.Info().Str("path", x.path).Msg("Vector index reset")
	return nil
}

func (x *Index) load() error {
	data, err := os.ReadFile(x.path)
	if err != nil {
		return err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.Dim != 0 && snap.Dim != x.dim {
		return fmt.Errorf("snapshot dimension %d, want %d", snap.Dim, x.dim)
	}
	x.records = snap.Records
	x.nextID = snap.NextID
	if x.nextID < 1 {
		x.nextID = int64(len(x.records)) + 1
	}
	return nil
}

func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
