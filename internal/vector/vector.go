// Package vector defines the context-store interface over embedding indexes.
package vector

import "context"

// Metadata is the payload stored alongside one embedding.
type Metadata struct {
	File string `json:"file"`
	Text string `json:"text"`
}

// Record is one stored embedding with its metadata. IDs are unique and
// strictly increasing in insertion order; Timestamp is informational only.
type Record struct {
	ID        int64     `json:"id"`
	Embedding []float32 `json:"embedding"`
	Meta      Metadata  `json:"metadata"`
	Timestamp string    `json:"timestamp"`
}

// Hit is one similarity search result. Distance is Euclidean; smaller is
// more similar.
type Hit struct {
	ID       int64
	Meta     Metadata
	Distance float64
}

// Index is an append-only similarity index over description embeddings.
type Index interface {
	// Add appends an embedding with metadata and returns its assigned id.
	Add(ctx context.Context, embedding []float32, meta Metadata) (int64, error)

	// Search returns up to topK nearest records by Euclidean distance,
	// ascending, never including excludeID (0 = exclude nothing). An empty
	// index yields an empty result; fewer neighbors than topK yields fewer
	// hits, never padding.
	Search(ctx context.Context, query []float32, topK int, excludeID int64) ([]Hit, error)

	// Recent returns the last k records in insertion order (oldest first).
	Recent(ctx context.Context, k int) ([]Record, error)

	// Len reports the number of stored records.
	Len(ctx context.Context) (int, error)

	// Save persists the index to durable storage.
	Save(ctx context.Context) error

	// Reset irreversibly discards all records, restarts ids at 1 and
	// persists the empty index immediately.
	Reset(ctx context.Context) error
}
