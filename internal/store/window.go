package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// selectWindow picks the claim set from a snapshot of pending items: the
// oldest item overall (ties broken by image id), then same-user items captured
// within [pivot, pivot+maxWindow), capped at maxItems. Items are returned in
// captured-at order. This mirrors the SQL claim exactly and exists so the
// window semantics can be tested without a database.
func selectWindow(pending []ClaimedItem, maxWindow time.Duration, maxItems int) []ClaimedItem {
	if len(pending) == 0 || maxItems <= 0 {
		return nil
	}

	sorted := make([]ClaimedItem, len(pending))
	copy(sorted, pending)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].CapturedAt.Equal(sorted[j].CapturedAt) {
			return sorted[i].CapturedAt.Before(sorted[j].CapturedAt)
		}
		return sorted[i].ImageID < sorted[j].ImageID
	})

	pivot := sorted[0]
	cutoff := pivot.CapturedAt.Add(maxWindow)

	selected := make([]ClaimedItem, 0, maxItems)
	for _, it := range sorted {
		if it.UserID != pivot.UserID {
			continue
		}
		if it.CapturedAt.Before(pivot.CapturedAt) || !it.CapturedAt.Before(cutoff) {
			continue
		}
		selected = append(selected, it)
		if len(selected) == maxItems {
			break
		}
	}
	return selected
}

// MemoryCoordinator is an in-process ClaimCoordinator. It backs tests and
// single-process development runs where neither Redis nor PostgreSQL is up.
type MemoryCoordinator struct {
	mu      sync.Mutex
	pending []ClaimedItem
}

var _ ClaimCoordinator = (*MemoryCoordinator)(nil)

// NewMemoryCoordinator creates an empty in-memory coordinator.
func NewMemoryCoordinator() *MemoryCoordinator {
	return &MemoryCoordinator{}
}

// Enqueue registers a pending item.
func (m *MemoryCoordinator) Enqueue(_ context.Context, userID, imageID int64, capturedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, ClaimedItem{UserID: userID, ImageID: imageID, CapturedAt: capturedAt})
	return nil
}

// ClaimWindow implements ClaimCoordinator. The mutex makes the select-and-
// remove step atomic, so concurrent callers never receive the same item.
func (m *MemoryCoordinator) ClaimWindow(_ context.Context, maxWindow time.Duration, maxItems int) ([]ClaimedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	selected := selectWindow(m.pending, maxWindow, maxItems)
	if len(selected) == 0 {
		return nil, nil
	}

	taken := make(map[[2]int64]bool, len(selected))
	for _, it := range selected {
		taken[[2]int64{it.UserID, it.ImageID}] = true
	}
	remaining := m.pending[:0]
	for _, it := range m.pending {
		if !taken[[2]int64{it.UserID, it.ImageID}] {
			remaining = append(remaining, it)
		}
	}
	m.pending = remaining

	return selected, nil
}

// PendingLen reports the number of unclaimed items.
func (m *MemoryCoordinator) PendingLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
