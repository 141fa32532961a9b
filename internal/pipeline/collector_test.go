package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4-nyang-dan/mindtrack-ai/internal/store"
)

func testCollector(t *testing.T, q *fakeQueue, states *fakeStates, d *Dispatcher, cfg CollectorConfig) *Collector {
	t.Helper()
	if cfg.Window == 0 {
		cfg.Window = 200 * time.Millisecond
	}
	if cfg.EmptySleep == 0 {
		cfg.EmptySleep = 10 * time.Millisecond
	}
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = t.TempDir()
	}
	return NewCollector(7, q, states, d, cfg, zerolog.Nop())
}

func TestCollectorWindowBatchesPending(t *testing.T) {
	q := newFakeQueue()
	for _, id := range []int64{101, 102, 103} {
		q.add(7, id, []byte("png-bytes"))
	}
	states := newFakeStates()
	d := NewDispatcher(4)
	c := testCollector(t, q, states, d, CollectorConfig{})

	require.NoError(t, c.collectWindow(context.Background()))

	batch, ok := d.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, int64(7), batch.UserID)
	assert.Equal(t, []int64{101, 102, 103}, batch.ImageIDs, "arrival order preserved")
	assert.NotEqual(t, "", batch.ID.String())

	for _, id := range batch.ImageIDs {
		assert.Equal(t, store.StatusInProgress, states.statusOf(id))
		raw, err := os.ReadFile(filepath.Join(batch.Dir, fmt.Sprintf("%d.png", id)))
		require.NoError(t, err)
		assert.Equal(t, []byte("png-bytes"), raw)
	}
	assert.Contains(t, filepath.Base(batch.Dir), workdirPrefix)
}

func TestCollectorWindowSkipsExpiredImage(t *testing.T) {
	q := newFakeQueue()
	q.add(7, 101, []byte("a"))
	q.add(7, 102, nil) // payload already evicted
	q.add(7, 103, []byte("c"))
	states := newFakeStates()
	d := NewDispatcher(4)
	c := testCollector(t, q, states, d, CollectorConfig{})

	require.NoError(t, c.collectWindow(context.Background()))

	batch, ok := d.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, []int64{101, 103}, batch.ImageIDs)

	assert.Equal(t, store.StatusFailed, states.statusOf(102))
	assert.Equal(t, store.FailReasonExpired, states.reasonOf(102))
	assert.True(t, q.isAcked(7, 102), "expired item is consumed immediately")
	assert.False(t, q.isAcked(7, 101), "collected items stay held until analysis")
}

func TestCollectorEmptyWindowProducesNoBatch(t *testing.T) {
	d := NewDispatcher(4)
	c := testCollector(t, newFakeQueue(), newFakeStates(), d, CollectorConfig{
		Window:     50 * time.Millisecond,
		EmptySleep: 10 * time.Millisecond,
	})

	require.NoError(t, c.collectWindow(context.Background()))
	assert.Equal(t, 0, d.Depth())
}

func TestCollectorWindowRespectsMaxItems(t *testing.T) {
	q := newFakeQueue()
	for id := int64(1); id <= 5; id++ {
		q.add(7, id, []byte("x"))
	}
	d := NewDispatcher(4)
	c := testCollector(t, q, newFakeStates(), d, CollectorConfig{MaxItems: 2})

	require.NoError(t, c.collectWindow(context.Background()))

	batch, ok := d.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2}, batch.ImageIDs)

	// The rest stays pending for the next window.
	require.NoError(t, c.collectWindow(context.Background()))
	batch, ok = d.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, []int64{3, 4, 5}, batch.ImageIDs)
}

func TestCollectorFailsCollectedOnShutdown(t *testing.T) {
	q := newFakeQueue()
	q.add(7, 11, []byte("x"))
	states := newFakeStates()
	d := NewDispatcher(1)
	// Fill the dispatcher so Submit blocks until the context dies.
	require.NoError(t, d.Submit(context.Background(), Batch{}))

	ctx, cancel := context.WithCancel(context.Background())
	c := testCollector(t, q, states, d, CollectorConfig{Window: 50 * time.Millisecond})

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	err := c.collectWindow(ctx)
	require.Error(t, err)

	assert.Equal(t, store.StatusFailed, states.statusOf(11))
	assert.Contains(t, states.reasonOf(11), "shutdown")
	assert.True(t, q.isAcked(7, 11))
}
