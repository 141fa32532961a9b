package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAcquireRelease(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.TryAcquire(7))
	assert.False(t, r.TryAcquire(7), "second acquire for the same user fails")
	assert.True(t, r.TryAcquire(8))
	assert.Equal(t, 2, r.Len())
	assert.ElementsMatch(t, []int64{7, 8}, r.Active())

	r.Release(7)
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.TryAcquire(7), "released user can be acquired again")
}

func TestRegistryConcurrentAcquire(t *testing.T) {
	r := NewRegistry()
	const goroutines = 16

	var wg sync.WaitGroup
	wins := make(chan struct{}, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryAcquire(42) {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var won int
	for range wins {
		won++
	}
	assert.Equal(t, 1, won, "exactly one goroutine may own a user")
}

func TestDispatcherFIFO(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(4)

	for _, user := range []int64{1, 2, 3} {
		require.NoError(t, d.Submit(ctx, Batch{UserID: user}))
	}
	assert.Equal(t, 3, d.Depth())

	for _, want := range []int64{1, 2, 3} {
		batch, ok := d.Next(ctx)
		require.True(t, ok)
		assert.Equal(t, want, batch.UserID)
	}
	assert.Equal(t, 0, d.Depth())
}

func TestDispatcherCancelledNext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDispatcher(1)
	_, ok := d.Next(ctx)
	assert.False(t, ok)
}

func TestDispatcherSubmitBlocksWhenFull(t *testing.T) {
	d := NewDispatcher(1)
	require.NoError(t, d.Submit(context.Background(), Batch{UserID: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Submit(ctx, Batch{UserID: 2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
