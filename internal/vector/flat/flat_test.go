package flat

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4-nyang-dan/mindtrack-ai/internal/vector"
)

func testIndex(t *testing.T, dim int) *Index {
	t.Helper()

	idx, err := New(Config{Path: filepath.Join(t.TempDir(), "test_index"), Dim: dim})
	require.NoError(t, err)
	return idx
}

func meta(text string) vector.Metadata {
	return vector.Metadata{File: text + ".png", Text: text}
}

func TestAddAssignsIncreasingIDs(t *testing.T) {
	idx := testIndex(t, 2)
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		id, err := idx.Add(ctx, []float32{float32(want), 0}, meta("m"))
		require.NoError(t, err)
		assert.Equal(t, want, id)
	}
}

func TestAddRejectsWrongDimension(t *testing.T) {
	idx := testIndex(t, 3)

	_, err := idx.Add(context.Background(), []float32{1, 2}, meta("m"))
	assert.Error(t, err)
}

func TestRecentReturnsLastKInInsertionOrder(t *testing.T) {
	idx := testIndex(t, 2)
	ctx := context.Background()

	texts := []string{"a", "b", "c", "d", "e"}
	for i, txt := range texts {
		_, err := idx.Add(ctx, []float32{float32(i), 0}, meta(txt))
		require.NoError(t, err)
	}

	recent, err := idx.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "c", recent[0].Meta.Text)
	assert.Equal(t, "d", recent[1].Meta.Text)
	assert.Equal(t, "e", recent[2].Meta.Text)

	// k larger than the store returns everything, never pads.
	all, err := idx.Recent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestSearchSortedAscendingAndBounded(t *testing.T) {
	idx := testIndex(t, 2)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := idx.Add(ctx, []float32{float32(i), 0}, meta("m"))
		require.NoError(t, err)
	}

	hits, err := idx.Search(ctx, []float32{0, 0}, 3, 0)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for i, hit := range hits {
		assert.GreaterOrEqual(t, hit.Distance, 0.0)
		if i > 0 {
			assert.GreaterOrEqual(t, hit.Distance, hits[i-1].Distance)
		}
	}
	assert.Equal(t, int64(1), hits[0].ID) // vector {0,0} is nearest to itself
}

func TestSearchNeverReturnsExcludedID(t *testing.T) {
	idx := testIndex(t, 2)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := idx.Add(ctx, []float32{float32(i), 0}, meta("m"))
		require.NoError(t, err)
	}

	hits, err := idx.Search(ctx, []float32{0, 0}, 10, 1)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	for _, hit := range hits {
		assert.NotEqual(t, int64(1), hit.ID)
	}
}

func TestSearchEmptyStore(t *testing.T) {
	idx := testIndex(t, 2)

	hits, err := idx.Search(context.Background(), []float32{0, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestResetRestartsIDsAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idx")
	ctx := context.Background()

	idx, err := New(Config{Path: path, Dim: 2})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := idx.Add(ctx, []float32{float32(i), 0}, meta("m"))
		require.NoError(t, err)
	}

	require.NoError(t, idx.Reset(ctx))

	hits, err := idx.Search(ctx, []float32{0, 0}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	recent, err := idx.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, recent)

	id, err := idx.Add(ctx, []float32{1, 1}, meta("m"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	// The reset state survived on disk before the new add.
	reopened, err := New(Config{Path: path, Dim: 2})
	require.NoError(t, err)
	n, err := reopened.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idx")
	ctx := context.Background()

	idx, err := New(Config{Path: path, Dim: 2})
	require.NoError(t, err)

	_, err = idx.Add(ctx, []float32{1, 2}, meta("first"))
	require.NoError(t, err)
	_, err = idx.Add(ctx, []float32{3, 4}, meta("second"))
	require.NoError(t, err)
	require.NoError(t, idx.Save(ctx))

	reopened, err := New(Config{Path: path, Dim: 2})
	require.NoError(t, err)

	recent, err := reopened.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "first", recent[0].Meta.Text)
	assert.Equal(t, []float32{3, 4}, recent[1].Embedding)

	// The id counter continues after the loaded records.
	id, err := reopened.Add(ctx, []float32{5, 6}, meta("third"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), id)
}
