package analysis

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4-nyang-dan/mindtrack-ai/internal/vector/flat"
)

// hashEmbedder is a deterministic test embedder: each distinct text lands on
// its own axis.
type hashEmbedder struct {
	dim int
}

func (e hashEmbedder) Dimensions() int { return e.dim }

func (e hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, e.dim)
	var sum int
	for _, r := range text {
		sum += int(r)
	}
	v[sum%e.dim] = 1
	return v, nil
}

func testBuilder(t *testing.T) *ContextBuilder {
	t.Helper()

	idx, err := flat.New(flat.Config{Path: filepath.Join(t.TempDir(), "ctx"), Dim: 8})
	require.NoError(t, err)
	return NewContextBuilder(hashEmbedder{dim: 8}, idx, 3, 2)
}

func TestObserveFirstRecordHasNoContext(t *testing.T) {
	b := testBuilder(t)

	got, err := b.Observe(context.Background(), "1.png", "first screen")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.RecordID)
	assert.Empty(t, got.Recent)
	assert.Empty(t, got.Similar)
}

func TestObserveReturnsPriorContext(t *testing.T) {
	b := testBuilder(t)
	ctx := context.Background()

	_, err := b.Observe(ctx, "1.png", "writing an email")
	require.NoError(t, err)
	_, err = b.Observe(ctx, "2.png", "reading the news")
	require.NoError(t, err)

	got, err := b.Observe(ctx, "3.png", "writing an email")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.RecordID)
	assert.Equal(t, "reading the news", got.Recent)
	// Identical text embeds identically, so it is the nearest prior record.
	assert.Equal(t, "writing an email", got.Similar)
}

func TestObserveNeverReturnsSelfAsSimilar(t *testing.T) {
	b := testBuilder(t)
	ctx := context.Background()

	_, err := b.Observe(ctx, "1.png", "alpha")
	require.NoError(t, err)

	got, err := b.Observe(ctx, "2.png", "beta")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Similar)
	assert.Equal(t, "alpha", got.Recent)
}

func TestContextFor(t *testing.T) {
	b := testBuilder(t)
	ctx := context.Background()

	_, err := b.Observe(ctx, "1.png", "spreadsheet work")
	require.NoError(t, err)
	_, err = b.Observe(ctx, "2.png", "video call")
	require.NoError(t, err)

	current, recent, similar, err := b.ContextFor(ctx, "spreadsheet work")
	require.NoError(t, err)
	assert.Equal(t, "video call", current, "current is the newest description")
	assert.Equal(t, "spreadsheet work", recent, "recent is the oldest of the window")
	assert.Equal(t, "spreadsheet work", similar)
}

func TestContextForSingleRecord(t *testing.T) {
	b := testBuilder(t)
	ctx := context.Background()

	_, err := b.Observe(ctx, "1.png", "spreadsheet work")
	require.NoError(t, err)

	current, recent, _, err := b.ContextFor(ctx, "anything")
	require.NoError(t, err)
	assert.Equal(t, "spreadsheet work", current)
	assert.Empty(t, recent, "a lone record is current, never also recent")
}

func TestContextForEmptyStore(t *testing.T) {
	b := testBuilder(t)

	current, recent, similar, err := b.ContextFor(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, current)
	assert.Empty(t, recent)
	assert.Empty(t, similar)
}
