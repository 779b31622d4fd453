package memory_store //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"io"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/recall-proxy/internal/storage_manager"
	"github.com/lewisedginton/recall-proxy/pkg/logger"
)

func testLogger() logger.Logger {
	return logger.NewLogger(logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

func newTestStore(t *testing.T, dim int) (*Store, storage_manager.FileProvider) {
	t.Helper()
	provider := storage_manager.NewLocalFileProvider(t.TempDir())
	store, err := New(context.Background(), Config{
		Dimension:    dim,
		FileProvider: provider,
		Logger:       testLogger(),
	})
	require.NoError(t, err)
	return store, provider
}

func unitVec(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestInsertAssignsMonotonicIDs(t *testing.T) {
	store, _ := newTestStore(t, 4)

	for i := 0; i < 5; i++ {
		id, err := store.Insert(unitVec(4, i%4), "text", "user", "m")
		require.NoError(t, err)
		assert.Equal(t, int64(i), id)
	}
	assert.Equal(t, 5, store.Count())
}

func TestInsertRejectsWrongDimension(t *testing.T) {
	store, _ := newTestStore(t, 4)

	_, err := store.Insert([]float32{1, 2}, "text", "user", "m")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDimension)
	assert.Equal(t, 0, store.Count())
}

func TestInsertNormalizesVector(t *testing.T) {
	store, _ := newTestStore(t, 2)

	// Non-unit input must still score 1.0 against itself after storage.
	_, err := store.Insert([]float32{3, 4}, "text", "user", "m")
	require.NoError(t, err)

	hits, err := store.Search([]float32{3, 4}, 1, -1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
}

func TestInsertDoesNotMutateCallerVector(t *testing.T) {
	store, _ := newTestStore(t, 2)

	v := []float32{3, 4}
	_, err := store.Insert(v, "text", "user", "m")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, v)
}

func TestInsertKeepsZeroVector(t *testing.T) {
	store, _ := newTestStore(t, 3)

	_, err := store.Insert([]float32{0, 0, 0}, "text", "user", "m")
	require.NoError(t, err)
	assert.Equal(t, 1, store.Count())

	// A zero vector matches nothing above any positive threshold.
	hits, err := store.Search(unitVec(3, 0), 5, 0.1)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchEmptyStore(t *testing.T) {
	store, _ := newTestStore(t, 4)

	hits, err := store.Search(unitVec(4, 0), 5, 0.0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchSelfSimilarityRanksFirst(t *testing.T) {
	store, _ := newTestStore(t, 3)

	_, err := store.Insert([]float32{1, 0, 0}, "a", "user", "m")
	require.NoError(t, err)
	target, err := store.Insert([]float32{0.2, 0.9, 0.1}, "b", "user", "m")
	require.NoError(t, err)
	_, err = store.Insert([]float32{0, 0, 1}, "c", "user", "m")
	require.NoError(t, err)

	hits, err := store.Search([]float32{0.2, 0.9, 0.1}, 3, -1)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, target, hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.Equal(t, "b", hits[0].Record.Text)
}

func TestSearchOrdersByDescendingSimilarity(t *testing.T) {
	store, _ := newTestStore(t, 2)

	// Angles from the x axis: 0, 60 and 30 degrees.
	_, err := store.Insert([]float32{1, 0}, "closest", "user", "m")
	require.NoError(t, err)
	_, err = store.Insert([]float32{0.5, float32(math.Sqrt(3) / 2)}, "farthest", "user", "m")
	require.NoError(t, err)
	_, err = store.Insert([]float32{float32(math.Sqrt(3) / 2), 0.5}, "middle", "user", "m")
	require.NoError(t, err)

	hits, err := store.Search([]float32{1, 0}, 3, -1)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "closest", hits[0].Record.Text)
	assert.Equal(t, "middle", hits[1].Record.Text)
	assert.Equal(t, "farthest", hits[2].Record.Text)
	assert.GreaterOrEqual(t, hits[0].Similarity, hits[1].Similarity)
	assert.GreaterOrEqual(t, hits[1].Similarity, hits[2].Similarity)
}

func TestSearchTiesBreakByInsertionOrder(t *testing.T) {
	store, _ := newTestStore(t, 2)

	first, err := store.Insert([]float32{1, 0}, "first", "user", "m")
	require.NoError(t, err)
	second, err := store.Insert([]float32{1, 0}, "second", "user", "m")
	require.NoError(t, err)

	hits, err := store.Search([]float32{1, 0}, 2, -1)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, first, hits[0].ID)
	assert.Equal(t, second, hits[1].ID)
}

func TestSearchRespectsTopK(t *testing.T) {
	store, _ := newTestStore(t, 2)

	for i := 0; i < 10; i++ {
		_, err := store.Insert([]float32{1, float32(i) * 0.01}, "t", "user", "m")
		require.NoError(t, err)
	}

	hits, err := store.Search([]float32{1, 0}, 3, -1)
	require.NoError(t, err)
	assert.Len(t, hits, 3)

	hits, err = store.Search([]float32{1, 0}, 100, -1)
	require.NoError(t, err)
	assert.Len(t, hits, 10)
}

func TestSearchFiltersBelowThreshold(t *testing.T) {
	store, _ := newTestStore(t, 2)

	_, err := store.Insert([]float32{1, 0}, "aligned", "user", "m")
	require.NoError(t, err)
	_, err = store.Insert([]float32{0, 1}, "orthogonal", "user", "m")
	require.NoError(t, err)
	_, err = store.Insert([]float32{-1, 0}, "opposite", "user", "m")
	require.NoError(t, err)

	hits, err := store.Search([]float32{1, 0}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "aligned", hits[0].Record.Text)

	// Raising the threshold never adds results.
	strict, err := store.Search([]float32{1, 0}, 5, 0.99)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(strict), len(hits))
}

func TestSearchRejectsWrongDimension(t *testing.T) {
	store, _ := newTestStore(t, 4)

	_, err := store.Search([]float32{1}, 5, 0)
	assert.ErrorIs(t, err, ErrInvalidDimension)
}

func TestConcurrentInsertAndSearch(t *testing.T) {
	store, _ := newTestStore(t, 8)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := store.Insert(unitVec(8, (w+i)%8), "t", "user", "m")
				assert.NoError(t, err)
				_, err = store.Search(unitVec(8, i%8), 5, 0.0)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 400, store.Count())
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	provider := storage_manager.NewLocalFileProvider(t.TempDir())

	store, err := New(ctx, Config{Dimension: 3, FileProvider: provider, Logger: testLogger()})
	require.NoError(t, err)

	_, err = store.Insert([]float32{1, 0, 0}, "red", "user", "llama3")
	require.NoError(t, err)
	_, err = store.Insert([]float32{0, 1, 0}, "green", "assistant", "llama3")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx))

	reloaded, err := New(ctx, Config{Dimension: 3, FileProvider: provider, Logger: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Count())

	hits, err := reloaded.Search([]float32{0, 1, 0}, 1, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "green", hits[0].Record.Text)
	assert.Equal(t, "assistant", hits[0].Record.Role)
	assert.Equal(t, "llama3", hits[0].Record.Model)

	// Ids keep counting from where they left off.
	id, err := reloaded.Insert([]float32{0, 0, 1}, "blue", "user", "llama3")
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
}

func TestLoadFallsBackOnCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	provider := storage_manager.NewLocalFileProvider(t.TempDir())

	require.NoError(t, provider.Write(ctx, "vectors.bin", []byte("not a snapshot")))
	require.NoError(t, provider.Write(ctx, "metadata.json", []byte("{}")))

	store, err := New(ctx, Config{Dimension: 3, FileProvider: provider, Logger: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, 0, store.Count())
}

func TestLoadFallsBackOnPartialSnapshot(t *testing.T) {
	ctx := context.Background()
	provider := storage_manager.NewLocalFileProvider(t.TempDir())

	require.NoError(t, provider.Write(ctx, "metadata.json", []byte(`{"records":{},"id_map":[],"next_id":0}`)))

	store, err := New(ctx, Config{Dimension: 3, FileProvider: provider, Logger: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, 0, store.Count())
}

func TestLoadFallsBackOnDimensionChange(t *testing.T) {
	ctx := context.Background()
	provider := storage_manager.NewLocalFileProvider(t.TempDir())

	store, err := New(ctx, Config{Dimension: 3, FileProvider: provider, Logger: testLogger()})
	require.NoError(t, err)
	_, err = store.Insert([]float32{1, 0, 0}, "t", "user", "m")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx))

	resized, err := New(ctx, Config{Dimension: 8, FileProvider: provider, Logger: testLogger()})
	require.NoError(t, err)
	assert.Equal(t, 0, resized.Count())
}

func TestGetStats(t *testing.T) {
	store, _ := newTestStore(t, 4)

	_, err := store.Insert(unitVec(4, 0), "t", "user", "m")
	require.NoError(t, err)

	stats := store.GetStats()
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 4, stats.Dimension)
	assert.Equal(t, "flat-inner-product", stats.IndexType)
}
