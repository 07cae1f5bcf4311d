package vectorindex_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/searchd/internal/vectorindex"
)

func newTestChromem(t *testing.T) *vectorindex.Chromem {
	t.Helper()
	c, err := vectorindex.NewChromem(vectorindex.ChromemConfig{VectorSize: 3})
	require.NoError(t, err)
	require.NoError(t, c.EnsureCollection(context.Background(), "test_items", 3))
	return c
}

func seedChromem(t *testing.T, c *vectorindex.Chromem) {
	t.Helper()
	records := []vectorindex.Record{
		{
			EmbeddingID: "a",
			Vector:      []float32{1, 0, 0},
			Payload:     map[string]any{"content_type": "text", "document_id": "doc-1", "chunk_index": 0},
		},
		{
			EmbeddingID: "b",
			Vector:      []float32{0, 1, 0},
			Payload:     map[string]any{"content_type": "image", "document_id": "doc-2"},
		},
		{
			EmbeddingID: "c",
			Vector:      []float32{0.6, 0.8, 0},
			Payload:     map[string]any{"content_type": "text", "document_id": "doc-3", "chunk_index": 1},
		},
	}
	require.NoError(t, c.Upsert(context.Background(), "test_items", records))
}

func TestChromemSearchZeroVectorReturnsNothing(t *testing.T) {
	c := newTestChromem(t)
	seedChromem(t, c)

	// Cosine similarity against a zero vector is NaN for every stored
	// point; none of those hits may leak through, floor or no floor.
	hits, err := c.Search(context.Background(), "test_items", []float32{0, 0, 0}, 10, 0.7, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = c.Search(context.Background(), "test_items", []float32{0, 0, 0}, 10, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChromemSearchOrdering(t *testing.T) {
	c := newTestChromem(t)
	seedChromem(t, c)

	hits, err := c.Search(context.Background(), "test_items", []float32{1, 0, 0}, 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "a", hits[0].EmbeddingID)
	assert.Equal(t, "c", hits[1].EmbeddingID)
	assert.Equal(t, "b", hits[2].EmbeddingID)
	assert.InDelta(t, 1.0, hits[0].Score, 0.001)
	assert.InDelta(t, 0.6, hits[1].Score, 0.001)

	// Payload values come back stringly typed.
	assert.Equal(t, "doc-1", hits[0].Payload["document_id"])
	assert.Equal(t, "0", hits[0].Payload["chunk_index"])
}

func TestChromemSearchScoreFloor(t *testing.T) {
	c := newTestChromem(t)
	seedChromem(t, c)

	hits, err := c.Search(context.Background(), "test_items", []float32{1, 0, 0}, 10, 0.5, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(hits))
}

func TestChromemSearchFilter(t *testing.T) {
	c := newTestChromem(t)
	seedChromem(t, c)
	ctx := context.Background()

	t.Run("exact match pushes down", func(t *testing.T) {
		hits, err := c.Search(ctx, "test_items", []float32{1, 0, 0}, 10, 0,
			&vectorindex.Filter{Match: map[string]string{"content_type": "image"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, ids(hits))
	})

	t.Run("match any is applied client side", func(t *testing.T) {
		hits, err := c.Search(ctx, "test_items", []float32{1, 0, 0}, 10, 0,
			&vectorindex.Filter{MatchAny: map[string][]string{"content_type": {"text"}}})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, ids(hits))
	})

	t.Run("limit applies after filtering", func(t *testing.T) {
		hits, err := c.Search(ctx, "test_items", []float32{1, 0, 0}, 1, 0,
			&vectorindex.Filter{MatchAny: map[string][]string{"content_type": {"text"}}})
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids(hits))
	})
}

func TestChromemSearchEmptyCollection(t *testing.T) {
	c := newTestChromem(t)
	hits, err := c.Search(context.Background(), "test_items", []float32{1, 0, 0}, 10, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChromemGet(t *testing.T) {
	c := newTestChromem(t)
	seedChromem(t, c)
	ctx := context.Background()

	rec, err := c.Get(ctx, "test_items", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", rec.EmbeddingID)
	assert.Len(t, rec.Vector, 3)
	assert.Equal(t, "text", rec.Payload["content_type"])

	_, err = c.Get(ctx, "test_items", "missing")
	assert.ErrorIs(t, err, vectorindex.ErrNotFound)
}

func TestChromemDelete(t *testing.T) {
	c := newTestChromem(t)
	seedChromem(t, c)
	ctx := context.Background()

	// Unknown ids are skipped, known ids removed.
	require.NoError(t, c.Delete(ctx, "test_items", []string{"a", "never-existed"}))

	_, err := c.Get(ctx, "test_items", "a")
	assert.ErrorIs(t, err, vectorindex.ErrNotFound)

	stats, err := c.CollectionStats(ctx, "test_items")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.PointsCount)
}

func TestChromemCollectionStats(t *testing.T) {
	c := newTestChromem(t)
	seedChromem(t, c)

	stats, err := c.CollectionStats(context.Background(), "test_items")
	require.NoError(t, err)
	assert.Equal(t, "test_items", stats.Name)
	assert.Equal(t, uint64(3), stats.VectorsCount)
	assert.Equal(t, 3, stats.VectorSize)
	assert.Equal(t, "Cosine", stats.Distance)
}

func TestChromemDimensionMismatch(t *testing.T) {
	c := newTestChromem(t)
	ctx := context.Background()

	err := c.Upsert(ctx, "test_items", []vectorindex.Record{{EmbeddingID: "x", Vector: []float32{1, 0}}})
	assert.ErrorIs(t, err, vectorindex.ErrDimensionMismatch)

	_, err = c.Search(ctx, "test_items", []float32{1, 0}, 10, 0, nil)
	assert.ErrorIs(t, err, vectorindex.ErrDimensionMismatch)

	err = c.EnsureCollection(ctx, "other_items", 7)
	assert.ErrorIs(t, err, vectorindex.ErrDimensionMismatch)
}

func TestChromemUnknownCollection(t *testing.T) {
	c, err := vectorindex.NewChromem(vectorindex.ChromemConfig{VectorSize: 3})
	require.NoError(t, err)

	_, err = c.Search(context.Background(), "nope", []float32{1, 0, 0}, 10, 0, nil)
	assert.ErrorIs(t, err, vectorindex.ErrCollectionNotFound)
}

func TestChromemUpsertReplacesByID(t *testing.T) {
	c := newTestChromem(t)
	ctx := context.Background()

	put := func(docID string) {
		require.NoError(t, c.Upsert(ctx, "test_items", []vectorindex.Record{{
			EmbeddingID: "same",
			Vector:      []float32{1, 0, 0},
			Payload:     map[string]any{"document_id": docID},
		}}))
	}
	put("doc-old")
	put("doc-new")

	stats, err := c.CollectionStats(ctx, "test_items")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.PointsCount)

	rec, err := c.Get(ctx, "test_items", "same")
	require.NoError(t, err)
	assert.Equal(t, "doc-new", rec.Payload["document_id"])
}
