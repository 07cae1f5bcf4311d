package vectorindex_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/searchd/internal/vectorindex"
)

// fakeIndex serves canned hits per collection for fan-out tests.
type fakeIndex struct {
	hits map[string][]vectorindex.Hit
	errs map[string]error
}

func (f *fakeIndex) EnsureCollection(ctx context.Context, collection string, vectorSize int) error {
	return nil
}

func (f *fakeIndex) Upsert(ctx context.Context, collection string, records []vectorindex.Record) error {
	return nil
}

func (f *fakeIndex) Get(ctx context.Context, collection, embeddingID string) (*vectorindex.Record, error) {
	return nil, vectorindex.ErrNotFound
}

func (f *fakeIndex) Delete(ctx context.Context, collection string, embeddingIDs []string) error {
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, collection string, vector []float32, limit int, scoreFloor float32, filter *vectorindex.Filter) ([]vectorindex.Hit, error) {
	if err := f.errs[collection]; err != nil {
		return nil, err
	}
	return f.hits[collection], nil
}

func (f *fakeIndex) CollectionStats(ctx context.Context, collection string) (*vectorindex.CollectionStats, error) {
	return &vectorindex.CollectionStats{Name: collection}, nil
}

func (f *fakeIndex) Close() error { return nil }

func newTestHybrid(t *testing.T, index vectorindex.Index) *vectorindex.Hybrid {
	t.Helper()
	h, err := vectorindex.NewHybrid(index, vectorindex.HybridConfig{
		Collections: map[string]string{
			vectorindex.ModalityText:  "col_text",
			vectorindex.ModalityImage: "col_image",
			vectorindex.ModalityVideo: "col_video",
		},
		Priority: []string{vectorindex.ModalityText, vectorindex.ModalityImage, vectorindex.ModalityVideo},
	})
	require.NoError(t, err)
	return h
}

func ids(hits []vectorindex.Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.EmbeddingID
	}
	return out
}

func TestSearchHybridMergeOrdering(t *testing.T) {
	index := &fakeIndex{hits: map[string][]vectorindex.Hit{
		"col_text":  {{EmbeddingID: "t1", Score: 0.9}, {EmbeddingID: "t2", Score: 0.5}},
		"col_image": {{EmbeddingID: "i1", Score: 0.9}},
		"col_video": {{EmbeddingID: "v1", Score: 0.95}},
	}}
	h := newTestHybrid(t, index)

	result, err := h.SearchHybrid(context.Background(), []float32{1}, 10, nil, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Failed)

	// Descending score; the 0.9 tie resolves by modality priority.
	assert.Equal(t, []string{"v1", "t1", "i1", "t2"}, ids(result.Hits))
	assert.Equal(t, vectorindex.ModalityVideo, result.Hits[0].Modality)
	assert.Equal(t, vectorindex.ModalityText, result.Hits[1].Modality)
}

func TestSearchHybridTieBreakByEmbeddingID(t *testing.T) {
	index := &fakeIndex{hits: map[string][]vectorindex.Hit{
		"col_text": {{EmbeddingID: "zzz", Score: 0.8}, {EmbeddingID: "aaa", Score: 0.8}},
	}}
	h := newTestHybrid(t, index)

	result, err := h.SearchHybrid(context.Background(), []float32{1}, 10, []string{"text"}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaa", "zzz"}, ids(result.Hits))
}

func TestSearchHybridLimitTruncates(t *testing.T) {
	index := &fakeIndex{hits: map[string][]vectorindex.Hit{
		"col_text":  {{EmbeddingID: "t1", Score: 0.9}, {EmbeddingID: "t2", Score: 0.8}},
		"col_image": {{EmbeddingID: "i1", Score: 0.7}},
	}}
	h := newTestHybrid(t, index)

	result, err := h.SearchHybrid(context.Background(), []float32{1}, 2, []string{"text", "image"}, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, ids(result.Hits))
}

func TestSearchHybridUnknownModality(t *testing.T) {
	h := newTestHybrid(t, &fakeIndex{})
	_, err := h.SearchHybrid(context.Background(), []float32{1}, 10, []string{"audio"}, 0, nil)
	assert.ErrorIs(t, err, vectorindex.ErrInvalidConfig)
}

func TestSearchHybridPartialFailure(t *testing.T) {
	index := &fakeIndex{
		hits: map[string][]vectorindex.Hit{
			"col_text": {{EmbeddingID: "t1", Score: 0.9}},
		},
		errs: map[string]error{
			"col_video": errors.New("connection refused"),
		},
	}
	h := newTestHybrid(t, index)

	result, err := h.SearchHybrid(context.Background(), []float32{1}, 10, nil, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"video"}, result.Failed)
	assert.Equal(t, []string{"t1"}, ids(result.Hits))
}

func TestSearchHybridAllModalitiesFailed(t *testing.T) {
	boom := errors.New("down")
	index := &fakeIndex{errs: map[string]error{
		"col_text": boom, "col_image": boom, "col_video": boom,
	}}
	h := newTestHybrid(t, index)

	_, err := h.SearchHybrid(context.Background(), []float32{1}, 10, nil, 0, nil)
	assert.ErrorIs(t, err, vectorindex.ErrAllModalitiesFailed)
}

func TestSearchHybridAllFailedExpiredDeadline(t *testing.T) {
	index := &fakeIndex{hits: map[string][]vectorindex.Hit{
		"col_text": {{EmbeddingID: "t1", Score: 0.9, Modality: vectorindex.ModalityText}},
	}}
	h := newTestHybrid(t, index)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := h.SearchHybrid(ctx, []float32{1}, 10, nil, 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, vectorindex.ErrAllModalitiesFailed)
}

func TestSearchHybridAllFailedOverloadWins(t *testing.T) {
	index := &fakeIndex{errs: map[string]error{
		"col_text":  vectorindex.ErrOverloaded,
		"col_image": errors.New("down"),
		"col_video": errors.New("down"),
	}}
	h := newTestHybrid(t, index)

	_, err := h.SearchHybrid(context.Background(), []float32{1}, 10, nil, 0, nil)
	assert.ErrorIs(t, err, vectorindex.ErrOverloaded)
}

func TestSearchHybridEmptyCollectionIsNotFailure(t *testing.T) {
	index := &fakeIndex{hits: map[string][]vectorindex.Hit{}}
	h := newTestHybrid(t, index)

	result, err := h.SearchHybrid(context.Background(), []float32{1}, 10, nil, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Failed)
	assert.Empty(t, result.Hits)
}

func TestNewHybridValidation(t *testing.T) {
	_, err := vectorindex.NewHybrid(&fakeIndex{}, vectorindex.HybridConfig{})
	assert.ErrorIs(t, err, vectorindex.ErrInvalidConfig)

	_, err = vectorindex.NewHybrid(&fakeIndex{}, vectorindex.HybridConfig{
		Collections: map[string]string{"text": "col_text"},
		Priority:    []string{"text", "image"},
	})
	assert.ErrorIs(t, err, vectorindex.ErrInvalidConfig)
}
