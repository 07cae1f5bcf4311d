package metadata_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/searchd/internal/metadata"
)

func TestJSONMapRoundTrip(t *testing.T) {
	m := metadata.JSONMap{"filename": "a.txt", "width": float64(640)}

	value, err := m.Value()
	require.NoError(t, err)

	var decoded metadata.JSONMap
	require.NoError(t, decoded.Scan(value))
	assert.Equal(t, m, decoded)
}

func TestJSONMapNil(t *testing.T) {
	var m metadata.JSONMap
	value, err := m.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), value)

	var decoded metadata.JSONMap
	require.NoError(t, decoded.Scan(nil))
	assert.Nil(t, decoded)

	assert.Error(t, decoded.Scan(42))
}

func TestSessionResultsRoundTrip(t *testing.T) {
	results := metadata.SessionResults{
		{EmbeddingID: "t1", Score: 0.9},
		{EmbeddingID: "i1", Score: 0.7},
	}
	value, err := results.Value()
	require.NoError(t, err)

	var decoded metadata.SessionResults
	require.NoError(t, decoded.Scan(value))
	assert.Equal(t, results, decoded)

	var empty metadata.SessionResults
	value, err = empty.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), value)
}

func TestRawBundlePreservesBytes(t *testing.T) {
	raw := metadata.RawBundle(`{"query":"q","total_results":3}`)

	value, err := raw.Value()
	require.NoError(t, err)

	var decoded metadata.RawBundle
	require.NoError(t, decoded.Scan(value))

	out, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"q","total_results":3}`, string(out))

	var empty metadata.RawBundle
	out, err = json.Marshal(empty)
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestDuplicateContentError(t *testing.T) {
	err := fmt.Errorf("inserting: %w", &metadata.DuplicateContentError{ExistingID: "doc-9"})

	assert.True(t, errors.Is(err, metadata.ErrDuplicateContent))

	id, ok := metadata.AsDuplicate(err)
	require.True(t, ok)
	assert.Equal(t, "doc-9", id)

	_, ok = metadata.AsDuplicate(errors.New("other"))
	assert.False(t, ok)
}

func TestContentRefAccessors(t *testing.T) {
	tests := []struct {
		name    string
		ref     *metadata.ContentRef
		wantEmb string
		wantID  string
	}{
		{
			name: "chunk",
			ref: &metadata.ContentRef{
				Kind:  metadata.ContentTypeText,
				Chunk: &metadata.Chunk{ID: "c1", EmbeddingID: "e1"},
			},
			wantEmb: "e1", wantID: "c1",
		},
		{
			name: "image",
			ref: &metadata.ContentRef{
				Kind:  metadata.ContentTypeImage,
				Image: &metadata.Image{ID: "i1", EmbeddingID: "e2"},
			},
			wantEmb: "e2", wantID: "i1",
		},
		{
			name: "video",
			ref: &metadata.ContentRef{
				Kind:  metadata.ContentTypeVideo,
				Video: &metadata.Video{ID: "v1", EmbeddingID: "e3"},
			},
			wantEmb: "e3", wantID: "v1",
		},
		{
			name: "keyframe",
			ref: &metadata.ContentRef{
				Kind:     metadata.ContentTypeKeyframe,
				Keyframe: &metadata.Keyframe{ID: "k1", EmbeddingID: "e4"},
			},
			wantEmb: "e4", wantID: "k1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantEmb, tt.ref.EmbeddingID())
			assert.Equal(t, tt.wantID, tt.ref.ItemID())
		})
	}
}

func TestDeletionPlanEmpty(t *testing.T) {
	assert.True(t, (&metadata.DeletionPlan{DocumentID: "d"}).Empty())
	assert.False(t, (&metadata.DeletionPlan{ImageIDs: []string{"i1"}}).Empty())
}
