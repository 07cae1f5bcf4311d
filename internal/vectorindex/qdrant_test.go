package vectorindex

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
)

func u64(n uint64) *uint64 { return &n }

func TestVectorsCountFromInfo(t *testing.T) {
	tests := []struct {
		name string
		info *qdrant.CollectionInfo
		want uint64
	}{
		{
			name: "indexed count preferred",
			info: &qdrant.CollectionInfo{IndexedVectorsCount: u64(7), PointsCount: u64(9)},
			want: 7,
		},
		{
			name: "zero indexed falls back to points",
			info: &qdrant.CollectionInfo{IndexedVectorsCount: u64(0), PointsCount: u64(9)},
			want: 9,
		},
		{
			name: "unset indexed falls back to points",
			info: &qdrant.CollectionInfo{PointsCount: u64(9)},
			want: 9,
		},
		{
			name: "empty collection",
			info: &qdrant.CollectionInfo{},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, vectorsCountFromInfo(tt.info))
		})
	}
}
