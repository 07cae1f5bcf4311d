package vectorindex

import (
	"context"
	"errors"
)

// Sentinel errors for vector index operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch is returned when a vector's length does not match
	// the collection's configured dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the backend is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector index")

	// ErrNotFound is returned by Get when the embedding id has no record.
	ErrNotFound = errors.New("record not found")
)

// Modality names. Keyframes share the image collection; their records carry
// content_type "keyframe" in the payload so assembly can separate them.
const (
	ModalityText  = "text"
	ModalityImage = "image"
	ModalityVideo = "video"
)

// Record is a single vector with its payload, keyed by embedding id.
type Record struct {
	EmbeddingID string
	Vector      []float32
	// Payload always includes document_id and content_type plus the
	// modality-specific join key (chunk_index, keyframe_id, ...).
	Payload map[string]any
}

// Hit is a scored search result from one collection.
type Hit struct {
	EmbeddingID string
	Score       float32
	Modality    string
	Payload     map[string]any
}

// CollectionStats describes a collection's size and configuration.
type CollectionStats struct {
	Name         string `json:"name"`
	VectorsCount uint64 `json:"vectors_count"`
	PointsCount  uint64 `json:"points_count"`
	VectorSize   int    `json:"vector_size"`
	Distance     string `json:"distance"`
}

// Filter is a conjunction of payload-field conditions. All conditions must
// hold for a record to match.
type Filter struct {
	// Match requires exact equality on a payload field.
	Match map[string]string
	// MatchAny requires the field to equal one of the given values.
	MatchAny map[string][]string
	// Ranges are numeric range conditions.
	Ranges []RangeCondition
}

// RangeCondition bounds a numeric payload field. Nil bounds are open.
type RangeCondition struct {
	Key string
	GTE *float64
	LTE *float64
}

// Empty reports whether the filter has no conditions.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.Match) == 0 && len(f.MatchAny) == 0 && len(f.Ranges) == 0)
}

// Index is the per-collection vector store contract. Distance is always
// cosine; collection dimension is fixed at creation.
type Index interface {
	// EnsureCollection creates the collection if missing. Idempotent.
	EnsureCollection(ctx context.Context, collection string, vectorSize int) error

	// Upsert inserts or replaces records, idempotent by embedding id.
	// Fails with ErrDimensionMismatch if any vector has the wrong length.
	Upsert(ctx context.Context, collection string, records []Record) error

	// Get fetches one record by embedding id. Returns ErrNotFound on miss.
	Get(ctx context.Context, collection, embeddingID string) (*Record, error)

	// Delete removes records by embedding id. Missing ids are ignored.
	Delete(ctx context.Context, collection string, embeddingIDs []string) error

	// Search returns up to limit hits ordered by decreasing similarity.
	// Hits below scoreFloor are excluded; filter narrows by payload.
	Search(ctx context.Context, collection string, vector []float32, limit int, scoreFloor float32, filter *Filter) ([]Hit, error)

	// CollectionStats returns counts for one collection.
	CollectionStats(ctx context.Context, collection string) (*CollectionStats, error)

	// Close releases backend resources.
	Close() error
}
