package retrieval

import (
	"time"

	"github.com/fyrsmithlabs/searchd/internal/assembler"
)

// DateRange bounds document creation time. Either side may be open.
type DateRange struct {
	GTE *time.Time `json:"gte,omitempty"`
	LTE *time.Time `json:"lte,omitempty"`
}

// Filters is the conjunction of metadata conditions a search may carry.
// ContentTypes is pushed down into the vector index payload filter; the
// rest are applied after enrichment.
type Filters struct {
	ContentTypes []string   `json:"content_types,omitempty"`
	FileTypes    []string   `json:"file_types,omitempty"`
	MinScore     *float64   `json:"min_score,omitempty"`
	DateRange    *DateRange `json:"date_range,omitempty"`
}

// Empty reports whether no condition is set.
func (f *Filters) Empty() bool {
	return f == nil ||
		(len(f.ContentTypes) == 0 && len(f.FileTypes) == 0 && f.MinScore == nil && f.DateRange == nil)
}

// SearchRequest is one search call. Limit and ScoreThreshold are pointers
// so an explicit zero can be told apart from "use the default".
type SearchRequest struct {
	Query          string
	Modalities     []string
	Limit          *int
	Filters        *Filters
	ScoreThreshold *float64
}

// Flags marks degradations the request survived.
type Flags struct {
	EmbeddingDegraded bool `json:"embedding_degraded,omitempty"`
	PartialModalities bool `json:"partial_modalities,omitempty"`
}

// ResultMetadata describes how a search was executed.
type ResultMetadata struct {
	SearchTimestamp   time.Time `json:"search_timestamp"`
	FiltersApplied    *Filters  `json:"filters_applied,omitempty"`
	ScoreThreshold    float64   `json:"score_threshold"`
	Flags             Flags     `json:"flags"`
	SessionWriteError string    `json:"session_write_error,omitempty"`
}

// SearchResult is the full outcome of a search or similar-to call.
// SessionID is empty when the best-effort session write failed.
type SearchResult struct {
	SessionID  string                  `json:"session_id,omitempty"`
	Query      string                  `json:"query"`
	Modalities []string                `json:"modalities"`
	Results    []assembler.EnrichedHit `json:"results"`
	Bundle     *assembler.Bundle       `json:"context_bundle"`
	Metadata   ResultMetadata          `json:"metadata"`
}

// IndexRequest ingests one content item with its precomputed embedding.
// Metadata carries type-specific fields: filename, file_type, mime_type,
// storage_path, width, height, duration_seconds, transcription, caption,
// video_id, timestamp_seconds.
type IndexRequest struct {
	ContentID   string         `json:"content_id"`
	ContentType string         `json:"content_type"`
	Content     string         `json:"content"`
	Embeddings  []float32      `json:"embeddings"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// IndexResult reports what an index call created.
type IndexResult struct {
	ContentID     string   `json:"content_id"`
	DocumentID    string   `json:"document_id"`
	VectorIDs     []string `json:"vector_ids"`
	AlreadyExists bool     `json:"already_exists,omitempty"`
}

// Stats holds per-modality collection statistics.
type Stats map[string]CollectionStat

// CollectionStat mirrors one vector collection's counters.
type CollectionStat struct {
	VectorsCount uint64     `json:"vectors_count"`
	PointsCount  uint64     `json:"points_count"`
	Config       StatConfig `json:"config"`
}

// StatConfig echoes the collection's fixed parameters.
type StatConfig struct {
	VectorSize int    `json:"vector_size"`
	Distance   string `json:"distance"`
}
