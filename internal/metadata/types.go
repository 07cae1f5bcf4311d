package metadata

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ContentType discriminates the four content-item kinds.
type ContentType string

const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeVideo    ContentType = "video"
	ContentTypeKeyframe ContentType = "keyframe"
)

// JSONMap is a free-form mapping stored as JSONB.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("metadata: cannot scan %T into JSONMap", src)
	}
	return json.Unmarshal(b, m)
}

// Document is the immutable record of one ingested file.
type Document struct {
	ID          string    `db:"id" json:"id"`
	Filename    string    `db:"filename" json:"filename"`
	FileType    string    `db:"file_type" json:"file_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	MimeType    string    `db:"mime_type" json:"mime_type"`
	ContentHash string    `db:"content_hash" json:"content_hash"`
	Metadata    JSONMap   `db:"metadata" json:"metadata"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Chunk is a text span of a document with its own vector.
type Chunk struct {
	ID          string    `db:"id" json:"id"`
	DocumentID  string    `db:"document_id" json:"document_id"`
	ChunkIndex  int       `db:"chunk_index" json:"chunk_index"`
	Text        string    `db:"chunk_text" json:"text"`
	EmbeddingID string    `db:"embedding_id" json:"embedding_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Image is a stored image with its own vector.
type Image struct {
	ID          string    `db:"id" json:"id"`
	DocumentID  string    `db:"document_id" json:"document_id"`
	StoragePath string    `db:"storage_path" json:"storage_path"`
	Width       int       `db:"width" json:"width"`
	Height      int       `db:"height" json:"height"`
	Caption     string    `db:"caption" json:"caption"`
	EmbeddingID string    `db:"embedding_id" json:"embedding_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Video is a stored video with its own vector.
type Video struct {
	ID            string    `db:"id" json:"id"`
	DocumentID    string    `db:"document_id" json:"document_id"`
	StoragePath   string    `db:"storage_path" json:"storage_path"`
	Duration      float64   `db:"duration_seconds" json:"duration_seconds"`
	Width         int       `db:"width" json:"width"`
	Height        int       `db:"height" json:"height"`
	Transcription string    `db:"transcription" json:"transcription"`
	Caption       string    `db:"caption" json:"caption"`
	EmbeddingID   string    `db:"embedding_id" json:"embedding_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Keyframe is a still extracted from a parent video, with its own vector.
// Its timestamp is bounded by the parent video's duration.
type Keyframe struct {
	ID          string    `db:"id" json:"id"`
	DocumentID  string    `db:"document_id" json:"document_id"`
	VideoID     string    `db:"video_id" json:"video_id"`
	Timestamp   float64   `db:"timestamp_seconds" json:"timestamp_seconds"`
	StoragePath string    `db:"storage_path" json:"storage_path"`
	Caption     string    `db:"caption" json:"caption"`
	EmbeddingID string    `db:"embedding_id" json:"embedding_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ContentRef is the join of a content item with its owning document,
// keyed by embedding id. Exactly one of the item pointers is non-nil,
// matching Kind.
type ContentRef struct {
	Kind     ContentType
	Document *Document
	Chunk    *Chunk
	Image    *Image
	Video    *Video
	Keyframe *Keyframe
}

// EmbeddingID returns the item's embedding id.
func (r *ContentRef) EmbeddingID() string {
	switch r.Kind {
	case ContentTypeText:
		return r.Chunk.EmbeddingID
	case ContentTypeImage:
		return r.Image.EmbeddingID
	case ContentTypeVideo:
		return r.Video.EmbeddingID
	case ContentTypeKeyframe:
		return r.Keyframe.EmbeddingID
	}
	return ""
}

// ItemID returns the content item's own id.
func (r *ContentRef) ItemID() string {
	switch r.Kind {
	case ContentTypeText:
		return r.Chunk.ID
	case ContentTypeImage:
		return r.Image.ID
	case ContentTypeVideo:
		return r.Video.ID
	case ContentTypeKeyframe:
		return r.Keyframe.ID
	}
	return ""
}

// SessionResult is one (embedding id, score) pair frozen into a session.
type SessionResult struct {
	EmbeddingID string  `json:"embedding_id"`
	Score       float32 `json:"score"`
}

// SessionResults is the ordered result list stored as JSONB.
type SessionResults []SessionResult

// Value implements driver.Valuer.
func (r SessionResults) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner.
func (r *SessionResults) Scan(src any) error {
	if src == nil {
		*r = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("metadata: cannot scan %T into SessionResults", src)
	}
	return json.Unmarshal(b, r)
}

// RawBundle is the frozen context bundle stored as JSONB. It is opaque to
// the store and re-served byte-for-byte.
type RawBundle json.RawMessage

// Value implements driver.Valuer.
func (b RawBundle) Value() (driver.Value, error) {
	if len(b) == 0 {
		return []byte("null"), nil
	}
	return []byte(b), nil
}

// Scan implements sql.Scanner.
func (b *RawBundle) Scan(src any) error {
	if src == nil {
		*b = nil
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("metadata: cannot scan %T into RawBundle", src)
	}
	*b = append((*b)[:0], raw...)
	return nil
}

// MarshalJSON re-emits the stored bytes.
func (b RawBundle) MarshalJSON() ([]byte, error) {
	if len(b) == 0 {
		return []byte("null"), nil
	}
	return b, nil
}

// UnmarshalJSON stores the bytes verbatim.
func (b *RawBundle) UnmarshalJSON(data []byte) error {
	*b = append((*b)[:0], data...)
	return nil
}

// SearchSession is the durable, replayable record of one search call.
// Immutable after creation. Result references are weak: the underlying
// content may be deleted later and readers must tolerate that.
type SearchSession struct {
	ID         string         `db:"id" json:"session_id"`
	Query      string         `db:"query" json:"query"`
	Modalities pq.StringArray `db:"modalities" json:"modalities"`
	Filters    JSONMap        `db:"filters" json:"filters"`
	Results    SessionResults `db:"results" json:"results"`
	Bundle     RawBundle      `db:"bundle" json:"context_bundle"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// DeletionPlan lists the embedding ids that must be removed from each
// vector collection after a document's metadata is deleted.
type DeletionPlan struct {
	DocumentID string
	TextIDs    []string
	ImageIDs   []string
	VideoIDs   []string
}

// Empty reports whether the plan has no vector deletions.
func (p *DeletionPlan) Empty() bool {
	return len(p.TextIDs) == 0 && len(p.ImageIDs) == 0 && len(p.VideoIDs) == 0
}
