package assembler

import "time"

// Citation identifies where a result came from.
type Citation struct {
	Source     string `json:"source"`
	Type       string `json:"type"`
	DocumentID string `json:"document_id"`
	CreatedAt  string `json:"created_at"`
}

// Artifacts carries presigned URLs for the raw media behind a result.
// ViewURL is empty for text hits.
type Artifacts struct {
	ViewURL     string `json:"view_url,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
}

// Detail is the modality-specific part of an enriched hit. Exactly one
// concrete type applies per hit, selected by ContentType.
type Detail interface {
	isDetail()
}

// TextDetail is the detail for a text chunk hit.
type TextDetail struct {
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// ImageDetail is the detail for an image hit.
type ImageDetail struct {
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Caption string `json:"caption"`
}

// VideoDetail is the detail for a video hit.
type VideoDetail struct {
	Duration      float64 `json:"duration_seconds"`
	Transcription string  `json:"transcription"`
	Caption       string  `json:"caption"`
}

// KeyframeDetail is the detail for a keyframe hit.
type KeyframeDetail struct {
	VideoID   string  `json:"video_id"`
	Timestamp float64 `json:"timestamp_seconds"`
	Caption   string  `json:"caption"`
}

func (TextDetail) isDetail()     {}
func (ImageDetail) isDetail()    {}
func (VideoDetail) isDetail()    {}
func (KeyframeDetail) isDetail() {}

// EnrichedHit is a vector hit joined with its content item and document,
// plus the artifact URL and citation computed for this request.
type EnrichedHit struct {
	EmbeddingID string         `json:"embedding_id"`
	Score       float64        `json:"score"`
	Modality    string         `json:"modality"`
	ContentType string         `json:"content_type"`
	Content     string         `json:"content"`
	DocumentID  string         `json:"document_id"`
	ItemID      string         `json:"-"`
	Filename    string         `json:"filename"`
	FileType    string         `json:"file_type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	StoragePath string         `json:"-"`
	CreatedAt   time.Time      `json:"-"`
	Citation    Citation       `json:"citations"`
	Artifacts   Artifacts      `json:"artifacts"`

	Text     *TextDetail     `json:"text,omitempty"`
	Image    *ImageDetail    `json:"image,omitempty"`
	Video    *VideoDetail    `json:"video,omitempty"`
	Keyframe *KeyframeDetail `json:"keyframe,omitempty"`
}

// Section is one modality block of the bundle.
type Section struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Count   int    `json:"count"`
}

// Bundle is the citation-bearing markdown artifact returned with search
// results and frozen into the search session.
type Bundle struct {
	Query          string     `json:"query"`
	Sections       []Section  `json:"sections"`
	UnifiedContext string     `json:"unified_context"`
	TotalResults   int        `json:"total_results"`
	ContextLength  int        `json:"context_length"`
	Citations      []Citation `json:"citations"`
}
