package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/metadata"
	"github.com/fyrsmithlabs/searchd/internal/vectorindex"
)

// IndexContent ingests one content item with its precomputed embedding.
// Idempotent per content id: the embedding id is derived from the content
// id, so repeats upsert the same vector record and content item.
func (e *Engine) IndexContent(ctx context.Context, req IndexRequest) (*IndexResult, error) {
	ctx, span := tracer.Start(ctx, "retrieval.IndexContent")
	defer span.End()
	span.SetAttributes(
		attribute.String("content_id", req.ContentID),
		attribute.String("content_type", req.ContentType),
	)

	if req.ContentID == "" {
		return nil, fmt.Errorf("%w: content_id must not be empty", ErrInvalidRequest)
	}
	kind := metadata.ContentType(req.ContentType)
	switch kind {
	case metadata.ContentTypeText, metadata.ContentTypeImage, metadata.ContentTypeVideo, metadata.ContentTypeKeyframe:
	default:
		return nil, fmt.Errorf("%w: unknown content_type %q", ErrInvalidRequest, req.ContentType)
	}
	if req.Content == "" {
		return nil, fmt.Errorf("%w: content must not be empty", ErrInvalidRequest)
	}
	if len(req.Embeddings) != e.cfg.VectorSize {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d",
			vectorindex.ErrDimensionMismatch, len(req.Embeddings), e.cfg.VectorSize)
	}

	sum := sha256.Sum256([]byte(req.Content))
	contentHash := hex.EncodeToString(sum[:])
	embeddingID := req.ContentID

	doc := &metadata.Document{
		Filename:    metaString(req.Metadata, "filename", req.ContentID),
		FileType:    metaString(req.Metadata, "file_type", req.ContentType),
		SizeBytes:   int64(len(req.Content)),
		MimeType:    metaString(req.Metadata, "mime_type", ""),
		ContentHash: contentHash,
		Metadata:    metadata.JSONMap(req.Metadata),
	}

	result := &IndexResult{ContentID: req.ContentID, VectorIDs: []string{embeddingID}}
	docID, err := e.store.PutDocument(ctx, doc)
	if err != nil {
		var dup *metadata.DuplicateContentError
		if errors.As(err, &dup) {
			docID = dup.ExistingID
			result.AlreadyExists = true
		} else if errors.Is(err, metadata.ErrStoreUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		} else {
			return nil, err
		}
	}
	result.DocumentID = docID

	if err := e.putItem(ctx, kind, docID, embeddingID, req); err != nil {
		span.RecordError(err)
		return nil, err
	}

	payload := map[string]any{
		"document_id":  docID,
		"content_type": req.ContentType,
	}
	switch kind {
	case metadata.ContentTypeText:
		payload["chunk_index"] = metaNumber(req.Metadata, "chunk_index", 0)
	case metadata.ContentTypeKeyframe:
		payload["keyframe_id"] = embeddingID
	}

	modality := modalityForKind(kind)
	record := vectorindex.Record{EmbeddingID: embeddingID, Vector: req.Embeddings, Payload: payload}
	if err := e.hybrid.Index().Upsert(ctx, e.hybrid.Collection(modality), []vectorindex.Record{record}); err != nil {
		if errors.Is(err, vectorindex.ErrDimensionMismatch) {
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: upserting vector: %v", ErrUpstreamUnavailable, err)
	}

	e.logger.Info(ctx, "indexed content",
		zap.String("content_id", req.ContentID),
		zap.String("content_type", req.ContentType),
		zap.String("document_id", docID),
		zap.Bool("already_exists", result.AlreadyExists))
	span.SetStatus(codes.Ok, "success")
	return result, nil
}

func (e *Engine) putItem(ctx context.Context, kind metadata.ContentType, docID, embeddingID string, req IndexRequest) error {
	var err error
	switch kind {
	case metadata.ContentTypeText:
		_, err = e.store.PutChunk(ctx, &metadata.Chunk{
			DocumentID:  docID,
			ChunkIndex:  int(metaNumber(req.Metadata, "chunk_index", 0)),
			Text:        req.Content,
			EmbeddingID: embeddingID,
		})
	case metadata.ContentTypeImage:
		_, err = e.store.PutImage(ctx, &metadata.Image{
			DocumentID:  docID,
			StoragePath: metaString(req.Metadata, "storage_path", ""),
			Width:       int(metaNumber(req.Metadata, "width", 0)),
			Height:      int(metaNumber(req.Metadata, "height", 0)),
			Caption:     req.Content,
			EmbeddingID: embeddingID,
		})
	case metadata.ContentTypeVideo:
		_, err = e.store.PutVideo(ctx, &metadata.Video{
			DocumentID:    docID,
			StoragePath:   metaString(req.Metadata, "storage_path", ""),
			Duration:      metaNumber(req.Metadata, "duration_seconds", 0),
			Width:         int(metaNumber(req.Metadata, "width", 0)),
			Height:        int(metaNumber(req.Metadata, "height", 0)),
			Transcription: req.Content,
			Caption:       metaString(req.Metadata, "caption", ""),
			EmbeddingID:   embeddingID,
		})
	case metadata.ContentTypeKeyframe:
		videoID := metaString(req.Metadata, "video_id", "")
		if videoID == "" {
			return fmt.Errorf("%w: keyframe requires metadata.video_id", ErrInvalidRequest)
		}
		_, err = e.store.PutKeyframe(ctx, &metadata.Keyframe{
			DocumentID:  docID,
			VideoID:     videoID,
			Timestamp:   metaNumber(req.Metadata, "timestamp_seconds", 0),
			StoragePath: metaString(req.Metadata, "storage_path", ""),
			Caption:     req.Content,
			EmbeddingID: embeddingID,
		})
	}
	if err != nil {
		switch {
		case errors.Is(err, metadata.ErrUnknownDocument), errors.Is(err, metadata.ErrInvalidItem):
			return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		case errors.Is(err, metadata.ErrStoreUnavailable):
			return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return err
	}
	return nil
}

// DeleteDocument removes a document's metadata, then sweeps its vectors
// and cached enrichments. Metadata deletion commits first; vector
// cleanup failures are logged but do not fail the call since dangling
// vectors are tolerated at read time.
func (e *Engine) DeleteDocument(ctx context.Context, documentID string) error {
	ctx, span := tracer.Start(ctx, "retrieval.DeleteDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentID))

	plan, err := e.store.DeleteDocument(ctx, documentID)
	if err != nil {
		switch {
		case errors.Is(err, metadata.ErrUnknownDocument):
			return fmt.Errorf("%w: document %s", ErrNotFound, documentID)
		case errors.Is(err, metadata.ErrStoreUnavailable):
			return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return err
	}

	for modality, ids := range map[string][]string{
		vectorindex.ModalityText:  plan.TextIDs,
		vectorindex.ModalityImage: plan.ImageIDs,
		vectorindex.ModalityVideo: plan.VideoIDs,
	} {
		if len(ids) == 0 {
			continue
		}
		if err := e.hybrid.Index().Delete(ctx, e.hybrid.Collection(modality), ids); err != nil {
			e.logger.Warn(ctx, "vector cleanup failed",
				zap.String("document_id", documentID),
				zap.String("modality", modality),
				zap.Error(err))
		}
		for _, id := range ids {
			e.cache.Remove(id)
		}
	}

	e.logger.Info(ctx, "deleted document",
		zap.String("document_id", documentID),
		zap.Int("vectors", len(plan.TextIDs)+len(plan.ImageIDs)+len(plan.VideoIDs)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Stats reports per-modality collection statistics.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Stats")
	defer span.End()

	stats := make(Stats, len(e.hybrid.Modalities()))
	for _, modality := range e.hybrid.Modalities() {
		cs, err := e.hybrid.Index().CollectionStats(ctx, e.hybrid.Collection(modality))
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%w: stats for %s: %v", ErrUpstreamUnavailable, modality, err)
		}
		stats[modality] = CollectionStat{
			VectorsCount: cs.VectorsCount,
			PointsCount:  cs.PointsCount,
			Config: StatConfig{
				VectorSize: cs.VectorSize,
				Distance:   cs.Distance,
			},
		}
	}
	return stats, nil
}

// RunSessionSweeper garbage-collects expired sessions until the context
// is cancelled. It does nothing when retention is disabled.
func (e *Engine) RunSessionSweeper(ctx context.Context) {
	if e.cfg.SessionRetention <= 0 {
		return
	}
	interval := e.cfg.SessionRetention / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info(ctx, "session sweeper started",
		zap.Duration("retention", e.cfg.SessionRetention),
		zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := e.now().Add(-e.cfg.SessionRetention)
			if _, err := e.store.PurgeSessionsBefore(ctx, cutoff); err != nil {
				e.logger.Warn(ctx, "session sweep failed", zap.Error(err))
			}
		}
	}
}

func modalityForKind(kind metadata.ContentType) string {
	switch kind {
	case metadata.ContentTypeText:
		return vectorindex.ModalityText
	case metadata.ContentTypeVideo:
		return vectorindex.ModalityVideo
	default:
		return vectorindex.ModalityImage
	}
}

func metaString(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func metaNumber(m map[string]any, key string, fallback float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}
