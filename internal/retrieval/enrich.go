package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/assembler"
	"github.com/fyrsmithlabs/searchd/internal/metadata"
	"github.com/fyrsmithlabs/searchd/internal/vectorindex"
)

const contentExcerptLen = 500

// enrich joins raw vector hits with their content items and documents.
// Hits whose metadata is missing are dropped silently: sessions and the
// vector index hold weak references and dangling ids are expected.
func (e *Engine) enrich(ctx context.Context, raw []vectorindex.Hit) ([]assembler.EnrichedHit, error) {
	ctx, span := tracer.Start(ctx, "retrieval.enrich")
	defer span.End()
	span.SetAttributes(attribute.Int("raw_hits", len(raw)))

	if len(raw) == 0 {
		return nil, nil
	}

	refs := make(map[string]*metadata.ContentRef, len(raw))
	var misses []string
	for _, h := range raw {
		if ref, ok := e.cache.Get(h.EmbeddingID); ok {
			refs[h.EmbeddingID] = ref
			e.metrics.RecordCacheHit(ctx)
		} else {
			misses = append(misses, h.EmbeddingID)
			e.metrics.RecordCacheMiss(ctx)
		}
	}

	if len(misses) > 0 {
		fetched, err := e.lookupBatch(ctx, misses)
		if err != nil {
			return nil, err
		}
		for id, ref := range fetched {
			refs[id] = ref
			e.cache.Add(id, ref)
		}
	}

	hits := make([]assembler.EnrichedHit, 0, len(raw))
	for _, h := range raw {
		ref, ok := refs[h.EmbeddingID]
		if !ok {
			e.logger.Debug(ctx, "dropping hit with missing metadata",
				zap.String("embedding_id", h.EmbeddingID))
			continue
		}
		hits = append(hits, buildHit(h, ref))
	}
	span.SetAttributes(attribute.Int("enriched_hits", len(hits)))
	return hits, nil
}

// lookupBatch fetches missing refs under the enrichment slot pool and
// deadline, retrying transient store errors with exponential backoff.
func (e *Engine) lookupBatch(ctx context.Context, ids []string) (map[string]*metadata.ContentRef, error) {
	release, err := e.enrichPool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.EnrichmentTimeout)
	defer cancel()

	var refs map[string]*metadata.ContentRef
	operation := func() error {
		var err error
		refs, err = e.store.GetContentByEmbeddingIDs(ctx, ids)
		if err != nil && !errors.Is(err, metadata.ErrStoreUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, metadata.ErrStoreUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return nil, err
	}
	return refs, nil
}

func buildHit(h vectorindex.Hit, ref *metadata.ContentRef) assembler.EnrichedHit {
	doc := ref.Document
	out := assembler.EnrichedHit{
		EmbeddingID: h.EmbeddingID,
		Score:       float64(h.Score),
		Modality:    h.Modality,
		ContentType: string(ref.Kind),
		DocumentID:  doc.ID,
		ItemID:      ref.ItemID(),
		Filename:    doc.Filename,
		FileType:    doc.FileType,
		Metadata:    doc.Metadata,
		CreatedAt:   doc.CreatedAt,
		Citation: assembler.Citation{
			Source:     doc.Filename,
			Type:       string(ref.Kind),
			DocumentID: doc.ID,
			CreatedAt:  doc.CreatedAt.UTC().Format(time.RFC3339),
		},
	}

	switch ref.Kind {
	case metadata.ContentTypeText:
		out.Content = ref.Chunk.Text
		out.Text = &assembler.TextDetail{ChunkIndex: ref.Chunk.ChunkIndex, Text: ref.Chunk.Text}

	case metadata.ContentTypeImage:
		out.Content = ref.Image.Caption
		out.StoragePath = ref.Image.StoragePath
		out.Image = &assembler.ImageDetail{
			Width:   ref.Image.Width,
			Height:  ref.Image.Height,
			Caption: ref.Image.Caption,
		}

	case metadata.ContentTypeVideo:
		out.Content = excerptRunes(ref.Video.Transcription, contentExcerptLen)
		out.StoragePath = ref.Video.StoragePath
		out.Video = &assembler.VideoDetail{
			Duration:      ref.Video.Duration,
			Transcription: ref.Video.Transcription,
			Caption:       ref.Video.Caption,
		}

	case metadata.ContentTypeKeyframe:
		out.Content = ref.Keyframe.Caption
		out.StoragePath = ref.Keyframe.StoragePath
		out.Keyframe = &assembler.KeyframeDetail{
			VideoID:   ref.Keyframe.VideoID,
			Timestamp: ref.Keyframe.Timestamp,
			Caption:   ref.Keyframe.Caption,
		}
	}
	return out
}

func excerptRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
