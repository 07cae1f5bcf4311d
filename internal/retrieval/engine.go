// Package retrieval implements the search engine: it embeds the query,
// fans out across modality collections, enriches raw hits from the
// metadata store, ranks deterministically, and assembles the context
// bundle. The engine is stateless per request; durable state lives in
// the metadata store and the vector index.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/assembler"
	"github.com/fyrsmithlabs/searchd/internal/blob"
	"github.com/fyrsmithlabs/searchd/internal/embedding"
	"github.com/fyrsmithlabs/searchd/internal/logging"
	"github.com/fyrsmithlabs/searchd/internal/metadata"
	"github.com/fyrsmithlabs/searchd/internal/vectorindex"
)

var tracer = otel.Tracer("searchd.retrieval")

// Store is the slice of the metadata store the engine depends on.
type Store interface {
	PutDocument(ctx context.Context, doc *metadata.Document) (string, error)
	GetDocumentByHash(ctx context.Context, hash string) (*metadata.Document, error)
	PutChunk(ctx context.Context, c *metadata.Chunk) (string, error)
	PutImage(ctx context.Context, img *metadata.Image) (string, error)
	PutVideo(ctx context.Context, v *metadata.Video) (string, error)
	PutKeyframe(ctx context.Context, kf *metadata.Keyframe) (string, error)
	GetContentByEmbeddingIDs(ctx context.Context, embeddingIDs []string) (map[string]*metadata.ContentRef, error)
	RepresentativeContent(ctx context.Context, documentID string) (*metadata.ContentRef, error)
	DeleteDocument(ctx context.Context, documentID string) (*metadata.DeletionPlan, error)
	PutSearchSession(ctx context.Context, session *metadata.SearchSession) (string, error)
	GetSearchSession(ctx context.Context, id string) (*metadata.SearchSession, error)
	ListRecentSessions(ctx context.Context, limit int) ([]metadata.SearchSession, error)
	PurgeSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// Config holds the engine's tunables.
type Config struct {
	VectorSize            int
	DefaultLimit          int
	MaxLimit              int
	SimilarityThreshold   float64
	MaxQueryBytes         int
	EnrichmentTimeout     time.Duration
	SessionWriteTimeout   time.Duration
	EnrichmentConcurrency int
	CacheSize             int
	CacheTTL              time.Duration
	SessionRetention      time.Duration
}

func (c *Config) applyDefaults() {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 10
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = 100
	}
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.7
	}
	if c.MaxQueryBytes <= 0 {
		c.MaxQueryBytes = 8 * 1024
	}
	if c.EnrichmentTimeout <= 0 {
		c.EnrichmentTimeout = time.Second
	}
	if c.SessionWriteTimeout <= 0 {
		c.SessionWriteTimeout = 500 * time.Millisecond
	}
	if c.EnrichmentConcurrency <= 0 {
		c.EnrichmentConcurrency = 16
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 10000
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Minute
	}
}

// Engine coordinates the search pipeline across its collaborators.
type Engine struct {
	store    Store
	blobs    blob.Store
	hybrid   *vectorindex.Hybrid
	embedder embedding.Client
	cfg      Config

	cache      *expirable.LRU[string, *metadata.ContentRef]
	enrichPool *vectorindex.SlotPool
	priority   map[string]int

	logger  *logging.Logger
	metrics *Metrics
	now     func() time.Time
}

// New builds the engine. All collaborators are required except blobs,
// which may be nil when no object store is configured (artifact URLs are
// then omitted).
func New(store Store, blobs blob.Store, hybrid *vectorindex.Hybrid, embedder embedding.Client, cfg Config, logger *logging.Logger) (*Engine, error) {
	if store == nil || hybrid == nil || embedder == nil {
		return nil, fmt.Errorf("retrieval: store, hybrid index, and embedder are required")
	}
	cfg.applyDefaults()

	priority := make(map[string]int, len(hybrid.Modalities()))
	for i, m := range hybrid.Modalities() {
		priority[m] = i
	}

	return &Engine{
		store:      store,
		blobs:      blobs,
		hybrid:     hybrid,
		embedder:   embedder,
		cfg:        cfg,
		cache:      expirable.NewLRU[string, *metadata.ContentRef](cfg.CacheSize, nil, cfg.CacheTTL),
		enrichPool: vectorindex.NewSlotPool(cfg.EnrichmentConcurrency, 2*cfg.EnrichmentConcurrency),
		priority:   priority,
		logger:     logger,
		metrics:    NewMetrics(logger),
		now:        time.Now,
	}, nil
}

// Search runs the full pipeline for a query string.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Search")
	defer span.End()
	start := time.Now()

	modalities, limit, floor, err := e.normalize(&req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("limit", limit),
		attribute.StringSlice("modalities", modalities),
	)

	vector, degraded := e.embed(ctx, req.Query)

	result, err := e.searchWithVector(ctx, req.Query, vector, modalities, limit, floor, req.Filters, degraded)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordSearch(ctx, time.Since(start), 0, false)
		return nil, err
	}

	e.metrics.RecordSearch(ctx, time.Since(start), len(result.Results), true)
	span.SetStatus(codes.Ok, "success")
	return result, nil
}

// SearchSimilar runs the pipeline using a stored vector from a
// representative content item of the given document instead of embedding
// a query. The embedding client is never called.
func (e *Engine) SearchSimilar(ctx context.Context, documentID string, limit *int, threshold *float64) (*SearchResult, error) {
	ctx, span := tracer.Start(ctx, "retrieval.SearchSimilar")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentID))
	start := time.Now()

	req := SearchRequest{Query: "similar:" + documentID, Limit: limit, ScoreThreshold: threshold}
	modalities, lim, floor, err := e.normalize(&req)
	if err != nil {
		return nil, err
	}

	ref, err := e.store.RepresentativeContent(ctx, documentID)
	if err != nil {
		if errors.Is(err, metadata.ErrStoreUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return nil, err
	}
	if ref == nil {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}

	collection := e.hybrid.Collection(refModality(ref))
	rec, err := e.hybrid.Index().Get(ctx, collection, ref.EmbeddingID())
	if err != nil {
		if errors.Is(err, vectorindex.ErrNotFound) {
			return nil, fmt.Errorf("%w: no vector for document %s", ErrNotFound, documentID)
		}
		return nil, fmt.Errorf("%w: reading representative vector: %v", ErrUpstreamUnavailable, err)
	}

	result, err := e.searchWithVector(ctx, req.Query, rec.Vector, modalities, lim, floor, nil, false)
	if err != nil {
		span.RecordError(err)
		e.metrics.RecordSearch(ctx, time.Since(start), 0, false)
		return nil, err
	}
	e.metrics.RecordSearch(ctx, time.Since(start), len(result.Results), true)
	return result, nil
}

// ContextBundle runs a search and returns only the assembled bundle.
func (e *Engine) ContextBundle(ctx context.Context, req SearchRequest) (*assembler.Bundle, error) {
	result, err := e.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	return result.Bundle, nil
}

// GetSession fetches one persisted session.
func (e *Engine) GetSession(ctx context.Context, id string) (*metadata.SearchSession, error) {
	session, err := e.store.GetSearchSession(ctx, id)
	if err != nil {
		if errors.Is(err, metadata.ErrStoreUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return session, nil
}

// ListSessions returns recent sessions, newest first.
func (e *Engine) ListSessions(ctx context.Context, limit int) ([]metadata.SearchSession, error) {
	sessions, err := e.store.ListRecentSessions(ctx, limit)
	if err != nil && errors.Is(err, metadata.ErrStoreUnavailable) {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return sessions, err
}

// Healthy reports whether the metadata store answers a ping.
func (e *Engine) Healthy(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// normalize validates the request and resolves defaults. It mutates
// nothing; resolved values are returned.
func (e *Engine) normalize(req *SearchRequest) (modalities []string, limit int, floor float64, err error) {
	if req.Query == "" {
		return nil, 0, 0, fmt.Errorf("%w: query must not be empty", ErrInvalidRequest)
	}
	if len(req.Query) > e.cfg.MaxQueryBytes {
		return nil, 0, 0, fmt.Errorf("%w: query exceeds %d bytes", ErrInvalidRequest, e.cfg.MaxQueryBytes)
	}

	known := e.hybrid.Modalities()
	if len(req.Modalities) == 0 {
		modalities = known
	} else {
		for _, m := range req.Modalities {
			if _, ok := e.priority[m]; !ok {
				return nil, 0, 0, fmt.Errorf("%w: unknown modality %q", ErrInvalidRequest, m)
			}
		}
		modalities = req.Modalities
	}

	limit = e.cfg.DefaultLimit
	if req.Limit != nil {
		limit = *req.Limit
		if limit < 0 {
			return nil, 0, 0, fmt.Errorf("%w: limit must not be negative", ErrInvalidRequest)
		}
		if limit > e.cfg.MaxLimit {
			limit = e.cfg.MaxLimit
		}
	}

	floor = e.cfg.SimilarityThreshold
	if req.ScoreThreshold != nil {
		floor = *req.ScoreThreshold
		if floor < 0 || floor > 1 {
			return nil, 0, 0, fmt.Errorf("%w: score_threshold must be in [0,1]", ErrInvalidRequest)
		}
	}
	return modalities, limit, floor, nil
}

// embed calls the embedding worker. On failure the zero vector comes back
// with degraded=true and the search proceeds.
func (e *Engine) embed(ctx context.Context, query string) (vector []float32, degraded bool) {
	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		if errors.Is(err, embedding.ErrDegraded) {
			e.logger.Warn(ctx, "embedding degraded, proceeding with zero vector", zap.Error(err))
			return vector, true
		}
		// Non-degraded errors still fall back to the zero vector; the
		// degradation path is the only zero-vector path.
		e.logger.Warn(ctx, "embedding failed, proceeding with zero vector", zap.Error(err))
		return make([]float32, e.cfg.VectorSize), true
	}
	return vector, false
}

// searchWithVector is the shared back half of Search and SearchSimilar.
func (e *Engine) searchWithVector(ctx context.Context, query string, vector []float32, modalities []string, limit int, floor float64, filters *Filters, degraded bool) (*SearchResult, error) {
	flags := Flags{EmbeddingDegraded: degraded}

	var hits []assembler.EnrichedHit
	if limit > 0 {
		// Over-fetch to survive enrichment drops and post filters.
		raw, err := e.hybrid.SearchHybrid(ctx, vector, 2*limit, modalities, float32(floor), pushdownFilter(filters))
		if err != nil {
			if errors.Is(err, vectorindex.ErrOverloaded) {
				return nil, err
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		flags.PartialModalities = len(raw.Failed) > 0

		enriched, err := e.enrich(ctx, raw.Hits)
		if err != nil {
			return nil, err
		}
		hits = e.rank(applyPostFilters(enriched, filters), limit)
		e.attachArtifacts(ctx, hits)
	}

	bundle := assembler.Build(query, hits)

	result := &SearchResult{
		Query:      query,
		Modalities: modalities,
		Results:    hits,
		Bundle:     bundle,
		Metadata: ResultMetadata{
			SearchTimestamp: e.now().UTC(),
			FiltersApplied:  filters,
			ScoreThreshold:  floor,
			Flags:           flags,
		},
	}

	e.persistSession(ctx, result, modalities, filters)
	return result, nil
}

// rank orders hits by descending score, breaking ties by modality
// priority, then document id, then item id. The composite key is total:
// no two hits compare equal.
func (e *Engine) rank(hits []assembler.EnrichedHit, limit int) []assembler.EnrichedHit {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if pa, pb := e.priority[a.Modality], e.priority[b.Modality]; pa != pb {
			return pa < pb
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		return a.ItemID < b.ItemID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// attachArtifacts mints presigned view URLs for media hits. Failures are
// logged and leave the URL empty; they never fail the search.
func (e *Engine) attachArtifacts(ctx context.Context, hits []assembler.EnrichedHit) {
	if e.blobs == nil {
		return
	}
	for i := range hits {
		key := hits[i].StoragePath
		if key == "" {
			continue
		}
		url, err := e.blobs.URLFor(ctx, key)
		if err != nil {
			e.logger.Warn(ctx, "presigning artifact URL failed",
				zap.String("embedding_id", hits[i].EmbeddingID), zap.Error(err))
			continue
		}
		hits[i].Artifacts.ViewURL = url
	}
}

// persistSession freezes the result into a search session. Best-effort:
// it runs under its own short deadline detached from request
// cancellation, and on failure the result ships with a null session id
// and the error noted in the metadata.
func (e *Engine) persistSession(ctx context.Context, result *SearchResult, modalities []string, filters *Filters) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SessionWriteTimeout)
	defer cancel()

	results := make(metadata.SessionResults, len(result.Results))
	for i, h := range result.Results {
		results[i] = metadata.SessionResult{EmbeddingID: h.EmbeddingID, Score: float32(h.Score)}
	}

	bundleJSON, err := json.Marshal(result.Bundle)
	if err != nil {
		result.Metadata.SessionWriteError = err.Error()
		return
	}
	var filterMap metadata.JSONMap
	if !filters.Empty() {
		if raw, err := json.Marshal(filters); err == nil {
			_ = json.Unmarshal(raw, &filterMap)
		}
	}

	session := &metadata.SearchSession{
		Query:      result.Query,
		Modalities: pq.StringArray(modalities),
		Filters:    filterMap,
		Results:    results,
		Bundle:     metadata.RawBundle(bundleJSON),
		CreatedAt:  result.Metadata.SearchTimestamp,
	}
	id, err := e.store.PutSearchSession(wctx, session)
	if err != nil {
		e.logger.Warn(ctx, "session write failed", zap.Error(err))
		e.metrics.RecordSessionWriteFailure(ctx)
		result.Metadata.SessionWriteError = err.Error()
		return
	}
	result.SessionID = id
}

// pushdownFilter converts the filter conditions the vector index can
// evaluate on payloads. Only content_types pushes down; the rest need
// enriched rows.
func pushdownFilter(f *Filters) *vectorindex.Filter {
	if f == nil || len(f.ContentTypes) == 0 {
		return nil
	}
	return &vectorindex.Filter{
		MatchAny: map[string][]string{"content_type": f.ContentTypes},
	}
}

// applyPostFilters evaluates conditions that need document metadata.
func applyPostFilters(hits []assembler.EnrichedHit, f *Filters) []assembler.EnrichedHit {
	if f.Empty() {
		return hits
	}
	out := hits[:0]
	for _, h := range hits {
		if len(f.FileTypes) > 0 && !containsString(f.FileTypes, h.FileType) {
			continue
		}
		if f.MinScore != nil && h.Score < *f.MinScore {
			continue
		}
		if f.DateRange != nil {
			if f.DateRange.GTE != nil && h.CreatedAt.Before(*f.DateRange.GTE) {
				continue
			}
			if f.DateRange.LTE != nil && h.CreatedAt.After(*f.DateRange.LTE) {
				continue
			}
		}
		out = append(out, h)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func refModality(ref *metadata.ContentRef) string {
	switch ref.Kind {
	case metadata.ContentTypeText:
		return vectorindex.ModalityText
	case metadata.ContentTypeVideo:
		return vectorindex.ModalityVideo
	default:
		// Images and keyframes share the image collection.
		return vectorindex.ModalityImage
	}
}

