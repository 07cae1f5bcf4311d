package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var chromemTracer = otel.Tracer("searchd.vectorindex.chromem")

// ChromemConfig holds configuration for the embedded backend.
type ChromemConfig struct {
	// Path is the persistence directory. Empty means in-memory only.
	Path     string
	Compress bool
	// VectorSize is the fixed dimension for every collection.
	VectorSize int
}

// Chromem is an Index backed by the embedded chromem-go store. It needs no
// external services, which makes it the default for development and tests.
//
// chromem payloads are string-typed, so non-string payload values are
// encoded on write and surfaced as strings on read. MatchAny and Range
// filter conditions are evaluated client-side after the vector query.
type Chromem struct {
	db     *chromem.DB
	config ChromemConfig
}

// NewChromem opens (or creates) an embedded store.
func NewChromem(config ChromemConfig) (*Chromem, error) {
	if config.VectorSize <= 0 {
		return nil, fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}

	var db *chromem.DB
	var err error
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
	}

	return &Chromem{db: db, config: config}, nil
}

// Close is a no-op for the embedded store.
func (c *Chromem) Close() error { return nil }

// noEmbed is installed as the collection embedding func. Every record
// arrives with its vector already computed, so being called is a bug.
func noEmbed(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("vectorindex: embedding must be provided by the caller")
}

func (c *Chromem) collection(name string) (*chromem.Collection, error) {
	col := c.db.GetCollection(name, noEmbed)
	if col == nil {
		return nil, ErrCollectionNotFound
	}
	return col, nil
}

// EnsureCollection creates the collection if missing. Idempotent.
func (c *Chromem) EnsureCollection(ctx context.Context, collection string, vectorSize int) error {
	_, span := chromemTracer.Start(ctx, "Chromem.EnsureCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if vectorSize != c.config.VectorSize {
		return fmt.Errorf("%w: collection dimension %d, store configured for %d", ErrDimensionMismatch, vectorSize, c.config.VectorSize)
	}
	if _, err := c.db.GetOrCreateCollection(collection, nil, noEmbed); err != nil {
		span.RecordError(err)
		return fmt.Errorf("creating collection %s: %w", collection, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Upsert inserts or replaces records, idempotent by embedding id.
func (c *Chromem) Upsert(ctx context.Context, collection string, records []Record) error {
	ctx, span := chromemTracer.Start(ctx, "Chromem.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("record_count", len(records)))

	if len(records) == 0 {
		return nil
	}
	col, err := c.collection(collection)
	if err != nil {
		span.RecordError(err)
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		if len(rec.Vector) != c.config.VectorSize {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(rec.Vector), c.config.VectorSize)
		}
		metadata := make(map[string]string, len(rec.Payload))
		for k, v := range rec.Payload {
			if s, ok := payloadString(v); ok {
				metadata[k] = s
			}
		}
		docs[i] = chromem.Document{
			ID:        rec.EmbeddingID,
			Metadata:  metadata,
			Embedding: rec.Vector,
			// chromem requires non-empty content; the embedding id is a
			// stable stand-in since real content lives in the metadata store.
			Content: rec.EmbeddingID,
		}
	}

	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting to collection %s: %w", collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search returns hits ordered by decreasing cosine similarity.
func (c *Chromem) Search(ctx context.Context, collection string, vector []float32, limit int, scoreFloor float32, filter *Filter) ([]Hit, error) {
	ctx, span := chromemTracer.Start(ctx, "Chromem.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("limit", limit))

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Hit{}, nil
	}
	if len(vector) != c.config.VectorSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), c.config.VectorSize)
	}
	col, err := c.collection(collection)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return []Hit{}, nil
	}

	// Exact-match conditions push down as chromem's where clause; the
	// remaining conditions are applied to the returned set, so the query
	// over-fetches to the full collection size bounded by a sane cap.
	k := limit
	if len(filter.AnyClientSide()) > 0 || scoreFloor > 0 {
		k = count
		const maxScan = 10000
		if k > maxScan {
			k = maxScan
		}
	}
	if k > count {
		k = count
	}

	var where map[string]string
	if filter != nil && len(filter.Match) > 0 {
		where = filter.Match
	}

	results, err := col.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		// A zero query vector makes cosine similarity NaN, and NaN
		// compares false against any floor. Drop those hits outright.
		if math.IsNaN(float64(r.Similarity)) {
			continue
		}
		if scoreFloor > 0 && r.Similarity < scoreFloor {
			continue
		}
		payload := make(map[string]any, len(r.Metadata))
		for mk, mv := range r.Metadata {
			payload[mk] = mv
		}
		if !MatchesFilter(payload, filter.clientSide()) {
			continue
		}
		hits = append(hits, Hit{EmbeddingID: r.ID, Score: r.Similarity, Payload: payload})
		if len(hits) == limit {
			break
		}
	}

	// chromem returns results sorted by similarity already; keep the sort
	// explicit for stability across backend versions.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })

	span.SetAttributes(attribute.Int("hit_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Get fetches one record by embedding id.
func (c *Chromem) Get(ctx context.Context, collection, embeddingID string) (*Record, error) {
	ctx, span := chromemTracer.Start(ctx, "Chromem.Get")
	defer span.End()

	col, err := c.collection(collection)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	doc, err := col.GetByID(ctx, embeddingID)
	if err != nil {
		return nil, ErrNotFound
	}
	payload := make(map[string]any, len(doc.Metadata))
	for k, v := range doc.Metadata {
		payload[k] = v
	}
	span.SetStatus(codes.Ok, "success")
	return &Record{EmbeddingID: doc.ID, Vector: doc.Embedding, Payload: payload}, nil
}

// Delete removes records by embedding id. Missing ids are ignored.
func (c *Chromem) Delete(ctx context.Context, collection string, embeddingIDs []string) error {
	ctx, span := chromemTracer.Start(ctx, "Chromem.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("id_count", len(embeddingIDs)))

	if len(embeddingIDs) == 0 {
		return nil
	}
	col, err := c.collection(collection)
	if err != nil {
		span.RecordError(err)
		return err
	}
	for _, id := range embeddingIDs {
		if err := col.Delete(ctx, nil, nil, id); err != nil {
			// chromem errors on unknown ids; dangling deletes are expected
			// after best-effort cleanup, so skip them.
			continue
		}
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// CollectionStats returns counts for one collection.
func (c *Chromem) CollectionStats(ctx context.Context, collection string) (*CollectionStats, error) {
	_, span := chromemTracer.Start(ctx, "Chromem.CollectionStats")
	defer span.End()

	col, err := c.collection(collection)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	n := uint64(col.Count())
	span.SetStatus(codes.Ok, "success")
	return &CollectionStats{
		Name:         collection,
		VectorsCount: n,
		PointsCount:  n,
		VectorSize:   c.config.VectorSize,
		Distance:     "Cosine",
	}, nil
}

var _ Index = (*Chromem)(nil)

// clientSide returns the filter conditions chromem cannot push down.
func (f *Filter) clientSide() *Filter {
	if f.Empty() {
		return nil
	}
	return &Filter{MatchAny: f.MatchAny, Ranges: f.Ranges}
}

// AnyClientSide reports the conditions requiring client-side evaluation.
func (f *Filter) AnyClientSide() []string {
	if f == nil {
		return nil
	}
	keys := make([]string, 0, len(f.MatchAny)+len(f.Ranges))
	for k := range f.MatchAny {
		keys = append(keys, k)
	}
	for _, r := range f.Ranges {
		keys = append(keys, r.Key)
	}
	return keys
}
