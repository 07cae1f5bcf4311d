package vectorindex

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("searchd.vectorindex.qdrant")

// collectionNamePattern validates collection names.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// payloadIDKey is the payload field holding the caller's embedding id.
// Qdrant point ids must be UUIDs, so the opaque embedding id lives in the
// payload and the point id is derived from it deterministically.
const payloadIDKey = "embedding_id"

// QdrantConfig holds configuration for the Qdrant gRPC backend.
type QdrantConfig struct {
	Host string
	// Port is the gRPC port (6334), not the HTTP REST port.
	Port   int
	UseTLS bool
	APIKey string
	// VectorSize is the fixed dimension for every collection.
	VectorSize int
	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int
	// RetryBackoff is the initial backoff, doubling per attempt.
	RetryBackoff time.Duration
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

func (c *QdrantConfig) applyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
}

// ValidateCollectionName rejects names outside ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidConfig, name)
	}
	return nil
}

// IsTransientError reports whether a gRPC error should be retried.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// Qdrant is an Index backed by a Qdrant server over native gRPC.
type Qdrant struct {
	client *qdrant.Client
	config QdrantConfig

	// collections caches known-existing collection names.
	collections sync.Map
}

// NewQdrant connects to Qdrant and verifies the connection.
func NewQdrant(config QdrantConfig) (*Qdrant, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	q := &Qdrant{client: client, config: config}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	return q, nil
}

// Close closes the gRPC connection.
func (q *Qdrant) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

// retryOperation retries an operation with exponential backoff on
// transient errors.
func (q *Qdrant) retryOperation(ctx context.Context, name string, op func() error) error {
	backoff := q.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		if attempt == q.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, q.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// pointID derives the deterministic Qdrant point id for an embedding id,
// so repeated upserts of the same id replace rather than duplicate.
func pointID(embeddingID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte("searchd:"+embeddingID)).String())
}

// EnsureCollection creates the collection with cosine distance if missing.
func (q *Qdrant) EnsureCollection(ctx context.Context, collection string, vectorSize int) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.EnsureCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("vector_size", vectorSize))

	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	if _, ok := q.collections.Load(collection); ok {
		return nil
	}

	var exists bool
	err := q.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = q.client.CollectionExists(ctx, collection)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !exists {
		err = q.retryOperation(ctx, "create_collection", func() error {
			return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: collection,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(vectorSize),
					Distance: qdrant.Distance_Cosine,
				}),
			})
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("creating collection %s: %w", collection, err)
		}
	}

	q.collections.Store(collection, true)
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Upsert inserts or replaces records, idempotent by embedding id.
func (q *Qdrant) Upsert(ctx context.Context, collection string, records []Record) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("record_count", len(records)))

	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		if len(rec.Vector) != q.config.VectorSize {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(rec.Vector), q.config.VectorSize)
		}
		payload := map[string]*qdrant.Value{
			payloadIDKey: {Kind: &qdrant.Value_StringValue{StringValue: rec.EmbeddingID}},
		}
		for k, v := range rec.Payload {
			switch val := v.(type) {
			case string:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
			case int:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
			case int64:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
			case float64:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
			case bool:
				payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
			}
		}
		points[i] = &qdrant.PointStruct{
			Id:      pointID(rec.EmbeddingID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: payload,
		}
	}

	err := q.retryOperation(ctx, "upsert", func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting to collection %s: %w", collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search returns hits ordered by decreasing cosine similarity.
func (q *Qdrant) Search(ctx context.Context, collection string, vector []float32, limit int, scoreFloor float32, filter *Filter) ([]Hit, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Search")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("limit", limit))

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Hit{}, nil
	}
	if len(vector) != q.config.VectorSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), q.config.VectorSize)
	}

	query := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildQdrantFilter(filter),
	}
	if scoreFloor > 0 {
		query.ScoreThreshold = qdrant.PtrOf(scoreFloor)
	}

	var points []*qdrant.ScoredPoint
	err := q.retryOperation(ctx, "search", func() error {
		res, err := q.client.Query(ctx, query)
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", collection, err)
	}

	hits := make([]Hit, 0, len(points))
	for _, point := range points {
		hit := Hit{Score: point.Score, Payload: decodePayload(point.Payload)}
		if id, ok := hit.Payload[payloadIDKey].(string); ok {
			hit.EmbeddingID = id
			delete(hit.Payload, payloadIDKey)
		}
		hits = append(hits, hit)
	}

	span.SetAttributes(attribute.Int("hit_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Get fetches one record by embedding id.
func (q *Qdrant) Get(ctx context.Context, collection, embeddingID string) (*Record, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Get")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	var points []*qdrant.RetrievedPoint
	err := q.retryOperation(ctx, "get", func() error {
		res, err := q.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: collection,
			Ids:            []*qdrant.PointId{pointID(embeddingID)},
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("getting %s from %s: %w", embeddingID, collection, err)
	}
	if len(points) == 0 {
		return nil, ErrNotFound
	}

	rec := &Record{
		EmbeddingID: embeddingID,
		Payload:     decodePayload(points[0].Payload),
	}
	delete(rec.Payload, payloadIDKey)
	if v := points[0].Vectors.GetVector(); v != nil {
		rec.Vector = v.GetData()
	}
	span.SetStatus(codes.Ok, "success")
	return rec, nil
}

// Delete removes records by embedding id.
func (q *Qdrant) Delete(ctx context.Context, collection string, embeddingIDs []string) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection), attribute.Int("id_count", len(embeddingIDs)))

	if len(embeddingIDs) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, len(embeddingIDs))
	for i, id := range embeddingIDs {
		ids[i] = pointID(id)
	}

	err := q.retryOperation(ctx, "delete", func() error {
		_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: ids},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting from collection %s: %w", collection, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// CollectionStats returns counts for one collection.
func (q *Qdrant) CollectionStats(ctx context.Context, collection string) (*CollectionStats, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.CollectionStats")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collection))

	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	var stats *CollectionStats
	err := q.retryOperation(ctx, "collection_stats", func() error {
		info, err := q.client.GetCollectionInfo(ctx, collection)
		if err != nil {
			if st, ok := status.FromError(err); ok && st.Code() == grpccodes.NotFound {
				return ErrCollectionNotFound
			}
			return err
		}
		stats = &CollectionStats{
			Name:       collection,
			VectorSize: q.config.VectorSize,
			Distance:   "Cosine",
		}
		if info.PointsCount != nil {
			stats.PointsCount = *info.PointsCount
		}
		stats.VectorsCount = vectorsCountFromInfo(info)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetStatus(codes.Ok, "success")
	return stats, nil
}

// vectorsCountFromInfo picks the vector count to report. The client only
// exposes the indexed vector count, and freshly inserted points may not be
// indexed yet, so fall back to the point count when it reads zero.
func vectorsCountFromInfo(info *qdrant.CollectionInfo) uint64 {
	if n := info.GetIndexedVectorsCount(); n > 0 {
		return n
	}
	return info.GetPointsCount()
}

// buildQdrantFilter translates a Filter into a Qdrant payload filter.
func buildQdrantFilter(filter *Filter) *qdrant.Filter {
	if filter.Empty() {
		return nil
	}
	conditions := make([]*qdrant.Condition, 0, len(filter.Match)+len(filter.MatchAny)+len(filter.Ranges))
	for key, value := range filter.Match {
		conditions = append(conditions, qdrant.NewMatch(key, value))
	}
	for key, values := range filter.MatchAny {
		conditions = append(conditions, qdrant.NewMatchKeywords(key, values...))
	}
	for _, r := range filter.Ranges {
		rng := &qdrant.Range{}
		if r.GTE != nil {
			rng.Gte = qdrant.PtrOf(*r.GTE)
		}
		if r.LTE != nil {
			rng.Lte = qdrant.PtrOf(*r.LTE)
		}
		conditions = append(conditions, qdrant.NewRange(r.Key, rng))
	}
	return &qdrant.Filter{Must: conditions}
}

// decodePayload converts a Qdrant payload back to generic values.
func decodePayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			out[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = val.BoolValue
		}
	}
	return out
}

var _ Index = (*Qdrant)(nil)
