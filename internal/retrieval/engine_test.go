package retrieval_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/searchd/internal/embedding"
	"github.com/fyrsmithlabs/searchd/internal/logging"
	"github.com/fyrsmithlabs/searchd/internal/metadata"
	"github.com/fyrsmithlabs/searchd/internal/retrieval"
	"github.com/fyrsmithlabs/searchd/internal/vectorindex"
)

// memIndex is an in-memory vectorindex.Index that records calls.
type memIndex struct {
	mu        sync.Mutex
	hits      map[string][]vectorindex.Hit
	errs      map[string]error
	records   map[string]*vectorindex.Record
	upserts   map[string][]vectorindex.Record
	deletes   map[string][]string
	searched  bool
	lastLimit int
}

func newMemIndex() *memIndex {
	return &memIndex{
		hits:    map[string][]vectorindex.Hit{},
		errs:    map[string]error{},
		records: map[string]*vectorindex.Record{},
		upserts: map[string][]vectorindex.Record{},
		deletes: map[string][]string{},
	}
}

func (m *memIndex) EnsureCollection(ctx context.Context, collection string, vectorSize int) error {
	return nil
}

func (m *memIndex) Upsert(ctx context.Context, collection string, records []vectorindex.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts[collection] = append(m.upserts[collection], records...)
	return nil
}

func (m *memIndex) Get(ctx context.Context, collection, embeddingID string) (*vectorindex.Record, error) {
	if rec, ok := m.records[collection+"/"+embeddingID]; ok {
		return rec, nil
	}
	return nil, vectorindex.ErrNotFound
}

func (m *memIndex) Delete(ctx context.Context, collection string, embeddingIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes[collection] = append(m.deletes[collection], embeddingIDs...)
	return nil
}

func (m *memIndex) Search(ctx context.Context, collection string, vector []float32, limit int, scoreFloor float32, filter *vectorindex.Filter) ([]vectorindex.Hit, error) {
	m.mu.Lock()
	m.searched = true
	m.lastLimit = limit
	m.mu.Unlock()
	if err := m.errs[collection]; err != nil {
		return nil, err
	}
	return m.hits[collection], nil
}

func (m *memIndex) CollectionStats(ctx context.Context, collection string) (*vectorindex.CollectionStats, error) {
	return &vectorindex.CollectionStats{
		Name: collection, VectorsCount: 5, PointsCount: 5, VectorSize: 3, Distance: "Cosine",
	}, nil
}

func (m *memIndex) Close() error { return nil }

// stubStore is a canned retrieval.Store.
type stubStore struct {
	refs    map[string]*metadata.ContentRef
	refsErr error

	docID     string
	putDocErr error

	chunks    []*metadata.Chunk
	keyframes []*metadata.Keyframe

	rep    *metadata.ContentRef
	repErr error

	plan      *metadata.DeletionPlan
	deleteErr error

	sessions   []*metadata.SearchSession
	sessionErr error

	storedSessions map[string]*metadata.SearchSession
	listed         []metadata.SearchSession
	pingErr        error
}

func (s *stubStore) PutDocument(ctx context.Context, doc *metadata.Document) (string, error) {
	if s.putDocErr != nil {
		return "", s.putDocErr
	}
	if s.docID == "" {
		return "doc-1", nil
	}
	return s.docID, nil
}

func (s *stubStore) GetDocumentByHash(ctx context.Context, hash string) (*metadata.Document, error) {
	return nil, nil
}

func (s *stubStore) PutChunk(ctx context.Context, c *metadata.Chunk) (string, error) {
	s.chunks = append(s.chunks, c)
	return "chunk-1", nil
}

func (s *stubStore) PutImage(ctx context.Context, img *metadata.Image) (string, error) {
	return "image-1", nil
}

func (s *stubStore) PutVideo(ctx context.Context, v *metadata.Video) (string, error) {
	return "video-1", nil
}

func (s *stubStore) PutKeyframe(ctx context.Context, kf *metadata.Keyframe) (string, error) {
	s.keyframes = append(s.keyframes, kf)
	return "kf-1", nil
}

func (s *stubStore) GetContentByEmbeddingIDs(ctx context.Context, embeddingIDs []string) (map[string]*metadata.ContentRef, error) {
	if s.refsErr != nil {
		return nil, s.refsErr
	}
	out := make(map[string]*metadata.ContentRef)
	for _, id := range embeddingIDs {
		if ref, ok := s.refs[id]; ok {
			out[id] = ref
		}
	}
	return out, nil
}

func (s *stubStore) RepresentativeContent(ctx context.Context, documentID string) (*metadata.ContentRef, error) {
	return s.rep, s.repErr
}

func (s *stubStore) DeleteDocument(ctx context.Context, documentID string) (*metadata.DeletionPlan, error) {
	return s.plan, s.deleteErr
}

func (s *stubStore) PutSearchSession(ctx context.Context, session *metadata.SearchSession) (string, error) {
	if s.sessionErr != nil {
		return "", s.sessionErr
	}
	s.sessions = append(s.sessions, session)
	return "sess-1", nil
}

func (s *stubStore) GetSearchSession(ctx context.Context, id string) (*metadata.SearchSession, error) {
	return s.storedSessions[id], nil
}

func (s *stubStore) ListRecentSessions(ctx context.Context, limit int) ([]metadata.SearchSession, error) {
	return s.listed, nil
}

func (s *stubStore) PurgeSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (s *stubStore) Ping(ctx context.Context) error { return s.pingErr }

type stubEmbedder struct {
	vec    []float32
	err    error
	called bool
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	s.called = true
	return s.vec, s.err
}

func textRef(docID, embID, text string) *metadata.ContentRef {
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	return &metadata.ContentRef{
		Kind: metadata.ContentTypeText,
		Document: &metadata.Document{
			ID: docID, Filename: docID + ".txt", FileType: "txt", CreatedAt: created,
		},
		Chunk: &metadata.Chunk{
			ID: "chunk-" + embID, DocumentID: docID, Text: text, EmbeddingID: embID,
		},
	}
}

func imageRef(docID, embID, caption string) *metadata.ContentRef {
	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	return &metadata.ContentRef{
		Kind: metadata.ContentTypeImage,
		Document: &metadata.Document{
			ID: docID, Filename: docID + ".png", FileType: "png", CreatedAt: created,
		},
		Image: &metadata.Image{
			ID: "img-" + embID, DocumentID: docID, Caption: caption,
			StoragePath: "image/ab/" + embID + ".png", EmbeddingID: embID,
		},
	}
}

func newTestEngine(t *testing.T, store *stubStore, index *memIndex, embedder embedding.Client) *retrieval.Engine {
	t.Helper()
	hybrid, err := vectorindex.NewHybrid(index, vectorindex.HybridConfig{
		Collections: map[string]string{
			vectorindex.ModalityText:  "col_text",
			vectorindex.ModalityImage: "col_image",
			vectorindex.ModalityVideo: "col_video",
		},
		Priority: []string{vectorindex.ModalityText, vectorindex.ModalityImage, vectorindex.ModalityVideo},
	})
	require.NoError(t, err)

	engine, err := retrieval.New(store, nil, hybrid, embedder, retrieval.Config{
		VectorSize:    3,
		MaxQueryBytes: 64,
	}, logging.NewNop())
	require.NoError(t, err)
	return engine
}

func hitIDs(result *retrieval.SearchResult) []string {
	out := make([]string, len(result.Results))
	for i, h := range result.Results {
		out[i] = h.EmbeddingID
	}
	return out
}

func TestSearchRanksAndAssembles(t *testing.T) {
	index := newMemIndex()
	index.hits["col_text"] = []vectorindex.Hit{
		{EmbeddingID: "t1", Score: 0.9},
		{EmbeddingID: "t2", Score: 0.95},
	}
	index.hits["col_image"] = []vectorindex.Hit{{EmbeddingID: "i1", Score: 0.9}}

	store := &stubStore{refs: map[string]*metadata.ContentRef{
		"t1": textRef("doc-1", "t1", "first chunk"),
		"t2": textRef("doc-2", "t2", "second chunk"),
		"i1": imageRef("doc-3", "i1", "a chart"),
	}}
	engine := newTestEngine(t, store, index, &stubEmbedder{vec: []float32{1, 0, 0}})

	result, err := engine.Search(context.Background(), retrieval.SearchRequest{Query: "charts"})
	require.NoError(t, err)

	// Highest score first; the 0.9 tie resolves text before image.
	assert.Equal(t, []string{"t2", "t1", "i1"}, hitIDs(result))
	assert.Equal(t, "sess-1", result.SessionID)
	assert.Equal(t, 3, result.Bundle.TotalResults)
	assert.False(t, result.Metadata.Flags.EmbeddingDegraded)
	assert.False(t, result.Metadata.Flags.PartialModalities)
	assert.InDelta(t, 0.7, result.Metadata.ScoreThreshold, 0.0001)

	require.Len(t, store.sessions, 1)
	session := store.sessions[0]
	assert.Equal(t, "charts", session.Query)
	assert.Equal(t, []string{"text", "image", "video"}, []string(session.Modalities))
	require.Len(t, session.Results, 3)
	assert.Equal(t, "t2", session.Results[0].EmbeddingID)
	assert.NotEmpty(t, session.Bundle)
}

func TestSearchEmbeddingDegraded(t *testing.T) {
	index := newMemIndex()
	store := &stubStore{}
	embedder := &stubEmbedder{vec: make([]float32, 3), err: embedding.ErrDegraded}
	engine := newTestEngine(t, store, index, embedder)

	result, err := engine.Search(context.Background(), retrieval.SearchRequest{Query: "q"})
	require.NoError(t, err)

	assert.True(t, result.Metadata.Flags.EmbeddingDegraded)
	assert.Equal(t, "sess-1", result.SessionID)
}

func TestSearchPartialModalities(t *testing.T) {
	index := newMemIndex()
	index.hits["col_text"] = []vectorindex.Hit{{EmbeddingID: "t1", Score: 0.8}}
	index.errs["col_video"] = errors.New("connection refused")

	store := &stubStore{refs: map[string]*metadata.ContentRef{
		"t1": textRef("doc-1", "t1", "hello"),
	}}
	engine := newTestEngine(t, store, index, &stubEmbedder{vec: []float32{1, 0, 0}})

	result, err := engine.Search(context.Background(), retrieval.SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.True(t, result.Metadata.Flags.PartialModalities)
	assert.Equal(t, []string{"t1"}, hitIDs(result))
}

func TestSearchAllModalitiesFailed(t *testing.T) {
	index := newMemIndex()
	boom := errors.New("down")
	index.errs["col_text"] = boom
	index.errs["col_image"] = boom
	index.errs["col_video"] = boom

	engine := newTestEngine(t, &stubStore{}, index, &stubEmbedder{vec: []float32{1, 0, 0}})

	_, err := engine.Search(context.Background(), retrieval.SearchRequest{Query: "q"})
	assert.ErrorIs(t, err, retrieval.ErrUpstreamUnavailable)
}

func TestSearchOverloadedPassesThrough(t *testing.T) {
	index := newMemIndex()
	index.errs["col_text"] = vectorindex.ErrOverloaded
	index.errs["col_image"] = vectorindex.ErrOverloaded
	index.errs["col_video"] = vectorindex.ErrOverloaded

	engine := newTestEngine(t, &stubStore{}, index, &stubEmbedder{vec: []float32{1, 0, 0}})

	_, err := engine.Search(context.Background(), retrieval.SearchRequest{Query: "q"})
	assert.ErrorIs(t, err, vectorindex.ErrOverloaded)
}

func TestSearchDegradedEmbeddingOnChromemReturnsNothing(t *testing.T) {
	chromemIndex, err := vectorindex.NewChromem(vectorindex.ChromemConfig{VectorSize: 3})
	require.NoError(t, err)
	for _, col := range []string{"col_text", "col_image", "col_video"} {
		require.NoError(t, chromemIndex.EnsureCollection(context.Background(), col, 3))
	}
	require.NoError(t, chromemIndex.Upsert(context.Background(), "col_text", []vectorindex.Record{
		{EmbeddingID: "t1", Vector: []float32{1, 0, 0}, Payload: map[string]any{"content_type": "text", "document_id": "doc-1"}},
	}))

	hybrid, err := vectorindex.NewHybrid(chromemIndex, vectorindex.HybridConfig{
		Collections: map[string]string{
			vectorindex.ModalityText:  "col_text",
			vectorindex.ModalityImage: "col_image",
			vectorindex.ModalityVideo: "col_video",
		},
		Priority: []string{vectorindex.ModalityText, vectorindex.ModalityImage, vectorindex.ModalityVideo},
	})
	require.NoError(t, err)

	store := &stubStore{}
	embedder := &stubEmbedder{vec: []float32{0, 0, 0}, err: embedding.ErrDegraded}
	engine, err := retrieval.New(store, nil, hybrid, embedder, retrieval.Config{
		VectorSize:    3,
		MaxQueryBytes: 64,
	}, logging.NewNop())
	require.NoError(t, err)

	// The zero query vector makes every cosine score undefined; the search
	// must come back empty and flagged rather than failing or leaking hits.
	floor := 0.7
	result, err := engine.Search(context.Background(), retrieval.SearchRequest{Query: "anything", ScoreThreshold: &floor})
	require.NoError(t, err)
	assert.True(t, result.Metadata.Flags.EmbeddingDegraded)
	assert.Empty(t, result.Results)
	assert.Equal(t, 0, result.Bundle.TotalResults)
}

func TestSearchExpiredDeadlinePassesThrough(t *testing.T) {
	index := newMemIndex()
	engine := newTestEngine(t, &stubStore{}, index, &stubEmbedder{vec: []float32{1, 0, 0}})

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := engine.Search(ctx, retrieval.SearchRequest{Query: "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, retrieval.ErrUpstreamUnavailable)
}

func TestSearchDropsHitsWithMissingMetadata(t *testing.T) {
	index := newMemIndex()
	index.hits["col_text"] = []vectorindex.Hit{
		{EmbeddingID: "t1", Score: 0.9},
		{EmbeddingID: "orphan", Score: 0.95},
	}
	store := &stubStore{refs: map[string]*metadata.ContentRef{
		"t1": textRef("doc-1", "t1", "kept"),
	}}
	engine := newTestEngine(t, store, index, &stubEmbedder{vec: []float32{1, 0, 0}})

	result, err := engine.Search(context.Background(), retrieval.SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, hitIDs(result))
}

func TestSearchEnrichmentPermanentError(t *testing.T) {
	index := newMemIndex()
	index.hits["col_text"] = []vectorindex.Hit{{EmbeddingID: "t1", Score: 0.9}}
	store := &stubStore{refsErr: errors.New("schema drift")}
	engine := newTestEngine(t, store, index, &stubEmbedder{vec: []float32{1, 0, 0}})

	_, err := engine.Search(context.Background(), retrieval.SearchRequest{Query: "q"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "schema drift")
}

func TestSearchLimitZero(t *testing.T) {
	index := newMemIndex()
	index.hits["col_text"] = []vectorindex.Hit{{EmbeddingID: "t1", Score: 0.9}}
	store := &stubStore{}
	engine := newTestEngine(t, store, index, &stubEmbedder{vec: []float32{1, 0, 0}})

	zero := 0
	result, err := engine.Search(context.Background(), retrieval.SearchRequest{Query: "anything", Limit: &zero})
	require.NoError(t, err)

	assert.Empty(t, result.Results)
	assert.Equal(t, 0, result.Bundle.TotalResults)
	assert.Contains(t, result.Bundle.UnifiedContext, "# Search Results for: anything")
	assert.False(t, index.searched)

	// The empty result is still frozen into a session.
	assert.Equal(t, "sess-1", result.SessionID)
	require.Len(t, store.sessions, 1)
}

func TestSearchOverfetchesBeforeRanking(t *testing.T) {
	index := newMemIndex()
	engine := newTestEngine(t, &stubStore{}, index, &stubEmbedder{vec: []float32{1, 0, 0}})

	five := 5
	_, err := engine.Search(context.Background(), retrieval.SearchRequest{Query: "q", Limit: &five})
	require.NoError(t, err)
	assert.Equal(t, 10, index.lastLimit)
}

func TestSearchValidation(t *testing.T) {
	engine := newTestEngine(t, &stubStore{}, newMemIndex(), &stubEmbedder{vec: []float32{1, 0, 0}})
	negative := -1
	tooHigh := 1.5

	tests := []struct {
		name string
		req  retrieval.SearchRequest
	}{
		{name: "empty query", req: retrieval.SearchRequest{}},
		{name: "oversize query", req: retrieval.SearchRequest{Query: strings.Repeat("a", 65)}},
		{name: "unknown modality", req: retrieval.SearchRequest{Query: "q", Modalities: []string{"audio"}}},
		{name: "negative limit", req: retrieval.SearchRequest{Query: "q", Limit: &negative}},
		{name: "threshold out of range", req: retrieval.SearchRequest{Query: "q", ScoreThreshold: &tooHigh}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Search(context.Background(), tt.req)
			assert.ErrorIs(t, err, retrieval.ErrInvalidRequest)
		})
	}
}

func TestSearchSessionWriteFailureIsNonFatal(t *testing.T) {
	index := newMemIndex()
	index.hits["col_text"] = []vectorindex.Hit{{EmbeddingID: "t1", Score: 0.9}}
	store := &stubStore{
		refs:       map[string]*metadata.ContentRef{"t1": textRef("doc-1", "t1", "hello")},
		sessionErr: errors.New("sessions table gone"),
	}
	engine := newTestEngine(t, store, index, &stubEmbedder{vec: []float32{1, 0, 0}})

	result, err := engine.Search(context.Background(), retrieval.SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.Empty(t, result.SessionID)
	assert.Contains(t, result.Metadata.SessionWriteError, "sessions table gone")
	assert.Equal(t, []string{"t1"}, hitIDs(result))
}

func TestSearchPostFilters(t *testing.T) {
	index := newMemIndex()
	index.hits["col_text"] = []vectorindex.Hit{
		{EmbeddingID: "t1", Score: 0.9},
		{EmbeddingID: "t2", Score: 0.4},
	}
	index.hits["col_image"] = []vectorindex.Hit{{EmbeddingID: "i1", Score: 0.8}}
	store := &stubStore{refs: map[string]*metadata.ContentRef{
		"t1": textRef("doc-1", "t1", "a"),
		"t2": textRef("doc-2", "t2", "b"),
		"i1": imageRef("doc-3", "i1", "c"),
	}}
	engine := newTestEngine(t, store, index, &stubEmbedder{vec: []float32{1, 0, 0}})

	minScore := 0.5
	result, err := engine.Search(context.Background(), retrieval.SearchRequest{
		Query: "q",
		Filters: &retrieval.Filters{
			FileTypes: []string{"txt"},
			MinScore:  &minScore,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, hitIDs(result))
}

func TestSearchSimilar(t *testing.T) {
	index := newMemIndex()
	index.records["col_text/t1"] = &vectorindex.Record{EmbeddingID: "t1", Vector: []float32{1, 0, 0}}
	index.hits["col_text"] = []vectorindex.Hit{{EmbeddingID: "t2", Score: 0.85}}

	store := &stubStore{
		rep:  textRef("doc-1", "t1", "origin"),
		refs: map[string]*metadata.ContentRef{"t2": textRef("doc-2", "t2", "similar")},
	}
	embedder := &stubEmbedder{vec: []float32{1, 0, 0}}
	engine := newTestEngine(t, store, index, embedder)

	result, err := engine.SearchSimilar(context.Background(), "doc-1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, hitIDs(result))
	assert.False(t, embedder.called, "similar search must reuse the stored vector")
}

func TestSearchSimilarUnknownDocument(t *testing.T) {
	engine := newTestEngine(t, &stubStore{}, newMemIndex(), &stubEmbedder{vec: []float32{1, 0, 0}})

	_, err := engine.SearchSimilar(context.Background(), "doc-missing", nil, nil)
	assert.ErrorIs(t, err, retrieval.ErrNotFound)
}

func TestSearchSimilarMissingVector(t *testing.T) {
	store := &stubStore{rep: textRef("doc-1", "t1", "origin")}
	engine := newTestEngine(t, store, newMemIndex(), &stubEmbedder{vec: []float32{1, 0, 0}})

	_, err := engine.SearchSimilar(context.Background(), "doc-1", nil, nil)
	assert.ErrorIs(t, err, retrieval.ErrNotFound)
}

func TestGetSessionNotFound(t *testing.T) {
	engine := newTestEngine(t, &stubStore{}, newMemIndex(), &stubEmbedder{vec: []float32{1, 0, 0}})

	_, err := engine.GetSession(context.Background(), "nope")
	assert.ErrorIs(t, err, retrieval.ErrNotFound)
}

func TestGetSessionFound(t *testing.T) {
	store := &stubStore{storedSessions: map[string]*metadata.SearchSession{
		"sess-1": {ID: "sess-1", Query: "old query"},
	}}
	engine := newTestEngine(t, store, newMemIndex(), &stubEmbedder{vec: []float32{1, 0, 0}})

	session, err := engine.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "old query", session.Query)
}
