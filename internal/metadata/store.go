package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/searchd/internal/logging"
)

var tracer = otel.Tracer("searchd.metadata")

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// Config holds Postgres connection settings.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is the Postgres-backed metadata store.
type Store struct {
	db     *sqlx.DB
	logger *logging.Logger
}

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, cfg Config, logger *logging.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", classify(err))
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an existing connection. For tests.
func NewWithDB(db *sqlx.DB, logger *logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return classify(s.db.PingContext(ctx))
}

// PutDocument inserts a document, de-duplicating on content hash.
// On a hash collision it returns a DuplicateContentError carrying the
// already-stored document's id.
func (s *Store) PutDocument(ctx context.Context, doc *Document) (string, error) {
	ctx, span := tracer.Start(ctx, "metadata.PutDocument")
	defer span.End()

	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO documents (id, filename, file_type, size_bytes, mime_type, content_hash, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.db.ExecContext(ctx, q,
		doc.ID, doc.Filename, doc.FileType, doc.SizeBytes, doc.MimeType, doc.ContentHash, doc.Metadata, doc.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			existing, lookupErr := s.GetDocumentByHash(ctx, doc.ContentHash)
			if lookupErr != nil {
				return "", lookupErr
			}
			if existing != nil {
				span.SetAttributes(attribute.Bool("duplicate", true))
				return "", &DuplicateContentError{ExistingID: existing.ID}
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("inserting document: %w", classify(err))
	}

	span.SetStatus(codes.Ok, "success")
	return doc.ID, nil
}

// GetDocumentByHash looks a document up by content hash.
// Returns (nil, nil) when no document matches.
func (s *Store) GetDocumentByHash(ctx context.Context, hash string) (*Document, error) {
	ctx, span := tracer.Start(ctx, "metadata.GetDocumentByHash")
	defer span.End()

	var doc Document
	const q = `
		SELECT id, filename, file_type, size_bytes, mime_type, content_hash, metadata, created_at
		FROM documents WHERE content_hash = $1`
	if err := s.db.GetContext(ctx, &doc, q, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("looking up document by hash: %w", classify(err))
	}
	return &doc, nil
}

// GetDocument fetches a document by id. Returns (nil, nil) on miss.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	ctx, span := tracer.Start(ctx, "metadata.GetDocument")
	defer span.End()

	var doc Document
	const q = `
		SELECT id, filename, file_type, size_bytes, mime_type, content_hash, metadata, created_at
		FROM documents WHERE id = $1`
	if err := s.db.GetContext(ctx, &doc, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("looking up document: %w", classify(err))
	}
	return &doc, nil
}

// PutChunk inserts a text chunk linked to its document.
func (s *Store) PutChunk(ctx context.Context, c *Chunk) (string, error) {
	ctx, span := tracer.Start(ctx, "metadata.PutChunk")
	defer span.End()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO chunks (id, document_id, chunk_index, chunk_text, embedding_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (embedding_id) DO UPDATE SET chunk_text = EXCLUDED.chunk_text
		RETURNING id`
	var id string
	if err := s.db.GetContext(ctx, &id, q, c.ID, c.DocumentID, c.ChunkIndex, c.Text, c.EmbeddingID); err != nil {
		span.RecordError(err)
		return "", s.itemInsertError("chunk", err)
	}
	span.SetStatus(codes.Ok, "success")
	return id, nil
}

// PutImage inserts an image linked to its document.
func (s *Store) PutImage(ctx context.Context, img *Image) (string, error) {
	ctx, span := tracer.Start(ctx, "metadata.PutImage")
	defer span.End()

	if img.ID == "" {
		img.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO images (id, document_id, storage_path, width, height, caption, embedding_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (embedding_id) DO UPDATE SET caption = EXCLUDED.caption
		RETURNING id`
	var id string
	if err := s.db.GetContext(ctx, &id, q, img.ID, img.DocumentID, img.StoragePath, img.Width, img.Height, img.Caption, img.EmbeddingID); err != nil {
		span.RecordError(err)
		return "", s.itemInsertError("image", err)
	}
	span.SetStatus(codes.Ok, "success")
	return id, nil
}

// PutVideo inserts a video linked to its document.
func (s *Store) PutVideo(ctx context.Context, v *Video) (string, error) {
	ctx, span := tracer.Start(ctx, "metadata.PutVideo")
	defer span.End()

	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO videos (id, document_id, storage_path, duration_seconds, width, height, transcription, caption, embedding_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (embedding_id) DO UPDATE SET transcription = EXCLUDED.transcription, caption = EXCLUDED.caption
		RETURNING id`
	var id string
	if err := s.db.GetContext(ctx, &id, q, v.ID, v.DocumentID, v.StoragePath, v.Duration, v.Width, v.Height, v.Transcription, v.Caption, v.EmbeddingID); err != nil {
		span.RecordError(err)
		return "", s.itemInsertError("video", err)
	}
	span.SetStatus(codes.Ok, "success")
	return id, nil
}

// PutKeyframe inserts a keyframe linked to its parent video. The timestamp
// must lie within the parent video's duration.
func (s *Store) PutKeyframe(ctx context.Context, kf *Keyframe) (string, error) {
	ctx, span := tracer.Start(ctx, "metadata.PutKeyframe")
	defer span.End()

	if kf.ID == "" {
		kf.ID = uuid.New().String()
	}
	if kf.Timestamp < 0 {
		return "", fmt.Errorf("%w: keyframe timestamp %g is negative", ErrInvalidItem, kf.Timestamp)
	}

	var duration float64
	if err := s.db.GetContext(ctx, &duration, `SELECT duration_seconds FROM videos WHERE id = $1`, kf.VideoID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: keyframe parent video %s", ErrUnknownDocument, kf.VideoID)
		}
		return "", fmt.Errorf("looking up parent video: %w", classify(err))
	}
	if kf.Timestamp > duration {
		return "", fmt.Errorf("%w: keyframe timestamp %g exceeds video duration %g", ErrInvalidItem, kf.Timestamp, duration)
	}

	const q = `
		INSERT INTO keyframes (id, document_id, video_id, timestamp_seconds, storage_path, caption, embedding_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (embedding_id) DO UPDATE SET caption = EXCLUDED.caption
		RETURNING id`
	var id string
	if err := s.db.GetContext(ctx, &id, q, kf.ID, kf.DocumentID, kf.VideoID, kf.Timestamp, kf.StoragePath, kf.Caption, kf.EmbeddingID); err != nil {
		span.RecordError(err)
		return "", s.itemInsertError("keyframe", err)
	}
	span.SetStatus(codes.Ok, "success")
	return id, nil
}

func (s *Store) itemInsertError(kind string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
		return fmt.Errorf("%w: inserting %s", ErrUnknownDocument, kind)
	}
	return fmt.Errorf("inserting %s: %w", kind, classify(err))
}

// GetContentByEmbeddingID performs the hot per-result join from an
// embedding id to its content item and owning document.
// Returns (nil, nil) on a miss: dangling vector references are expected
// and tolerated at read time.
func (s *Store) GetContentByEmbeddingID(ctx context.Context, embeddingID string) (*ContentRef, error) {
	ctx, span := tracer.Start(ctx, "metadata.GetContentByEmbeddingID")
	defer span.End()

	refs, err := s.GetContentByEmbeddingIDs(ctx, []string{embeddingID})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return refs[embeddingID], nil
}

// GetContentByEmbeddingIDs batch-resolves embedding ids. Missing ids are
// simply absent from the returned map.
func (s *Store) GetContentByEmbeddingIDs(ctx context.Context, embeddingIDs []string) (map[string]*ContentRef, error) {
	ctx, span := tracer.Start(ctx, "metadata.GetContentByEmbeddingIDs")
	defer span.End()
	span.SetAttributes(attribute.Int("id_count", len(embeddingIDs)))

	refs := make(map[string]*ContentRef, len(embeddingIDs))
	if len(embeddingIDs) == 0 {
		return refs, nil
	}

	docIDs := make(map[string]struct{})

	var chunks []Chunk
	q, args, err := sqlx.In(`SELECT id, document_id, chunk_index, chunk_text, embedding_id, created_at FROM chunks WHERE embedding_id IN (?)`, embeddingIDs)
	if err != nil {
		return nil, fmt.Errorf("building chunk query: %w", err)
	}
	if err := s.db.SelectContext(ctx, &chunks, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("resolving chunks: %w", classify(err))
	}
	for i := range chunks {
		c := &chunks[i]
		refs[c.EmbeddingID] = &ContentRef{Kind: ContentTypeText, Chunk: c}
		docIDs[c.DocumentID] = struct{}{}
	}

	var images []Image
	q, args, err = sqlx.In(`SELECT id, document_id, storage_path, width, height, caption, embedding_id, created_at FROM images WHERE embedding_id IN (?)`, embeddingIDs)
	if err != nil {
		return nil, fmt.Errorf("building image query: %w", err)
	}
	if err := s.db.SelectContext(ctx, &images, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("resolving images: %w", classify(err))
	}
	for i := range images {
		img := &images[i]
		refs[img.EmbeddingID] = &ContentRef{Kind: ContentTypeImage, Image: img}
		docIDs[img.DocumentID] = struct{}{}
	}

	var videos []Video
	q, args, err = sqlx.In(`SELECT id, document_id, storage_path, duration_seconds, width, height, transcription, caption, embedding_id, created_at FROM videos WHERE embedding_id IN (?)`, embeddingIDs)
	if err != nil {
		return nil, fmt.Errorf("building video query: %w", err)
	}
	if err := s.db.SelectContext(ctx, &videos, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("resolving videos: %w", classify(err))
	}
	for i := range videos {
		v := &videos[i]
		refs[v.EmbeddingID] = &ContentRef{Kind: ContentTypeVideo, Video: v}
		docIDs[v.DocumentID] = struct{}{}
	}

	var keyframes []Keyframe
	q, args, err = sqlx.In(`SELECT id, document_id, video_id, timestamp_seconds, storage_path, caption, embedding_id, created_at FROM keyframes WHERE embedding_id IN (?)`, embeddingIDs)
	if err != nil {
		return nil, fmt.Errorf("building keyframe query: %w", err)
	}
	if err := s.db.SelectContext(ctx, &keyframes, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("resolving keyframes: %w", classify(err))
	}
	for i := range keyframes {
		kf := &keyframes[i]
		refs[kf.EmbeddingID] = &ContentRef{Kind: ContentTypeKeyframe, Keyframe: kf}
		docIDs[kf.DocumentID] = struct{}{}
	}

	if len(docIDs) > 0 {
		ids := make([]string, 0, len(docIDs))
		for id := range docIDs {
			ids = append(ids, id)
		}
		var docs []Document
		q, args, err = sqlx.In(`SELECT id, filename, file_type, size_bytes, mime_type, content_hash, metadata, created_at FROM documents WHERE id IN (?)`, ids)
		if err != nil {
			return nil, fmt.Errorf("building document query: %w", err)
		}
		if err := s.db.SelectContext(ctx, &docs, s.db.Rebind(q), args...); err != nil {
			return nil, fmt.Errorf("resolving documents: %w", classify(err))
		}
		byID := make(map[string]*Document, len(docs))
		for i := range docs {
			byID[docs[i].ID] = &docs[i]
		}
		for embID, ref := range refs {
			var docID string
			switch ref.Kind {
			case ContentTypeText:
				docID = ref.Chunk.DocumentID
			case ContentTypeImage:
				docID = ref.Image.DocumentID
			case ContentTypeVideo:
				docID = ref.Video.DocumentID
			case ContentTypeKeyframe:
				docID = ref.Keyframe.DocumentID
			}
			doc, ok := byID[docID]
			if !ok {
				// Orphaned item; treat as a dangling reference.
				delete(refs, embID)
				continue
			}
			ref.Document = doc
		}
	}

	span.SetAttributes(attribute.Int("resolved", len(refs)))
	return refs, nil
}

// RepresentativeContent picks the item whose vector stands in for a whole
// document in similar-to searches: primary text chunk if present, else
// first image, else the video. Returns (nil, nil) when the document has
// no content items.
func (s *Store) RepresentativeContent(ctx context.Context, documentID string) (*ContentRef, error) {
	ctx, span := tracer.Start(ctx, "metadata.RepresentativeContent")
	defer span.End()

	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}

	var chunk Chunk
	err = s.db.GetContext(ctx, &chunk,
		`SELECT id, document_id, chunk_index, chunk_text, embedding_id, created_at FROM chunks WHERE document_id = $1 ORDER BY chunk_index ASC LIMIT 1`, documentID)
	if err == nil {
		return &ContentRef{Kind: ContentTypeText, Chunk: &chunk, Document: doc}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("looking up primary chunk: %w", classify(err))
	}

	var img Image
	err = s.db.GetContext(ctx, &img,
		`SELECT id, document_id, storage_path, width, height, caption, embedding_id, created_at FROM images WHERE document_id = $1 ORDER BY created_at ASC, id ASC LIMIT 1`, documentID)
	if err == nil {
		return &ContentRef{Kind: ContentTypeImage, Image: &img, Document: doc}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("looking up first image: %w", classify(err))
	}

	var video Video
	err = s.db.GetContext(ctx, &video,
		`SELECT id, document_id, storage_path, duration_seconds, width, height, transcription, caption, embedding_id, created_at FROM videos WHERE document_id = $1 ORDER BY created_at ASC, id ASC LIMIT 1`, documentID)
	if err == nil {
		return &ContentRef{Kind: ContentTypeVideo, Video: &video, Document: doc}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("looking up first video: %w", classify(err))
	}

	return nil, nil
}

// DeleteDocument removes a document and its content items, returning the
// embedding ids that the caller must then delete from the vector index.
// Metadata deletion commits first; vector cleanup is best-effort.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) (*DeletionPlan, error) {
	ctx, span := tracer.Start(ctx, "metadata.DeleteDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentID))

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting delete transaction: %w", classify(err))
	}
	defer func() { _ = tx.Rollback() }()

	plan := &DeletionPlan{DocumentID: documentID}
	if err := tx.SelectContext(ctx, &plan.TextIDs, `SELECT embedding_id FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return nil, fmt.Errorf("collecting chunk ids: %w", classify(err))
	}
	if err := tx.SelectContext(ctx, &plan.ImageIDs, `SELECT embedding_id FROM images WHERE document_id = $1`, documentID); err != nil {
		return nil, fmt.Errorf("collecting image ids: %w", classify(err))
	}
	// Keyframes live in the image collection.
	var keyframeIDs []string
	if err := tx.SelectContext(ctx, &keyframeIDs, `SELECT embedding_id FROM keyframes WHERE document_id = $1`, documentID); err != nil {
		return nil, fmt.Errorf("collecting keyframe ids: %w", classify(err))
	}
	plan.ImageIDs = append(plan.ImageIDs, keyframeIDs...)
	if err := tx.SelectContext(ctx, &plan.VideoIDs, `SELECT embedding_id FROM videos WHERE document_id = $1`, documentID); err != nil {
		return nil, fmt.Errorf("collecting video ids: %w", classify(err))
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return nil, fmt.Errorf("deleting document: %w", classify(err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("deleting document: %w", classify(err))
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, documentID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing delete: %w", classify(err))
	}

	span.SetStatus(codes.Ok, "success")
	return plan, nil
}

// PutSearchSession persists one search session and returns its id.
func (s *Store) PutSearchSession(ctx context.Context, session *SearchSession) (string, error) {
	ctx, span := tracer.Start(ctx, "metadata.PutSearchSession")
	defer span.End()

	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO search_sessions (id, query, modalities, filters, results, bundle, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.ExecContext(ctx, q,
		session.ID, session.Query, session.Modalities, session.Filters, session.Results, session.Bundle, session.CreatedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("inserting search session: %w", classify(err))
	}
	span.SetStatus(codes.Ok, "success")
	return session.ID, nil
}

// GetSearchSession fetches a session by id. Returns (nil, nil) on miss.
func (s *Store) GetSearchSession(ctx context.Context, id string) (*SearchSession, error) {
	ctx, span := tracer.Start(ctx, "metadata.GetSearchSession")
	defer span.End()

	var session SearchSession
	const q = `SELECT id, query, modalities, filters, results, bundle, created_at FROM search_sessions WHERE id = $1`
	if err := s.db.GetContext(ctx, &session, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("looking up search session: %w", classify(err))
	}
	return &session, nil
}

// ListRecentSessions returns up to limit sessions, newest first.
func (s *Store) ListRecentSessions(ctx context.Context, limit int) ([]SearchSession, error) {
	ctx, span := tracer.Start(ctx, "metadata.ListRecentSessions")
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	var sessions []SearchSession
	const q = `SELECT id, query, modalities, filters, results, bundle, created_at FROM search_sessions ORDER BY created_at DESC LIMIT $1`
	if err := s.db.SelectContext(ctx, &sessions, q, limit); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("listing sessions: %w", classify(err))
	}
	return sessions, nil
}

// PurgeSessionsBefore deletes sessions created before the cutoff,
// returning the number removed. Used by the retention sweep.
func (s *Store) PurgeSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "metadata.PurgeSessionsBefore")
	defer span.End()

	res, err := s.db.ExecContext(ctx, `DELETE FROM search_sessions WHERE created_at < $1`, cutoff)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("purging sessions: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purging sessions: %w", classify(err))
	}
	if n > 0 {
		s.logger.Info(ctx, "purged expired search sessions", zap.Int64("count", n))
	}
	return n, nil
}

// CountsByType returns per-kind row counts. Used by health reporting.
func (s *Store) CountsByType(ctx context.Context) (map[string]int64, error) {
	ctx, span := tracer.Start(ctx, "metadata.CountsByType")
	defer span.End()

	counts := make(map[string]int64, 5)
	for _, table := range []string{"documents", "chunks", "images", "videos", "keyframes"} {
		var n int64
		if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM `+table); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("counting %s: %w", table, classify(err))
		}
		counts[table] = n
	}
	return counts, nil
}
