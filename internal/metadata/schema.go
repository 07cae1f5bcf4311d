package metadata

import (
	"context"
	"fmt"
)

// schema is executed idempotently at startup. The embedding_id indexes
// back the hot per-result join; the content_hash unique index backs
// ingestion de-duplication.
const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id           UUID PRIMARY KEY,
	filename     TEXT NOT NULL,
	file_type    TEXT NOT NULL CHECK (file_type IN ('text', 'image', 'video')),
	size_bytes   BIGINT NOT NULL DEFAULT 0,
	mime_type    TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL,
	metadata     JSONB NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_content_hash ON documents (content_hash);

CREATE TABLE IF NOT EXISTS chunks (
	id           UUID PRIMARY KEY,
	document_id  UUID NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
	chunk_index  INTEGER NOT NULL,
	chunk_text   TEXT NOT NULL,
	embedding_id TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_chunks_embedding_id ON chunks (embedding_id);
CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks (document_id);

CREATE TABLE IF NOT EXISTS images (
	id           UUID PRIMARY KEY,
	document_id  UUID NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
	storage_path TEXT NOT NULL,
	width        INTEGER NOT NULL DEFAULT 0,
	height       INTEGER NOT NULL DEFAULT 0,
	caption      TEXT NOT NULL DEFAULT '',
	embedding_id TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_images_embedding_id ON images (embedding_id);
CREATE INDEX IF NOT EXISTS idx_images_document_id ON images (document_id);

CREATE TABLE IF NOT EXISTS videos (
	id               UUID PRIMARY KEY,
	document_id      UUID NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
	storage_path     TEXT NOT NULL,
	duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
	width            INTEGER NOT NULL DEFAULT 0,
	height           INTEGER NOT NULL DEFAULT 0,
	transcription    TEXT NOT NULL DEFAULT '',
	caption          TEXT NOT NULL DEFAULT '',
	embedding_id     TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_videos_embedding_id ON videos (embedding_id);
CREATE INDEX IF NOT EXISTS idx_videos_document_id ON videos (document_id);

CREATE TABLE IF NOT EXISTS keyframes (
	id                UUID PRIMARY KEY,
	document_id       UUID NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
	video_id          UUID NOT NULL REFERENCES videos (id) ON DELETE CASCADE,
	timestamp_seconds DOUBLE PRECISION NOT NULL,
	storage_path      TEXT NOT NULL,
	caption           TEXT NOT NULL DEFAULT '',
	embedding_id      TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_keyframes_embedding_id ON keyframes (embedding_id);
CREATE INDEX IF NOT EXISTS idx_keyframes_document_id ON keyframes (document_id);

CREATE TABLE IF NOT EXISTS search_sessions (
	id         UUID PRIMARY KEY,
	query      TEXT NOT NULL,
	modalities TEXT[] NOT NULL DEFAULT '{}',
	filters    JSONB NOT NULL DEFAULT '{}',
	results    JSONB NOT NULL DEFAULT '[]',
	bundle     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_search_sessions_created_at ON search_sessions (created_at);
`

// EnsureSchema creates tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensuring schema: %w", classify(err))
	}
	return nil
}
