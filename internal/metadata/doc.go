// Package metadata is the durable, transactional home for documents,
// content items and search sessions, backed by Postgres.
//
// It is the single source of truth for joining an embedding id back to
// user-visible content: every content-item table carries an indexed
// embedding_id column, and documents are de-duplicated by a uniquely
// indexed content hash.
package metadata
