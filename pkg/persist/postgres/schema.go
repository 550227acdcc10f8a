// Package postgres provides a PostgreSQL-backed [persist.Store] with pgvector
// similarity search over the memory archive.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.SaveSnapshot(ctx, characterID, sessionID, blob)
//	results, _ := store.SearchArchive(ctx, characterID, queryVec, 5)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessionSnapshots = `
CREATE TABLE IF NOT EXISTS session_snapshots (
    character_id TEXT         NOT NULL,
    session_id   TEXT         NOT NULL,
    state        BYTEA        NOT NULL,
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (character_id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_session_snapshots_updated_at
    ON session_snapshots (updated_at);
`

// ddlMemoryArchive returns the archive DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlMemoryArchive(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_archive (
    session_id   TEXT         NOT NULL,
    entry_id     TEXT         NOT NULL,
    character_id TEXT         NOT NULL,
    type         TEXT         NOT NULL,
    importance   TEXT         NOT NULL,
    content      TEXT         NOT NULL,
    keywords     TEXT[]       NOT NULL DEFAULT '{}',
    reason       TEXT         NOT NULL DEFAULT '',
    embedding    vector(%d),
    created_at   TIMESTAMPTZ  NOT NULL,
    archived_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, entry_id)
);

CREATE INDEX IF NOT EXISTS idx_memory_archive_character_id
    ON memory_archive (character_id);

CREATE INDEX IF NOT EXISTS idx_memory_archive_embedding
    ON memory_archive USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions exist.
// It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS)
// and safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your
// deployment (e.g., 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing this value after the first migration requires a
// manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlSessionSnapshots,
		ddlMemoryArchive(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
