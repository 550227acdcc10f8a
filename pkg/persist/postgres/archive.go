package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/kokorochat/kokoro/pkg/persist"
)

// ArchiveMemory implements [persist.Store]. It upserts rec into the
// memory_archive table. A record with the same (session_id, entry_id) is
// completely replaced.
func (s *Store) ArchiveMemory(ctx context.Context, rec persist.MemoryRecord) error {
	const q = `
		INSERT INTO memory_archive
		    (session_id, entry_id, character_id, type, importance, content,
		     keywords, reason, embedding, created_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, entry_id) DO UPDATE SET
		    character_id = EXCLUDED.character_id,
		    type         = EXCLUDED.type,
		    importance   = EXCLUDED.importance,
		    content      = EXCLUDED.content,
		    keywords     = EXCLUDED.keywords,
		    reason       = EXCLUDED.reason,
		    embedding    = EXCLUDED.embedding,
		    created_at   = EXCLUDED.created_at,
		    archived_at  = EXCLUDED.archived_at`

	// NULL embedding keeps the record out of similarity search while still
	// preserving its content.
	var vec any
	if rec.Embedding != nil {
		vec = pgvector.NewVector(rec.Embedding)
	}

	_, err := s.pool.Exec(ctx, q,
		rec.SessionID,
		rec.ID,
		rec.CharacterID,
		rec.Type,
		rec.Importance,
		rec.Content,
		rec.Keywords,
		rec.Reason,
		vec,
		rec.CreatedAt,
		rec.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres store: archive memory: %w", err)
	}
	return nil
}

// SearchArchive implements [persist.Store]. It finds the topK archived records
// for characterID whose embeddings are closest (cosine distance) to the query
// embedding. Records without embeddings are excluded.
//
// Results are ordered by ascending cosine distance (most similar first).
func (s *Store) SearchArchive(ctx context.Context, characterID string, embedding []float32, topK int) ([]persist.ArchiveResult, error) {
	queryVec := pgvector.NewVector(embedding)

	const q = `
		SELECT session_id, entry_id, character_id, type, importance, content,
		       keywords, reason, embedding, created_at, archived_at,
		       embedding <=> $1 AS distance
		FROM   memory_archive
		WHERE  character_id = $2
		  AND  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, queryVec, characterID, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search archive: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (persist.ArchiveResult, error) {
		var (
			ar  persist.ArchiveResult
			vec pgvector.Vector
		)
		if err := row.Scan(
			&ar.Record.SessionID,
			&ar.Record.ID,
			&ar.Record.CharacterID,
			&ar.Record.Type,
			&ar.Record.Importance,
			&ar.Record.Content,
			&ar.Record.Keywords,
			&ar.Record.Reason,
			&vec,
			&ar.Record.CreatedAt,
			&ar.Record.ArchivedAt,
			&ar.Distance,
		); err != nil {
			return persist.ArchiveResult{}, err
		}
		ar.Record.Embedding = vec.Slice()
		return ar, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: collect archive rows: %w", err)
	}
	return results, nil
}
