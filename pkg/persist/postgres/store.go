package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/kokorochat/kokoro/pkg/persist"
)

// Compile-time interface assertion.
var _ persist.Store = (*Store)(nil)

// Store is the PostgreSQL-backed [persist.Store]. It holds a single
// [pgxpool.Pool] shared by snapshot and archive operations.
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce [persist.MemoryRecord.Embedding] values (e.g., 1536 for
// OpenAI text-embedding-3-small).
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// SaveSnapshot implements [persist.Store].
func (s *Store) SaveSnapshot(ctx context.Context, characterID, sessionID string, state []byte) error {
	const q = `
		INSERT INTO session_snapshots (character_id, session_id, state, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (character_id, session_id) DO UPDATE SET
		    state      = EXCLUDED.state,
		    updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, characterID, sessionID, state); err != nil {
		return fmt.Errorf("postgres store: save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot implements [persist.Store].
func (s *Store) LoadSnapshot(ctx context.Context, characterID, sessionID string) ([]byte, error) {
	const q = `
		SELECT state
		FROM   session_snapshots
		WHERE  character_id = $1 AND session_id = $2`

	var state []byte
	err := s.pool.QueryRow(ctx, q, characterID, sessionID).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, persist.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: load snapshot: %w", err)
	}
	return state, nil
}

// DeleteSnapshot implements [persist.Store].
func (s *Store) DeleteSnapshot(ctx context.Context, characterID, sessionID string) error {
	const q = `DELETE FROM session_snapshots WHERE character_id = $1 AND session_id = $2`

	if _, err := s.pool.Exec(ctx, q, characterID, sessionID); err != nil {
		return fmt.Errorf("postgres store: delete snapshot: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping implements [persist.Store] by pinging the connection pool.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}
