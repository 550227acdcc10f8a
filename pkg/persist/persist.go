// Package persist defines the storage boundary for session snapshots and
// archived memories.
//
// The conversation engine treats persistence as opaque: a [Store] trades byte
// blobs keyed by (character ID, session ID) and never interprets their
// contents. Archived memories are richer records because they outlive the
// session that produced them and are queried by semantic similarity.
//
// Two implementations exist: [NewMemoryStore] for tests and single-process
// deployments, and the postgres subpackage for durable storage with pgvector
// similarity search.
package persist

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by [Store.LoadSnapshot] when no snapshot exists for
// the requested (character ID, session ID) pair.
var ErrNotFound = errors.New("persist: snapshot not found")

// MemoryRecord is a memory entry that has been flushed out of a session's
// working set. Embedding may be nil when no embeddings provider is configured;
// such records are stored but not reachable via similarity search.
type MemoryRecord struct {
	// ID is the entry's identifier within its originating session.
	ID string

	// SessionID identifies the session the memory was extracted in.
	SessionID string

	// CharacterID identifies the character that held the memory.
	CharacterID string

	// Type is the memory classification (preference, factual, emotional,
	// behavioral, relationship).
	Type string

	// Importance is the retention tier the entry held when archived.
	Importance string

	// Content is the memory text.
	Content string

	// Keywords are the retrieval tokens extracted at creation time.
	Keywords []string

	// Reason records why the entry left the working set ("evicted", "expired").
	Reason string

	// Embedding is the content's vector embedding, if one was computed.
	Embedding []float32

	// CreatedAt is when the memory was originally formed.
	CreatedAt time.Time

	// ArchivedAt is when the entry was flushed to the archive.
	ArchivedAt time.Time
}

// ArchiveResult pairs an archived record with its cosine distance to a
// similarity query. Smaller distance means more similar.
type ArchiveResult struct {
	Record   MemoryRecord
	Distance float64
}

// Store persists session snapshots and archived memories.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveSnapshot stores state for the (characterID, sessionID) pair,
	// replacing any previous snapshot.
	SaveSnapshot(ctx context.Context, characterID, sessionID string, state []byte) error

	// LoadSnapshot returns the stored state for the pair, or [ErrNotFound].
	LoadSnapshot(ctx context.Context, characterID, sessionID string) ([]byte, error)

	// DeleteSnapshot removes the snapshot for the pair. Deleting a missing
	// snapshot is not an error.
	DeleteSnapshot(ctx context.Context, characterID, sessionID string) error

	// ArchiveMemory appends rec to the long-term archive. Records with the
	// same (SessionID, ID) replace earlier versions.
	ArchiveMemory(ctx context.Context, rec MemoryRecord) error

	// SearchArchive returns up to topK archived records for characterID
	// ordered by ascending cosine distance to embedding.
	SearchArchive(ctx context.Context, characterID string, embedding []float32, topK int) ([]ArchiveResult, error)

	// Ping reports whether the backing storage is reachable. The readiness
	// endpoint calls it.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close()
}
