package persist

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-process [Store] for tests and deployments without a
// database. Snapshots and archives are lost when the process exits.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[snapKey][]byte
	archive   []MemoryRecord
}

type snapKey struct {
	characterID string
	sessionID   string
}

// Compile-time interface assertion.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[snapKey][]byte),
	}
}

// SaveSnapshot implements [Store].
func (m *MemoryStore) SaveSnapshot(_ context.Context, characterID, sessionID string, state []byte) error {
	cp := make([]byte, len(state))
	copy(cp, state)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapKey{characterID, sessionID}] = cp
	return nil
}

// LoadSnapshot implements [Store].
func (m *MemoryStore) LoadSnapshot(_ context.Context, characterID, sessionID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.snapshots[snapKey{characterID, sessionID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(state))
	copy(cp, state)
	return cp, nil
}

// DeleteSnapshot implements [Store].
func (m *MemoryStore) DeleteSnapshot(_ context.Context, characterID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, snapKey{characterID, sessionID})
	return nil
}

// ArchiveMemory implements [Store].
func (m *MemoryStore) ArchiveMemory(_ context.Context, rec MemoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.archive {
		if m.archive[i].SessionID == rec.SessionID && m.archive[i].ID == rec.ID {
			m.archive[i] = rec
			return nil
		}
	}
	m.archive = append(m.archive, rec)
	return nil
}

// SearchArchive implements [Store]. Distance is computed in-process with the
// same cosine metric the postgres implementation delegates to pgvector.
func (m *MemoryStore) SearchArchive(_ context.Context, characterID string, embedding []float32, topK int) ([]ArchiveResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []ArchiveResult
	for _, rec := range m.archive {
		if rec.CharacterID != characterID || rec.Embedding == nil {
			continue
		}
		results = append(results, ArchiveResult{
			Record:   rec,
			Distance: cosineDistance(embedding, rec.Embedding),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// ArchivedCount returns the number of archived records. Intended for tests.
func (m *MemoryStore) ArchivedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.archive)
}

// Ping implements [Store]. The in-process store is always reachable.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements [Store]. It is a no-op for the in-process store.
func (m *MemoryStore) Close() {}

// cosineDistance returns 1 - cosine similarity. Mismatched or zero-magnitude
// vectors are treated as maximally distant.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
