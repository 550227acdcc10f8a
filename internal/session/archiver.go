package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kokorochat/kokoro/internal/memstore"
	"github.com/kokorochat/kokoro/internal/observe"
	"github.com/kokorochat/kokoro/pkg/persist"
	"github.com/kokorochat/kokoro/pkg/provider/embeddings"
)

// storeArchiver forwards entries dropped by a session's memory store into the
// durable archive, embedding the content first when an embeddings provider is
// configured. Embedding failures degrade to an unembedded record rather than
// losing the memory.
type storeArchiver struct {
	characterID string
	store       persist.Store
	embedder    embeddings.Provider
	metrics     *observe.Metrics
}

var _ memstore.Archiver = (*storeArchiver)(nil)

func (a *storeArchiver) ArchiveEntry(ctx context.Context, sessionID string, e memstore.Entry, reason string) error {
	rec := persist.MemoryRecord{
		ID:          e.ID,
		SessionID:   sessionID,
		CharacterID: a.characterID,
		Type:        string(e.Type),
		Importance:  string(e.Importance),
		Content:     e.Content,
		Keywords:    e.Keywords,
		Reason:      reason,
		CreatedAt:   e.CreatedAt,
		ArchivedAt:  time.Now().UTC(),
	}
	if a.embedder != nil {
		// An unembedded record is still archived; it just never matches a
		// similarity search.
		vec, err := a.embedder.Embed(ctx, e.Content)
		if err != nil {
			slog.Warn("session: embedding archived memory failed",
				"session", sessionID,
				"entry", e.ID,
				"error", err,
			)
		} else {
			rec.Embedding = vec
		}
	}
	if err := a.store.ArchiveMemory(ctx, rec); err != nil {
		return fmt.Errorf("session: archive memory %s: %w", e.ID, err)
	}
	a.metrics.RecordMemoryEviction(ctx, reason)
	return nil
}
