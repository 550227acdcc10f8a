package session

import (
	"context"
	"fmt"

	"github.com/kokorochat/kokoro/internal/memstore"
	"github.com/kokorochat/kokoro/pkg/persist"
	"github.com/kokorochat/kokoro/pkg/provider/embeddings"
)

// maxRecallDistance is the cosine-distance ceiling for archive hits. Anything
// farther is noise rather than a memory of the current topic.
const maxRecallDistance = 0.6

// Recaller searches a character's durable memory archive by meaning. The turn
// pipeline uses it to surface long-gone memories that the bounded working set
// no longer holds.
type Recaller interface {
	Recall(ctx context.Context, query string, topK int) ([]memstore.Entry, error)
}

// archiveRecall embeds the query and runs a similarity search over the
// character's archived memories, turning hits back into working-memory
// entries.
type archiveRecall struct {
	characterID string
	store       persist.Store
	embedder    embeddings.Provider
}

var _ Recaller = (*archiveRecall)(nil)

func (a *archiveRecall) Recall(ctx context.Context, query string, topK int) ([]memstore.Entry, error) {
	if topK <= 0 {
		return nil, nil
	}
	vec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("session: embed recall query: %w", err)
	}
	results, err := a.store.SearchArchive(ctx, a.characterID, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("session: search archive: %w", err)
	}

	entries := make([]memstore.Entry, 0, len(results))
	for _, res := range results {
		if res.Distance > maxRecallDistance {
			continue
		}
		entries = append(entries, recordToEntry(res.Record))
	}
	return entries, nil
}

// recordToEntry maps an archived record back onto a working-memory entry.
// The archival bookkeeping (reason, embedding) stays behind in the store.
func recordToEntry(rec persist.MemoryRecord) memstore.Entry {
	return memstore.Entry{
		ID:             rec.ID,
		Type:           memstore.Type(rec.Type),
		Importance:     memstore.Importance(rec.Importance),
		Content:        rec.Content,
		Keywords:       rec.Keywords,
		CreatedAt:      rec.CreatedAt,
		LastAccessedAt: rec.ArchivedAt,
	}
}
