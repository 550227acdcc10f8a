package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/kokorochat/kokoro/internal/memstore"
)

func TestInsert_AssignsIDAndTimestamps(t *testing.T) {
	t.Parallel()
	s := memstore.NewStore(memstore.StoreConfig{SessionID: "s1"})

	e := s.Insert(memstore.Entry{Type: memstore.Factual, Importance: memstore.Medium, Content: "用户住在东京"})
	if e.ID == "" {
		t.Error("ID not assigned")
	}
	if e.CreatedAt.IsZero() || e.LastAccessedAt.IsZero() {
		t.Error("timestamps not assigned")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestInsert_EvictsLowestRelevanceAtCapacity(t *testing.T) {
	t.Parallel()
	s := memstore.NewStore(memstore.StoreConfig{SessionID: "s1", Capacity: 3})

	low := s.Insert(memstore.Entry{Type: memstore.Factual, Importance: memstore.Low, Content: "low value"})
	s.Insert(memstore.Entry{Type: memstore.Factual, Importance: memstore.Critical, Content: "critical one"})
	s.Insert(memstore.Entry{Type: memstore.Factual, Importance: memstore.High, Content: "high one"})

	// At capacity: the next insert must evict the low-importance minimum,
	// and the new entry must be present.
	added := s.Insert(memstore.Entry{Type: memstore.Preference, Importance: memstore.High, Content: "new high"})

	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	for _, e := range s.Entries() {
		if e.ID == low.ID {
			t.Error("lowest-relevance entry still present after eviction")
		}
	}
	found := false
	for _, e := range s.Entries() {
		if e.ID == added.ID {
			found = true
		}
	}
	if !found {
		t.Error("newly inserted entry missing")
	}
}

func TestInsert_EvictionTieBreaksOldest(t *testing.T) {
	t.Parallel()
	s := memstore.NewStore(memstore.StoreConfig{SessionID: "s1", Capacity: 2})

	now := time.Now().UTC()
	older := s.Insert(memstore.Entry{
		Type: memstore.Factual, Importance: memstore.Low,
		Content: "older", CreatedAt: now.Add(-2 * time.Hour), LastAccessedAt: now,
	})
	s.Insert(memstore.Entry{
		Type: memstore.Factual, Importance: memstore.Low,
		Content: "newer", CreatedAt: now.Add(-1 * time.Hour), LastAccessedAt: now,
	})

	s.Insert(memstore.Entry{Type: memstore.Factual, Importance: memstore.Medium, Content: "third"})

	for _, e := range s.Entries() {
		if e.ID == older.ID {
			t.Error("tie should evict the oldest entry")
		}
	}
}

func TestRetrieve_RanksByRelevance(t *testing.T) {
	t.Parallel()
	s := memstore.NewStore(memstore.StoreConfig{SessionID: "s1"})

	s.Insert(memstore.Entry{Type: memstore.Factual, Importance: memstore.Medium, Content: "用户住在东京", Keywords: []string{"东京"}})
	music := s.Insert(memstore.Entry{Type: memstore.Preference, Importance: memstore.Medium, Content: "用户喜欢音乐", Keywords: []string{"音乐"}})

	got := s.Retrieve("我们聊聊音乐吧", 1)
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	if got[0].ID != music.ID {
		t.Errorf("top result = %q, want the music preference", got[0].Content)
	}
	for _, e := range s.Entries() {
		if e.ID == music.ID && e.AccessCount != 1 {
			t.Errorf("AccessCount = %d, want 1 after Retrieve", e.AccessCount)
		}
	}
}

func TestSearch_DoesNotRecordAccess(t *testing.T) {
	t.Parallel()
	s := memstore.NewStore(memstore.StoreConfig{SessionID: "s1"})
	s.Insert(memstore.Entry{Type: memstore.Preference, Importance: memstore.Medium, Content: "用户喜欢音乐", Keywords: []string{"音乐"}})

	got := s.Search("音乐", 1)
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	if s.Entries()[0].AccessCount != 0 {
		t.Error("Search must not record accesses")
	}
}

func TestTouch(t *testing.T) {
	t.Parallel()
	s := memstore.NewStore(memstore.StoreConfig{SessionID: "s1"})
	e := s.Insert(memstore.Entry{Type: memstore.Factual, Importance: memstore.Medium, Content: "x"})

	s.Touch([]string{e.ID, "unknown-id"})
	if got := s.Entries()[0].AccessCount; got != 1 {
		t.Errorf("AccessCount = %d, want 1", got)
	}
}

func TestSweep_ExpiresByAgeAndAccess(t *testing.T) {
	t.Parallel()
	s := memstore.NewStore(memstore.StoreConfig{SessionID: "s1"})
	now := time.Now().UTC()

	// Low importance, 8 days old: expired.
	s.Insert(memstore.Entry{
		Type: memstore.Factual, Importance: memstore.Low, Content: "stale low",
		CreatedAt: now.Add(-8 * 24 * time.Hour), LastAccessedAt: now,
	})
	// Medium importance, unaccessed for 91 days: expired.
	s.Insert(memstore.Entry{
		Type: memstore.Factual, Importance: memstore.Medium, Content: "forgotten",
		CreatedAt: now.Add(-100 * 24 * time.Hour), LastAccessedAt: now.Add(-91 * 24 * time.Hour),
	})
	// Critical, ancient and unaccessed: never expires.
	s.Insert(memstore.Entry{
		Type: memstore.Factual, Importance: memstore.Critical, Content: "core fact",
		CreatedAt: now.Add(-365 * 24 * time.Hour), LastAccessedAt: now.Add(-365 * 24 * time.Hour),
	})
	// Fresh low importance: kept.
	s.Insert(memstore.Entry{Type: memstore.Factual, Importance: memstore.Low, Content: "fresh"})

	removed := s.Sweep(context.Background())
	if removed != 2 {
		t.Errorf("Sweep removed %d, want 2", removed)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	for _, e := range s.Entries() {
		if e.Content == "stale low" || e.Content == "forgotten" {
			t.Errorf("expired entry %q survived the sweep", e.Content)
		}
	}
}

func TestLoad_ReplacesEntries(t *testing.T) {
	t.Parallel()
	s := memstore.NewStore(memstore.StoreConfig{SessionID: "s1"})
	s.Insert(memstore.Entry{Type: memstore.Factual, Importance: memstore.Low, Content: "before"})

	s.Load([]memstore.Entry{
		{ID: "mem-7", Type: memstore.Preference, Importance: memstore.High, Content: "restored"},
	})
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	if s.Entries()[0].ID != "mem-7" {
		t.Errorf("entry = %+v, want the restored one", s.Entries()[0])
	}

	// New inserts must not collide with restored IDs.
	e := s.Insert(memstore.Entry{Type: memstore.Factual, Importance: memstore.Low, Content: "new"})
	if e.ID == "mem-7" {
		t.Error("Insert reused a restored ID")
	}
}

func TestLoad_EvictsDownToCapacity(t *testing.T) {
	t.Parallel()
	s := memstore.NewStore(memstore.StoreConfig{SessionID: "s1", Capacity: 3})

	now := time.Now().UTC()
	snapshot := []memstore.Entry{
		{ID: "mem-1", Type: memstore.Factual, Importance: memstore.Critical, Content: "allergic to peanuts", CreatedAt: now, LastAccessedAt: now},
		{ID: "mem-2", Type: memstore.Factual, Importance: memstore.Low, Content: "weather small talk", CreatedAt: now, LastAccessedAt: now},
		{ID: "mem-3", Type: memstore.Preference, Importance: memstore.Critical, Content: "hates being called kid", CreatedAt: now, LastAccessedAt: now},
		{ID: "mem-4", Type: memstore.Factual, Importance: memstore.Low, Content: "mentioned a bus delay", CreatedAt: now, LastAccessedAt: now},
		{ID: "mem-5", Type: memstore.Emotional, Importance: memstore.High, Content: "cried at the festival", CreatedAt: now, LastAccessedAt: now},
	}
	s.Load(snapshot)

	if s.Len() != 3 {
		t.Fatalf("Len after oversized Load = %d, want 3", s.Len())
	}
	for _, e := range s.Entries() {
		if e.Importance == memstore.Low {
			t.Errorf("low-relevance entry %s survived the restore eviction", e.ID)
		}
	}

	// The cap keeps holding on the next insert.
	s.Insert(memstore.Entry{Type: memstore.Factual, Importance: memstore.Medium, Content: "new fact"})
	if s.Len() != 3 {
		t.Errorf("Len after Insert = %d, want 3", s.Len())
	}
}

func TestEntries_ReturnsCopies(t *testing.T) {
	t.Parallel()
	s := memstore.NewStore(memstore.StoreConfig{SessionID: "s1"})
	s.Insert(memstore.Entry{Type: memstore.Factual, Importance: memstore.Medium, Content: "original", Keywords: []string{"k"}})

	out := s.Entries()
	out[0].Content = "mutated"
	out[0].Keywords[0] = "changed"

	if got := s.Entries()[0].Content; got != "original" {
		t.Errorf("content = %q, internal state mutated through Entries", got)
	}
}
