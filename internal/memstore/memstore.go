// Package memstore implements the per-session conversational memory store:
// heuristic extraction of memory entries from a turn, relevance-ranked
// retrieval, capacity-bounded eviction, and a time-based expiry sweep.
//
// A [Store] is owned by exactly one session and relies on the session's
// single-writer serialisation; it performs no internal locking. Entries
// evicted or expired with high importance can be handed to an optional
// [Archiver] for durable storage instead of vanishing.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
)

// Type classifies what kind of information a memory entry holds.
type Type string

const (
	Factual      Type = "factual"
	Emotional    Type = "emotional"
	Behavioral   Type = "behavioral"
	Preference   Type = "preference"
	Relationship Type = "relationship"
)

// IsValid reports whether t is a recognised memory type.
func (t Type) IsValid() bool {
	switch t {
	case Factual, Emotional, Behavioral, Preference, Relationship:
		return true
	}
	return false
}

// Importance is the coarse retention priority of an entry.
type Importance string

const (
	Critical Importance = "critical"
	High     Importance = "high"
	Medium   Importance = "medium"
	Low      Importance = "low"
)

// Weight returns the relevance contribution of the importance bucket.
func (i Importance) Weight() float64 {
	switch i {
	case Critical:
		return 1.0
	case High:
		return 0.6
	case Medium:
		return 0.4
	default:
		return 0.2
	}
}

// Entry is a single memory record owned by one session's store.
type Entry struct {
	ID             string     `json:"id"`
	Type           Type       `json:"type"`
	Importance     Importance `json:"importance"`
	Content        string     `json:"content"`
	Keywords       []string   `json:"keywords"`
	Emotions       []string   `json:"emotions"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	AccessCount    int        `json:"access_count"`
}

// Archiver receives entries that the store is about to drop. Implementations
// persist them durably (e.g., the Postgres memory archive). Errors are logged
// by the store, never surfaced to the conversation.
type Archiver interface {
	// ArchiveEntry persists a dropped entry. Reason is "evicted" or "expired".
	ArchiveEntry(ctx context.Context, sessionID string, e Entry, reason string) error
}

// Relevance scoring weights. Keyword overlap dominates, with recency and
// importance sharing most of the remainder and access frequency as a small
// reinforcement term.
const (
	wKeyword    = 0.40
	wRecency    = 0.25
	wImportance = 0.25
	wAccess     = 0.10

	// recencyHalfLife is the age at which the recency term halves.
	recencyHalfLife = 72 * time.Hour

	// fuzzyThreshold is the Jaro-Winkler similarity above which two tokens
	// count as a keyword match.
	fuzzyThreshold = 0.92
)

// Retention TTLs for the expiry sweep. Critical entries never expire.
const (
	lowImportanceTTL = 7 * 24 * time.Hour
	unaccessedTTL    = 90 * 24 * time.Hour
)

// StoreConfig holds tuning knobs for a [Store].
type StoreConfig struct {
	// SessionID identifies the owning session in logs and archive records.
	SessionID string

	// Capacity is the hard cap on live entries. Default: 100.
	Capacity int

	// Archiver optionally receives dropped entries of high or critical
	// importance. May be nil.
	Archiver Archiver
}

// Store is one session's bounded memory collection.
type Store struct {
	sessionID string
	capacity  int
	archiver  Archiver

	entries []*Entry
	nextID  int
	now     func() time.Time
}

// NewStore creates an empty [Store]. Zero-value config fields are replaced
// with defaults.
func NewStore(cfg StoreConfig) *Store {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100
	}
	return &Store{
		sessionID: cfg.SessionID,
		capacity:  cfg.Capacity,
		archiver:  cfg.Archiver,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Len returns the number of live entries.
func (s *Store) Len() int { return len(s.entries) }

// Capacity returns the configured hard cap.
func (s *Store) Capacity() int { return s.capacity }

// Entries returns a copy of all live entries, for snapshotting.
func (s *Store) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = cloneEntry(*e)
	}
	return out
}

// Load replaces the store contents with entries, restoring a snapshot. The
// internal ID counter is advanced past every restored ID so new entries do
// not collide. A snapshot larger than the capacity, which can happen when the
// cap was lowered between runs, is evicted down to the cap on the spot.
func (s *Store) Load(entries []Entry) {
	s.entries = make([]*Entry, 0, len(entries))
	for _, e := range entries {
		c := cloneEntry(e)
		s.entries = append(s.entries, &c)
		var n int
		if _, err := fmt.Sscanf(e.ID, "mem-%d", &n); err == nil && n >= s.nextID {
			s.nextID = n + 1
		}
	}
	now := s.now()
	for len(s.entries) > s.capacity {
		s.evictLowest(now)
	}
}

// Insert adds e to the store, assigning an ID and creation time when unset.
// When the store is at capacity the single lowest-relevance existing entry is
// evicted first, ties broken by oldest creation time.
func (s *Store) Insert(e Entry) Entry {
	now := s.now()
	if e.ID == "" {
		e.ID = fmt.Sprintf("mem-%d", s.nextID)
		s.nextID++
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastAccessedAt.IsZero() {
		e.LastAccessedAt = e.CreatedAt
	}

	for len(s.entries) >= s.capacity {
		s.evictLowest(now)
	}

	c := cloneEntry(e)
	s.entries = append(s.entries, &c)
	return e
}

// Retrieve returns the top-k entries most relevant to query, most relevant
// first, and records the access (access count and last-access time) on each
// returned entry. Ties in relevance are broken by most recent creation time.
func (s *Store) Retrieve(query string, k int) []Entry {
	results := s.Search(query, k)
	ids := make([]string, len(results))
	for i, e := range results {
		ids[i] = e.ID
	}
	s.Touch(ids)
	return results
}

// Search is the non-mutating form of [Store.Retrieve]: it ranks entries
// without recording the access. The pipeline uses it during a turn and calls
// [Store.Touch] only at the commit point.
func (s *Store) Search(query string, k int) []Entry {
	if k <= 0 || len(s.entries) == 0 {
		return nil
	}
	now := s.now()
	queryTokens := Tokenize(query)

	type scored struct {
		e     *Entry
		score float64
	}
	ranked := make([]scored, 0, len(s.entries))
	for _, e := range s.entries {
		ranked = append(ranked, scored{e, relevance(e, queryTokens, now)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].e.CreatedAt.After(ranked[j].e.CreatedAt)
	})

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]Entry, k)
	for i := 0; i < k; i++ {
		out[i] = cloneEntry(*ranked[i].e)
	}
	return out
}

// Touch records an access on every entry whose ID appears in ids.
func (s *Store) Touch(ids []string) {
	if len(ids) == 0 {
		return
	}
	now := s.now()
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for _, e := range s.entries {
		if _, ok := set[e.ID]; ok {
			e.AccessCount++
			e.LastAccessedAt = now
		}
	}
}

// Sweep removes expired entries: low-importance entries older than one week,
// and any non-critical entry unaccessed for ninety days. Critical entries are
// exempt from time-based expiry. Returns the number of entries removed.
func (s *Store) Sweep(ctx context.Context) int {
	now := s.now()
	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if s.expired(e, now) {
			removed++
			s.archive(ctx, *e, "expired")
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	if removed > 0 {
		slog.Debug("memstore: sweep removed entries", "session", s.sessionID, "removed", removed, "remaining", len(s.entries))
	}
	return removed
}

func (s *Store) expired(e *Entry, now time.Time) bool {
	if e.Importance == Critical {
		return false
	}
	if e.Importance == Low && now.Sub(e.CreatedAt) > lowImportanceTTL {
		return true
	}
	return now.Sub(e.LastAccessedAt) > unaccessedTTL
}

// evictLowest drops the entry with the strictly lowest current relevance
// (scored against an empty query), ties broken by oldest creation time.
func (s *Store) evictLowest(now time.Time) {
	if len(s.entries) == 0 {
		return
	}
	lowest := 0
	lowestScore := relevance(s.entries[0], nil, now)
	for i := 1; i < len(s.entries); i++ {
		score := relevance(s.entries[i], nil, now)
		if score < lowestScore ||
			(score == lowestScore && s.entries[i].CreatedAt.Before(s.entries[lowest].CreatedAt)) {
			lowest, lowestScore = i, score
		}
	}

	victim := *s.entries[lowest]
	s.entries = append(s.entries[:lowest], s.entries[lowest+1:]...)
	slog.Debug("memstore: evicted entry at capacity",
		"session", s.sessionID, "id", victim.ID, "importance", victim.Importance)
	s.archive(context.Background(), victim, "evicted")
}

// archive hands dropped high- or critical-importance entries to the archiver.
func (s *Store) archive(ctx context.Context, e Entry, reason string) {
	if s.archiver == nil {
		return
	}
	if e.Importance != High && e.Importance != Critical {
		return
	}
	if err := s.archiver.ArchiveEntry(ctx, s.sessionID, e, reason); err != nil {
		slog.Warn("memstore: archive failed",
			"session", s.sessionID, "id", e.ID, "reason", reason, "err", err)
	}
}

// relevance computes the ranking score of e for the given query tokens at
// time now. With no query tokens the keyword term is zero, which is the form
// used for eviction.
func relevance(e *Entry, queryTokens []string, now time.Time) float64 {
	score := wRecency*recencyDecay(now.Sub(e.CreatedAt)) +
		wImportance*e.Importance.Weight() +
		wAccess*math.Log1p(float64(e.AccessCount))
	if len(queryTokens) > 0 {
		score += wKeyword * keywordOverlap(queryTokens, e.Keywords)
	}
	return score
}

// recencyDecay maps an age onto (0, 1] with an exponential half-life.
func recencyDecay(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * age.Hours() / recencyHalfLife.Hours())
}

// keywordOverlap returns the fraction of query tokens matched by the entry's
// keywords. A token matches on equality, substring containment (which covers
// unsegmented CJK text), or Jaro-Winkler similarity above the fuzzy
// threshold.
func keywordOverlap(queryTokens, keywords []string) float64 {
	if len(queryTokens) == 0 || len(keywords) == 0 {
		return 0
	}
	matched := 0
	for _, qt := range queryTokens {
		for _, kw := range keywords {
			if tokensMatch(qt, kw) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

// tokensMatch reports whether two tokens should count as the same keyword.
func tokensMatch(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return true
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	return matchr.JaroWinkler(a, b, false) >= fuzzyThreshold
}

func cloneEntry(e Entry) Entry {
	e.Keywords = append([]string(nil), e.Keywords...)
	e.Emotions = append([]string(nil), e.Emotions...)
	return e
}
