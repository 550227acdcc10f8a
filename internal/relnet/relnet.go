// Package relnet maintains the global network of pairwise relationships
// between characters. Unlike session state, edges are shared across all
// sessions: two sessions can simulate interactions between the same character
// pair concurrently, so the network locks per edge rather than folding edge
// state into any session.
package relnet

import (
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kokorochat/kokoro/internal/profile"
)

// EdgeType classifies the flavour of a relationship edge.
type EdgeType string

const (
	Rival        EdgeType = "rival"
	Friendly     EdgeType = "friendly"
	Neutral      EdgeType = "neutral"
	Romantic     EdgeType = "romantic"
	Antagonistic EdgeType = "antagonistic"
)

// IsValid reports whether t is a recognised edge type.
func (t EdgeType) IsValid() bool {
	switch t {
	case Rival, Friendly, Neutral, Romantic, Antagonistic:
		return true
	}
	return false
}

// Edge is the relationship between an unordered character pair. A and B are
// always stored in lexical order.
type Edge struct {
	A                 string    `json:"a"`
	B                 string    `json:"b"`
	Type              EdgeType  `json:"type"`
	Affinity          float64   `json:"affinity"` // [-100, 100]
	Trust             float64   `json:"trust"`    // [0, 100]
	InteractionCount  int       `json:"interaction_count"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
	Notes             []string  `json:"notes"`

	// NegativeStreak counts consecutive interactions spent below the conflict
	// threshold; conflict detection requires a sustained streak so one-off
	// disagreements are not flagged.
	NegativeStreak int `json:"negative_streak"`
}

// NetworkConfig holds tuning knobs for a [Network].
type NetworkConfig struct {
	// MaxDelta caps how far affinity can move in a single simulated
	// interaction, regardless of input extremity. Default: 8.
	MaxDelta float64

	// ConflictThreshold is the affinity below which interactions count toward
	// a conflict streak. Default: -30.
	ConflictThreshold float64

	// ConflictStreak is the number of consecutive below-threshold
	// interactions required before a conflict is reported. Default: 3.
	ConflictStreak int
}

// Network is the process-wide relationship table. The table itself takes a
// read lock for lookups; each edge carries its own mutex so concurrent
// simulations on distinct pairs never contend.
type Network struct {
	maxDelta          float64
	conflictThreshold float64
	conflictStreak    int

	profiles profile.Set

	mu    sync.RWMutex
	edges map[pairKey]*edgeEntry
}

type pairKey struct{ a, b string }

type edgeEntry struct {
	mu   sync.Mutex
	edge Edge
}

// NewNetwork creates a [Network] over the given profiles, pre-seeding edges
// declared in profile relationship lists. Zero-value config fields are
// replaced with defaults.
func NewNetwork(profiles profile.Set, cfg NetworkConfig) *Network {
	if cfg.MaxDelta <= 0 {
		cfg.MaxDelta = 8
	}
	if cfg.ConflictThreshold >= 0 {
		cfg.ConflictThreshold = -30
	}
	if cfg.ConflictStreak <= 0 {
		cfg.ConflictStreak = 3
	}
	n := &Network{
		maxDelta:          cfg.MaxDelta,
		conflictThreshold: cfg.ConflictThreshold,
		conflictStreak:    cfg.ConflictStreak,
		profiles:          profiles,
		edges:             map[pairKey]*edgeEntry{},
	}
	n.seedPredefined()
	return n
}

// seedPredefined creates edges declared in the profile files.
func (n *Network) seedPredefined() {
	for id, p := range n.profiles {
		for _, r := range p.Relationships {
			t := EdgeType(r.Type)
			if !t.IsValid() {
				slog.Warn("relnet: predefined relationship has unknown type, using neutral",
					"character", id, "with", r.With, "type", r.Type)
				t = Neutral
			}
			key := keyFor(id, r.With)
			if _, exists := n.edges[key]; exists {
				continue
			}
			n.edges[key] = &edgeEntry{edge: Edge{
				A:        key.a,
				B:        key.b,
				Type:     t,
				Affinity: clamp(r.Affinity, -100, 100),
				Trust:    50,
			}}
		}
	}
}

// Get returns the edge between a and b, creating a default one on first
// lookup. New edges start neutral with affinity seeded from the two
// characters' trait compatibility when both profiles are known.
func (n *Network) Get(a, b string) Edge {
	entry := n.entry(a, b)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return cloneEdge(entry.edge)
}

// SimulateInteraction advances the edge between a and b given a topic and a
// sentiment in [-1, 1]. The affinity delta blends trait compatibility with
// the interaction sentiment and is clamped so the edge never moves by more
// than MaxDelta per call. The updated edge is returned.
func (n *Network) SimulateInteraction(a, b, topic string, sentiment float64) Edge {
	sentiment = clamp(sentiment, -1, 1)
	entry := n.entry(a, b)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	e := &entry.edge

	compat := n.compatibility(a, b) // [-1, 1]
	delta := clamp((0.4*compat+0.6*sentiment)*n.maxDelta, -n.maxDelta, n.maxDelta)

	e.Affinity = clamp(e.Affinity+delta, -100, 100)
	trustDelta := sentiment * 2
	if trustDelta < 0 {
		trustDelta *= 2
	}
	e.Trust = clamp(e.Trust+trustDelta, 0, 100)
	e.InteractionCount++
	e.LastInteractionAt = time.Now().UTC()
	e.Type = typeForAffinity(e.Affinity, e.Type)

	if e.Affinity < n.conflictThreshold {
		e.NegativeStreak++
	} else {
		e.NegativeStreak = 0
	}

	if topic != "" {
		e.Notes = appendNote(e.Notes, topic, 20)
	}

	return cloneEdge(*e)
}

// DetectConflict reports whether the pair is in sustained conflict: affinity
// below the threshold for at least the configured number of consecutive
// interactions.
func (n *Network) DetectConflict(a, b string) bool {
	entry := n.entry(a, b)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.edge.Affinity < n.conflictThreshold &&
		entry.edge.NegativeStreak >= n.conflictStreak
}

// Summary returns every edge touching character id, strongest affinity
// first. Intended for diagnostics and the prompt builder's relationship
// context.
func (n *Network) Summary(id string) []Edge {
	n.mu.RLock()
	var out []Edge
	for key, entry := range n.edges {
		if key.a != id && key.b != id {
			continue
		}
		entry.mu.Lock()
		out = append(out, cloneEdge(entry.edge))
		entry.mu.Unlock()
	}
	n.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return math.Abs(out[i].Affinity) > math.Abs(out[j].Affinity)
	})
	return out
}

// entry returns the edge entry for the pair, creating and seeding it under
// the table write lock on first use.
func (n *Network) entry(a, b string) *edgeEntry {
	key := keyFor(a, b)

	n.mu.RLock()
	entry, ok := n.edges[key]
	n.mu.RUnlock()
	if ok {
		return entry
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if entry, ok = n.edges[key]; ok {
		return entry
	}
	entry = &edgeEntry{edge: Edge{
		A:        key.a,
		B:        key.b,
		Type:     Neutral,
		Affinity: clamp(n.compatibility(key.a, key.b)*20, -20, 20),
		Trust:    50,
	}}
	n.edges[key] = entry
	return entry
}

// compatibility scores how naturally two characters get along from their
// Big-Five vectors: similarity on most factors helps, while two highly
// neurotic characters grate on each other. Unknown profiles score 0.
func (n *Network) compatibility(a, b string) float64 {
	pa, okA := n.profiles[a]
	pb, okB := n.profiles[b]
	if !okA || !okB {
		return 0
	}

	fa := pa.BigFive
	fb := pb.BigFive
	similarity := 1 - (math.Abs(fa.Openness-fb.Openness)+
		math.Abs(fa.Conscientiousness-fb.Conscientiousness)+
		math.Abs(fa.Extraversion-fb.Extraversion)+
		math.Abs(fa.Agreeableness-fb.Agreeableness))/4

	agreeable := (fa.Agreeableness + fb.Agreeableness) / 2
	friction := fa.Neuroticism * fb.Neuroticism

	return clamp(0.5*similarity+0.5*agreeable-friction, -1, 1)
}

// typeForAffinity re-derives the edge type once affinity crosses a band
// boundary, preserving a romantic type, which is set only by seeding.
func typeForAffinity(affinity float64, current EdgeType) EdgeType {
	if current == Romantic {
		return current
	}
	switch {
	case affinity <= -60:
		return Antagonistic
	case affinity <= -20:
		return Rival
	case affinity >= 30:
		return Friendly
	default:
		return Neutral
	}
}

func keyFor(a, b string) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a, b}
}

func appendNote(notes []string, note string, limit int) []string {
	notes = append(notes, note)
	if len(notes) > limit {
		notes = notes[len(notes)-limit:]
	}
	return notes
}

func cloneEdge(e Edge) Edge {
	e.Notes = append([]string(nil), e.Notes...)
	return e
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
