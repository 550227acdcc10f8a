// Package charstate tracks the evolving per-session relationship between a
// character and the user: familiarity, trust, energy, topic affinities, and
// the derived relationship level.
//
// [State] is a plain value; the [Tracker] returns updated copies so a turn's
// change can be buffered and committed (or discarded) atomically by the
// pipeline.
package charstate

import (
	"log/slog"
	"math"
	"time"

	"github.com/kokorochat/kokoro/internal/emotion"
)

// RelationshipLevel is the ordered closeness tier derived from familiarity.
type RelationshipLevel string

const (
	Stranger     RelationshipLevel = "stranger"
	Acquaintance RelationshipLevel = "acquaintance"
	Friend       RelationshipLevel = "friend"
	CloseFriend  RelationshipLevel = "close_friend"
	Special      RelationshipLevel = "special"
)

// Rank returns the ordinal position of the level, stranger first.
func (l RelationshipLevel) Rank() int {
	switch l {
	case Acquaintance:
		return 1
	case Friend:
		return 2
	case CloseFriend:
		return 3
	case Special:
		return 4
	default:
		return 0
	}
}

// LevelForFamiliarity maps a familiarity score to its relationship level via
// the fixed threshold table. The level is never stored independently; it is
// recomputed after every update so a falling score downgrades it.
func LevelForFamiliarity(score float64) RelationshipLevel {
	switch {
	case score >= 90:
		return Special
	case score >= 70:
		return CloseFriend
	case score >= 40:
		return Friend
	case score >= 20:
		return Acquaintance
	default:
		return Stranger
	}
}

// Mood is the character's derived short-term disposition.
type Mood string

const (
	MoodGreat    Mood = "great"
	MoodGood     Mood = "good"
	MoodNeutral  Mood = "neutral"
	MoodBad      Mood = "bad"
	MoodTerrible Mood = "terrible"
)

// State is the per-session character state. All score fields are held in
// [0, 100]; topic affinities in [-10, 10].
type State struct {
	Familiarity float64           `json:"familiarity"`
	Trust       float64           `json:"trust"`
	Energy      float64           `json:"energy"`
	Level       RelationshipLevel `json:"level"`

	InteractionCount     int `json:"interaction_count"`
	PositiveInteractions int `json:"positive_interactions"`
	NegativeInteractions int `json:"negative_interactions"`

	TopicPreferences map[string]float64 `json:"topic_preferences"`
	SpecialMemories  []string           `json:"special_memories"`

	LastInteractionAt time.Time `json:"last_interaction_at"`

	// lastQuality feeds the derived mood; persisted so mood survives a
	// snapshot round-trip.
	LastQuality float64 `json:"last_quality"`
}

// NewState returns the initial state for a fresh session: a stranger with
// mid-range trust and energy.
func NewState() State {
	return State{
		Trust:            50,
		Energy:           50,
		Level:            Stranger,
		TopicPreferences: map[string]float64{},
	}
}

// Mood derives the character's current disposition from energy and the most
// recent interaction quality. It is never stored.
func (s State) Mood() Mood {
	score := s.Energy/100 + s.LastQuality // roughly [-1, 2]
	switch {
	case score >= 1.4:
		return MoodGreat
	case score >= 0.9:
		return MoodGood
	case score >= 0.4:
		return MoodNeutral
	case score >= 0:
		return MoodBad
	default:
		return MoodTerrible
	}
}

// PositiveRatio returns the fraction of interactions that were positive, or
// 0 before any interaction.
func (s State) PositiveRatio() float64 {
	if s.InteractionCount == 0 {
		return 0
	}
	return float64(s.PositiveInteractions) / float64(s.InteractionCount)
}

// Interaction describes one completed conversational turn as seen by the
// tracker.
type Interaction struct {
	// Quality is the turn's valence in [-1, 1].
	Quality float64

	// Topic is the detected conversation topic, if any.
	Topic string

	// Emotion is the character's emotional state after this turn.
	Emotion emotion.Emotion

	// Milestone is an optional description recorded as a special memory when
	// Quality exceeds the milestone threshold.
	Milestone string

	// At is the interaction time; the zero value means time.Now().
	At time.Time
}

// TrackerConfig holds tuning knobs for a [Tracker].
type TrackerConfig struct {
	// TopicSmoothing is the EMA factor for topic affinity in (0, 1].
	// Default: 0.3.
	TopicSmoothing float64

	// MilestoneQuality is the minimum quality that records a special memory.
	// Default: 0.8.
	MilestoneQuality float64

	// SpecialMemoryCap bounds the special memory list. Default: 10.
	SpecialMemoryCap int
}

// Tracker applies interactions to character state. Stateless apart from its
// configuration; safe for concurrent use.
type Tracker struct {
	topicSmoothing   float64
	milestoneQuality float64
	specialMemoryCap int
}

// NewTracker creates a [Tracker]. Zero-value config fields are replaced with
// defaults.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.TopicSmoothing <= 0 || cfg.TopicSmoothing > 1 {
		cfg.TopicSmoothing = 0.3
	}
	if cfg.MilestoneQuality <= 0 {
		cfg.MilestoneQuality = 0.8
	}
	if cfg.SpecialMemoryCap <= 0 {
		cfg.SpecialMemoryCap = 10
	}
	return &Tracker{
		topicSmoothing:   cfg.TopicSmoothing,
		milestoneQuality: cfg.MilestoneQuality,
		specialMemoryCap: cfg.SpecialMemoryCap,
	}
}

// Apply folds one interaction into st and returns the updated state.
//
// Familiarity gains diminish logistically as the score approaches 100; drops
// apply at full strength. Trust is asymmetric: a negative interaction
// subtracts twice what an equal-magnitude positive one adds. The relationship
// level is recomputed from familiarity after every update.
func (t *Tracker) Apply(st State, in Interaction) State {
	quality := in.Quality
	if quality < -1 || quality > 1 {
		slog.Warn("charstate: interaction quality out of range, clamping", "quality", quality)
		quality = clamp(quality, -1, 1)
	}
	at := in.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	next := st.clone()

	// Familiarity with logistic saturation on the way up.
	gain := quality * 2
	if gain > 0 {
		gain *= saturation(next.Familiarity)
	}
	next.Familiarity = clampScore("familiarity", st.Familiarity, next.Familiarity+gain)

	// Trust: harder to rebuild than to break.
	trustDelta := quality * 2
	if trustDelta < 0 {
		trustDelta *= 2
	}
	next.Trust = clampScore("trust", st.Trust, next.Trust+trustDelta)

	// Energy drifts toward the midpoint and moves with quality.
	next.Energy += (50 - next.Energy) * 0.05
	next.Energy = clampScore("energy", st.Energy, next.Energy+quality*5)

	next.InteractionCount++
	switch {
	case quality > 0:
		next.PositiveInteractions++
	case quality < 0:
		next.NegativeInteractions++
	}

	if in.Topic != "" {
		prev := next.TopicPreferences[in.Topic]
		target := quality * 10 // map [-1,1] onto the affinity range
		affinity := prev + t.topicSmoothing*(target-prev)
		next.TopicPreferences[in.Topic] = clamp(affinity, -10, 10)
	}

	if in.Milestone != "" && quality >= t.milestoneQuality {
		next.SpecialMemories = appendSpecial(next.SpecialMemories, in.Milestone, t.specialMemoryCap)
	}

	next.LastInteractionAt = at
	next.LastQuality = quality
	next.Level = LevelForFamiliarity(next.Familiarity)

	return next
}

// clone deep-copies the map and slice fields so the caller can buffer the
// returned state without aliasing the original.
func (s State) clone() State {
	out := s
	out.TopicPreferences = make(map[string]float64, len(s.TopicPreferences))
	for k, v := range s.TopicPreferences {
		out.TopicPreferences[k] = v
	}
	out.SpecialMemories = append([]string(nil), s.SpecialMemories...)
	return out
}

// appendSpecial appends memory to list unless an identical entry exists,
// evicting the oldest entry when the cap is exceeded.
func appendSpecial(list []string, memory string, limit int) []string {
	for _, m := range list {
		if m == memory {
			return list
		}
	}
	list = append(list, memory)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}

// saturation flattens familiarity gains near the ceiling.
func saturation(score float64) float64 {
	return 1 / (1 + math.Exp((score-80)/10))
}

// clampScore clamps v to [0, 100]. Hitting the floor or ceiling from a valid
// prior score is ordinary saturation; a warning fires only when prev was
// already out of range, which means the stored state itself is corrupt.
func clampScore(name string, prev, v float64) float64 {
	if prev < 0 || prev > 100 {
		slog.Warn("charstate: score out of range before update, clamping",
			"score", name, "previous", prev, "value", v)
	}
	return clamp(v, 0, 100)
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

// QualityFromEmotion maps the user's detected emotional signal onto an
// interaction quality in [-1, 1]. Positive emotions score positively in
// proportion to intensity, negative emotions the reverse; neutral and
// surprise contribute a mild positive baseline for simply engaging.
func QualityFromEmotion(e emotion.Emotion, intensity float64) float64 {
	switch {
	case e.IsPositive():
		return clamp(0.2+0.8*intensity, -1, 1)
	case e.IsNegative():
		return clamp(-0.2-0.8*intensity, -1, 1)
	default:
		return 0.1
	}
}
