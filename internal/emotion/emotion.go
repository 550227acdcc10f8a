// Package emotion implements the per-session emotion state machine.
//
// Each conversation session carries a [State]: the character's current
// emotion, its intensity, and a bounded history of recent transitions. The
// [Machine] advances that state once per turn by matching the user message
// against the character's weighted trigger dictionary. Resolution is
// deterministic: cumulative trigger weight wins, with a fixed priority order
// breaking ties.
package emotion

import (
	"log/slog"
	"strings"
	"time"

	"github.com/kokorochat/kokoro/internal/profile"
)

// Emotion is one of the character's discrete emotional states.
type Emotion string

const (
	Neutral   Emotion = "neutral"
	Joy       Emotion = "joy"
	Sadness   Emotion = "sadness"
	Anger     Emotion = "anger"
	Fear      Emotion = "fear"
	Surprise  Emotion = "surprise"
	Disgust   Emotion = "disgust"
	Affection Emotion = "affection"
)

// IsValid reports whether e is a recognised emotion.
func (e Emotion) IsValid() bool {
	switch e {
	case Neutral, Joy, Sadness, Anger, Fear, Surprise, Disgust, Affection:
		return true
	}
	return false
}

// IsNegative reports whether e belongs to the negative emotion family.
func (e Emotion) IsNegative() bool {
	switch e {
	case Sadness, Anger, Fear, Disgust:
		return true
	}
	return false
}

// IsPositive reports whether e belongs to the positive emotion family.
func (e Emotion) IsPositive() bool {
	return e == Joy || e == Affection
}

// priority breaks ties when two emotions accumulate identical trigger weight
// in the same message. Higher wins.
var priority = map[Emotion]int{
	Anger:     7,
	Fear:      6,
	Sadness:   5,
	Disgust:   4,
	Surprise:  3,
	Joy:       2,
	Affection: 1,
	Neutral:   0,
}

// Event is one entry in the bounded emotion history.
type Event struct {
	Emotion   Emotion   `json:"emotion"`
	Intensity float64   `json:"intensity"`
	Trigger   string    `json:"trigger"`
	At        time.Time `json:"at"`
}

// State is a session's live emotional state. It is a plain value: the
// [Machine] returns updated copies rather than mutating in place, so callers
// can buffer a turn's change and commit or discard it atomically.
type State struct {
	Current   Emotion `json:"current"`
	Intensity float64 `json:"intensity"` // [0, 1]
	History   []Event `json:"history"`
}

// NewState returns a neutral zero-intensity state.
func NewState() State {
	return State{Current: Neutral}
}

// MachineConfig holds tuning knobs for a [Machine].
type MachineConfig struct {
	// Decay is the per-turn intensity retention factor in (0, 1).
	// Default: 0.85.
	Decay float64

	// NeutralFloor is the intensity below which the state collapses back to
	// neutral when no trigger fires. Default: 0.15.
	NeutralFloor float64

	// HistoryCap bounds the history ring. Default: 20.
	HistoryCap int
}

// Machine advances emotion state per turn. It is stateless apart from its
// configuration and safe for concurrent use.
type Machine struct {
	decay        float64
	neutralFloor float64
	historyCap   int
}

// NewMachine creates a [Machine]. Zero-value config fields are replaced with
// defaults.
func NewMachine(cfg MachineConfig) *Machine {
	if cfg.Decay <= 0 || cfg.Decay >= 1 {
		cfg.Decay = 0.85
	}
	if cfg.NeutralFloor <= 0 {
		cfg.NeutralFloor = 0.15
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 20
	}
	return &Machine{
		decay:        cfg.Decay,
		neutralFloor: cfg.NeutralFloor,
		historyCap:   cfg.HistoryCap,
	}
}

// Update matches message against the character's trigger dictionary and
// returns the next state. The previous intensity decays each turn; a firing
// trigger adds its cumulative weight on top, clamped to [0, 1]. When no
// trigger fires and the decayed intensity drops below the neutral floor the
// state collapses to neutral.
func (m *Machine) Update(st State, message string, triggers []profile.Trigger) State {
	if !st.Current.IsValid() {
		slog.Warn("emotion: invalid current emotion, resetting to neutral", "emotion", st.Current)
		st.Current = Neutral
		st.Intensity = 0
	}

	winner, weight, matched := resolve(message, triggers)
	decayed := st.Intensity * m.decay

	next := st
	switch {
	case winner == "":
		// No trigger fired; drift toward neutral.
		next.Intensity = decayed
		if next.Intensity < m.neutralFloor {
			next.Current = Neutral
			next.Intensity = 0
		}
	case winner == st.Current:
		next.Intensity = clamp01(decayed + weight)
	default:
		next.Current = winner
		next.Intensity = clamp01(weight + decayed*0.5)
	}

	next.History = appendEvent(st.History, Event{
		Emotion:   next.Current,
		Intensity: next.Intensity,
		Trigger:   matched,
		At:        time.Now().UTC(),
	}, m.historyCap)

	return next
}

// resolve scans message for every trigger keyword and returns the winning
// emotion, its cumulative weight, and the matched keywords joined for the
// history record. Returns an empty winner when nothing matches.
//
// Ties on cumulative weight are broken by the fixed priority order so that
// repeated runs over the same input always produce the same result.
func resolve(message string, triggers []profile.Trigger) (winner Emotion, weight float64, matched string) {
	lower := strings.ToLower(message)

	weights := map[Emotion]float64{}
	hits := map[Emotion][]string{}
	for _, t := range triggers {
		if t.Keyword == "" || !strings.Contains(lower, strings.ToLower(t.Keyword)) {
			continue
		}
		e := Emotion(t.Emotion)
		if !e.IsValid() {
			slog.Warn("emotion: trigger references unknown emotion, skipping", "emotion", t.Emotion, "keyword", t.Keyword)
			continue
		}
		weights[e] += t.Weight
		hits[e] = append(hits[e], t.Keyword)
	}
	if len(weights) == 0 {
		return "", 0, ""
	}

	for e, w := range weights {
		if winner == "" || w > weight || (w == weight && priority[e] > priority[winner]) {
			winner, weight = e, w
		}
	}
	return winner, clamp01(weight), strings.Join(hits[winner], ",")
}

// appendEvent appends ev to history, trimming from the front to keep at most
// limit entries.
func appendEvent(history []Event, ev Event, limit int) []Event {
	out := make([]Event, len(history), len(history)+1)
	copy(out, history)
	out = append(out, ev)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
