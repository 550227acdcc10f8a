// Package composer fuses a session's emotional, relational, temporal,
// topical, and behavioural state into the per-turn [Signal] that shapes how
// the prompt builder frames the character's reply.
//
// The signal is advisory metadata only. Composing never mutates session
// state, and a signal is never persisted past its turn.
package composer

import (
	"fmt"
	"strings"
	"time"

	"github.com/kokorochat/kokoro/internal/charstate"
	"github.com/kokorochat/kokoro/internal/emotion"
	"github.com/kokorochat/kokoro/internal/memstore"
)

// Signal is the per-turn response-shaping directive. All delta fields are in
// [-1, 1]; positive tone_shift means brighter, positive formality_delta more
// formal, positive warmth_delta more affectionate.
type Signal struct {
	ToneShift      float64  `json:"tone_shift"`
	FormalityDelta float64  `json:"formality_delta"`
	WarmthDelta    float64  `json:"warmth_delta"`
	SensitiveTopic bool     `json:"sensitive_topic"`
	Rationale      []string `json:"rationale"`
}

// Directive bundles everything the external prompt builder consumes for one
// turn: state snapshots, the retrieved memories, and the composed signal.
type Directive struct {
	Character charstate.State
	Emotion   emotion.State
	Memories  []memstore.Entry
	Signal    Signal
}

// Turn carries the per-turn inputs the composer reads.
type Turn struct {
	// Message is the raw user message.
	Message string

	// Topic is the detected conversation topic, if any.
	Topic string

	// Now is the composition time; the zero value means time.Now().
	Now time.Time
}

// Dimension fusion weights. Each dimension's raw contribution is scaled by
// its weight before summing; the sums are clamped per field.
const (
	wEmotional  = 0.30
	wRelational = 0.25
	wTopical    = 0.20
	wTemporal   = 0.15
	wBehavioral = 0.10
)

// defaultSensitiveTopics is the built-in denylist; profiles extend it.
var defaultSensitiveTopics = []string{
	"自杀", "自残", "政治", "宗教",
	"suicide", "self-harm", "politics", "religion",
}

// ComposerConfig holds tuning knobs for a [Composer].
type ComposerConfig struct {
	// SensitiveTopics extends the built-in denylist.
	SensitiveTopics []string

	// LongGap is the absence after which formality softens on return.
	// Default: 72h.
	LongGap time.Duration
}

// Composer produces per-turn signals. Stateless apart from configuration;
// safe for concurrent use.
type Composer struct {
	sensitive []string
	longGap   time.Duration
}

// New creates a [Composer]. Zero-value config fields are replaced with
// defaults.
func New(cfg ComposerConfig) *Composer {
	if cfg.LongGap <= 0 {
		cfg.LongGap = 72 * time.Hour
	}
	sensitive := append([]string(nil), defaultSensitiveTopics...)
	sensitive = append(sensitive, cfg.SensitiveTopics...)
	return &Composer{sensitive: sensitive, longGap: cfg.LongGap}
}

// contribution is one dimension's weighted pull on the signal fields.
type contribution struct {
	tone, formality, warmth float64
	rationale               string
}

// Compose analyses the five dimensions and fuses them into a [Signal].
func (c *Composer) Compose(char charstate.State, emo emotion.State, turn Turn) Signal {
	now := turn.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	contribs := []contribution{
		emotionalDimension(emo),
		temporalDimension(char.LastInteractionAt, now, c.longGap),
		relationalDimension(char),
		topicalDimension(char, turn.Topic),
		behavioralDimension(char, emo),
	}

	var sig Signal
	for _, ct := range contribs {
		sig.ToneShift += ct.tone
		sig.FormalityDelta += ct.formality
		sig.WarmthDelta += ct.warmth
		if ct.rationale != "" {
			sig.Rationale = append(sig.Rationale, ct.rationale)
		}
	}
	sig.ToneShift = clamp1(sig.ToneShift)
	sig.FormalityDelta = clamp1(sig.FormalityDelta)
	sig.WarmthDelta = clamp1(sig.WarmthDelta)

	// Sensitive topics are a static denylist match, independent of the
	// numeric fusion.
	if topic := c.matchSensitive(turn.Message, turn.Topic); topic != "" {
		sig.SensitiveTopic = true
		sig.Rationale = append(sig.Rationale, fmt.Sprintf("sensitive topic detected: %s", topic))
	}

	return sig
}

// emotionalDimension maps the current emotion and its recent trend onto tone
// and warmth.
func emotionalDimension(emo emotion.State) contribution {
	var ct contribution
	switch {
	case emo.Current.IsPositive():
		ct.tone = emo.Intensity
		ct.warmth = emo.Intensity * 0.5
	case emo.Current.IsNegative():
		ct.tone = -emo.Intensity
		ct.warmth = -emo.Intensity * 0.3
	}

	trend := emotion.Trend(emo.History)
	switch trend {
	case emotion.TrendRising:
		ct.tone += 0.2
	case emotion.TrendFalling:
		ct.tone -= 0.2
	}

	ct.tone *= wEmotional
	ct.warmth *= wEmotional
	if emo.Current != emotion.Neutral {
		ct.rationale = fmt.Sprintf("emotional: %s at %.2f, trend %s", emo.Current, emo.Intensity, trend)
	}
	return ct
}

// temporalDimension softens formality and adds warmth when the user returns
// after a long absence.
func temporalDimension(last, now time.Time, longGap time.Duration) contribution {
	if last.IsZero() {
		return contribution{rationale: "temporal: first interaction"}
	}
	gap := now.Sub(last)
	if gap < longGap {
		return contribution{}
	}
	return contribution{
		formality: -0.5 * wTemporal,
		warmth:    0.8 * wTemporal,
		rationale: fmt.Sprintf("temporal: returning after %.0fh absence", gap.Hours()),
	}
}

// relationalDimension loosens formality and raises warmth as the
// relationship deepens; low trust pulls warmth back down.
func relationalDimension(char charstate.State) contribution {
	closeness := float64(char.Level.Rank()) / 4 // [0, 1]
	trust := char.Trust / 100

	return contribution{
		formality: -closeness * wRelational,
		warmth:    (closeness*0.7 + (trust-0.5)*0.6) * wRelational,
		rationale: fmt.Sprintf("relational: level %s, trust %.0f", char.Level, char.Trust),
	}
}

// topicalDimension brightens tone for topics the character has learned to
// like and dims it for disliked ones.
func topicalDimension(char charstate.State, topic string) contribution {
	if topic == "" {
		return contribution{}
	}
	affinity, ok := char.TopicPreferences[topic]
	if !ok {
		return contribution{}
	}
	norm := affinity / 10 // [-1, 1]
	return contribution{
		tone:      norm * wTopical,
		warmth:    norm * 0.5 * wTopical,
		rationale: fmt.Sprintf("topical: affinity %.1f for %q", affinity, topic),
	}
}

// behavioralDimension reacts to a run of negative interactions with a more
// careful, warmer posture.
func behavioralDimension(char charstate.State, emo emotion.State) contribution {
	streak := emotion.NegativeStreak(emo.History)
	if streak < 3 && char.PositiveRatio() > 0.3 {
		return contribution{}
	}
	if char.InteractionCount < 3 {
		return contribution{}
	}
	return contribution{
		tone:      -0.3 * wBehavioral,
		formality: 0.2 * wBehavioral,
		warmth:    0.6 * wBehavioral,
		rationale: fmt.Sprintf("behavioral: negative streak %d, positive ratio %.2f", streak, char.PositiveRatio()),
	}
}

// matchSensitive returns the first denylist entry found in the message or
// topic, or "".
func (c *Composer) matchSensitive(message, topic string) string {
	lowerMsg := strings.ToLower(message)
	lowerTopic := strings.ToLower(topic)
	for _, s := range c.sensitive {
		ls := strings.ToLower(s)
		if strings.Contains(lowerMsg, ls) || (lowerTopic != "" && strings.Contains(lowerTopic, ls)) {
			return s
		}
	}
	return ""
}

func clamp1(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
