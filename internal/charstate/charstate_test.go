package charstate_test

import (
	"log/slog"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/kokorochat/kokoro/internal/charstate"
	"github.com/kokorochat/kokoro/internal/emotion"
)

func TestLevelForFamiliarity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		score float64
		want  charstate.RelationshipLevel
	}{
		{0, charstate.Stranger},
		{19.9, charstate.Stranger},
		{20, charstate.Acquaintance},
		{39.9, charstate.Acquaintance},
		{40, charstate.Friend},
		{69.9, charstate.Friend},
		{70, charstate.CloseFriend},
		{89.9, charstate.CloseFriend},
		{90, charstate.Special},
		{100, charstate.Special},
	}
	for _, tt := range tests {
		if got := charstate.LevelForFamiliarity(tt.score); got != tt.want {
			t.Errorf("LevelForFamiliarity(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestApply_PositiveInteraction(t *testing.T) {
	t.Parallel()
	tr := charstate.NewTracker(charstate.TrackerConfig{})

	st := tr.Apply(charstate.NewState(), charstate.Interaction{Quality: 1})
	if st.Familiarity <= 0 {
		t.Errorf("familiarity = %v, want > 0", st.Familiarity)
	}
	if st.Trust <= 50 {
		t.Errorf("trust = %v, want > 50", st.Trust)
	}
	if st.InteractionCount != 1 || st.PositiveInteractions != 1 {
		t.Errorf("counts = %d/%d, want 1/1", st.InteractionCount, st.PositiveInteractions)
	}
	if st.LastInteractionAt.IsZero() {
		t.Error("LastInteractionAt not set")
	}
}

func TestApply_TrustAsymmetry(t *testing.T) {
	t.Parallel()
	tr := charstate.NewTracker(charstate.TrackerConfig{})

	up := tr.Apply(charstate.NewState(), charstate.Interaction{Quality: 0.5})
	gained := up.Trust - 50

	down := tr.Apply(charstate.NewState(), charstate.Interaction{Quality: -0.5})
	lost := 50 - down.Trust

	if lost != 2*gained {
		t.Errorf("trust asymmetry: gained %v, lost %v, want lost = 2*gained", gained, lost)
	}
}

func TestApply_FamiliarityDiminishingGains(t *testing.T) {
	t.Parallel()
	tr := charstate.NewTracker(charstate.TrackerConfig{})

	low := charstate.NewState()
	low.Familiarity = 10
	high := charstate.NewState()
	high.Familiarity = 95

	lowGain := tr.Apply(low, charstate.Interaction{Quality: 1}).Familiarity - 10
	highGain := tr.Apply(high, charstate.Interaction{Quality: 1}).Familiarity - 95

	if highGain >= lowGain {
		t.Errorf("gain at 95 (%v) should be smaller than gain at 10 (%v)", highGain, lowGain)
	}
}

func TestApply_TopicAffinityEMA(t *testing.T) {
	t.Parallel()
	tr := charstate.NewTracker(charstate.TrackerConfig{})

	st := charstate.NewState()
	st = tr.Apply(st, charstate.Interaction{Quality: 1, Topic: "音乐"})
	// EMA from 0 toward 10 with smoothing 0.3.
	if got := st.TopicPreferences["音乐"]; got != 3 {
		t.Errorf("affinity after one turn = %v, want 3", got)
	}
	st = tr.Apply(st, charstate.Interaction{Quality: 1, Topic: "音乐"})
	if got := st.TopicPreferences["音乐"]; got != 3+0.3*(10-3) {
		t.Errorf("affinity after two turns = %v, want %v", got, 3+0.3*(10-3))
	}
}

func TestApply_TopicAffinityClamped(t *testing.T) {
	t.Parallel()
	tr := charstate.NewTracker(charstate.TrackerConfig{})

	st := charstate.NewState()
	for i := 0; i < 100; i++ {
		st = tr.Apply(st, charstate.Interaction{Quality: -1, Topic: "政治"})
	}
	if got := st.TopicPreferences["政治"]; got < -10 || got > 10 {
		t.Errorf("affinity %v escaped [-10,10]", got)
	}
}

func TestApply_SpecialMemories(t *testing.T) {
	t.Parallel()
	tr := charstate.NewTracker(charstate.TrackerConfig{SpecialMemoryCap: 3})

	st := charstate.NewState()
	// Below the milestone threshold: not recorded.
	st = tr.Apply(st, charstate.Interaction{Quality: 0.5, Milestone: "too mild"})
	if len(st.SpecialMemories) != 0 {
		t.Fatalf("low-quality milestone recorded: %v", st.SpecialMemories)
	}

	for _, m := range []string{"first", "second", "second", "third", "fourth"} {
		st = tr.Apply(st, charstate.Interaction{Quality: 0.9, Milestone: m})
	}
	if len(st.SpecialMemories) != 3 {
		t.Fatalf("special memories = %v, want 3 entries", st.SpecialMemories)
	}
	// Duplicate was ignored; oldest evicted at cap.
	want := []string{"second", "third", "fourth"}
	for i, m := range want {
		if st.SpecialMemories[i] != m {
			t.Errorf("special memory[%d] = %q, want %q", i, st.SpecialMemories[i], m)
		}
	}
}

func TestApply_BuffersDoNotAlias(t *testing.T) {
	t.Parallel()
	tr := charstate.NewTracker(charstate.TrackerConfig{})

	st := charstate.NewState()
	st = tr.Apply(st, charstate.Interaction{Quality: 1, Topic: "音乐"})

	next := tr.Apply(st, charstate.Interaction{Quality: 1, Topic: "书"})
	next.TopicPreferences["音乐"] = -999

	if st.TopicPreferences["音乐"] == -999 {
		t.Error("applying mutated the previous state's topic map")
	}
}

func TestApply_ScoresStayInBounds(t *testing.T) {
	t.Parallel()
	tr := charstate.NewTracker(charstate.TrackerConfig{})
	rng := rand.New(rand.NewSource(42))

	st := charstate.NewState()
	for i := 0; i < 1000; i++ {
		st = tr.Apply(st, charstate.Interaction{
			Quality: rng.Float64()*2 - 1,
			Topic:   "随机",
			At:      time.Now(),
		})
		for name, v := range map[string]float64{
			"familiarity": st.Familiarity,
			"trust":       st.Trust,
			"energy":      st.Energy,
		} {
			if v < 0 || v > 100 {
				t.Fatalf("turn %d: %s = %v escaped [0,100]", i, name, v)
			}
		}
		if charstate.LevelForFamiliarity(st.Familiarity) != st.Level {
			t.Fatalf("turn %d: level %q inconsistent with familiarity %v", i, st.Level, st.Familiarity)
		}
	}
}

func TestMood(t *testing.T) {
	t.Parallel()
	tests := []struct {
		energy  float64
		quality float64
		want    charstate.Mood
	}{
		{90, 0.9, charstate.MoodGreat},
		{60, 0.5, charstate.MoodGood},
		{50, 0, charstate.MoodNeutral},
		{30, -0.2, charstate.MoodBad},
		{10, -0.8, charstate.MoodTerrible},
	}
	for _, tt := range tests {
		st := charstate.State{Energy: tt.energy, LastQuality: tt.quality}
		if got := st.Mood(); got != tt.want {
			t.Errorf("Mood(energy=%v, quality=%v) = %q, want %q", tt.energy, tt.quality, got, tt.want)
		}
	}
}

func TestQualityFromEmotion(t *testing.T) {
	t.Parallel()
	if q := charstate.QualityFromEmotion(emotion.Joy, 1); q != 1 {
		t.Errorf("joy at full intensity = %v, want 1", q)
	}
	if q := charstate.QualityFromEmotion(emotion.Anger, 1); q != -1 {
		t.Errorf("anger at full intensity = %v, want -1", q)
	}
	if q := charstate.QualityFromEmotion(emotion.Neutral, 0); q != 0.1 {
		t.Errorf("neutral = %v, want 0.1", q)
	}
}

func TestApply_NegativeRunDowngradesLevelAtCrossing(t *testing.T) {
	t.Parallel()
	tr := charstate.NewTracker(charstate.TrackerConfig{})

	st := charstate.NewState()
	st.Familiarity = 23
	st.Level = charstate.LevelForFamiliarity(st.Familiarity)

	// Each full-strength negative interaction costs 2 familiarity: 23 → 21
	// (still acquaintance) → 19 (downgrade) → 17 (no further change).
	want := []charstate.RelationshipLevel{
		charstate.Acquaintance,
		charstate.Stranger,
		charstate.Stranger,
	}
	for i, w := range want {
		st = tr.Apply(st, charstate.Interaction{Quality: -1})
		if st.Level != w {
			t.Errorf("after negative interaction %d: level = %s, want %s", i+1, st.Level, w)
		}
	}
	if st.NegativeInteractions != 3 {
		t.Errorf("NegativeInteractions = %d, want 3", st.NegativeInteractions)
	}
}

func TestApply_SaturationClampIsSilent(t *testing.T) {
	var buf strings.Builder
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	tr := charstate.NewTracker(charstate.TrackerConfig{})

	st := charstate.NewState()
	st.Familiarity = 100
	st.Trust = 1

	// Ceiling and floor hits from valid scores are routine saturation.
	up := tr.Apply(st, charstate.Interaction{Quality: 1})
	down := tr.Apply(st, charstate.Interaction{Quality: -1})

	if up.Familiarity != 100 {
		t.Errorf("familiarity = %v, want 100", up.Familiarity)
	}
	if down.Trust != 0 {
		t.Errorf("trust = %v, want 0", down.Trust)
	}
	if logged := buf.String(); strings.Contains(logged, "clamping") {
		t.Errorf("saturation produced a warning: %s", logged)
	}
}

func TestApply_WarnsOnCorruptStoredScore(t *testing.T) {
	var buf strings.Builder
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	tr := charstate.NewTracker(charstate.TrackerConfig{})

	st := charstate.NewState()
	st.Trust = 150

	out := tr.Apply(st, charstate.Interaction{Quality: 0.5})
	if out.Trust > 100 {
		t.Errorf("trust = %v, want clamped to <= 100", out.Trust)
	}
	if logged := buf.String(); !strings.Contains(logged, "out of range before update") {
		t.Errorf("expected a warning for the corrupt stored score, got: %s", logged)
	}
}
