package pipeline

import (
	"strings"
	"testing"

	"github.com/kokorochat/kokoro/internal/charstate"
	"github.com/kokorochat/kokoro/internal/composer"
	"github.com/kokorochat/kokoro/internal/emotion"
	"github.com/kokorochat/kokoro/internal/memstore"
	"github.com/kokorochat/kokoro/internal/profile"
	"github.com/kokorochat/kokoro/internal/relnet"
)

func TestBuildSystemPrompt(t *testing.T) {
	t.Parallel()
	p := &profile.Profile{
		ID:                   "miyu",
		Name:                 "Miyu",
		Description:          "A shy bookstore clerk.",
		Traits:               []string{"shy", "bookish"},
		ForbiddenWords:       []string{"老子"},
		PreferredExpressions: []string{"嗯……"},
		MustDo:               []string{"speak softly"},
		MustNotDo:            []string{"raise your voice"},
		FewShot: []profile.Example{
			{User: "你好", Reply: "啊……你、你好。"},
		},
	}
	d := composer.Directive{
		Character: charstate.State{
			Familiarity: 45,
			Trust:       60,
			Energy:      70,
			Level:       charstate.Friend,
		},
		Emotion: emotion.State{Current: emotion.Joy, Intensity: 0.65},
		Memories: []memstore.Entry{
			{Content: "用户喜欢音乐"},
		},
		Signal: composer.Signal{
			ToneShift:      0.5,
			WarmthDelta:    0.4,
			SensitiveTopic: true,
		},
	}

	prompt := buildSystemPrompt(p, d, nil)

	for _, want := range []string{
		"You are Miyu",
		"A shy bookstore clerk.",
		"shy, bookish",
		"joy",
		"friend",
		"用户喜欢音乐",
		"speak softly",
		"raise your voice",
		"老子",
		"嗯……",
		"啊……你、你好。",
		"brighter",
		"affectionate",
		"sensitive topic",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildSystemPrompt_CrossCharacterRelationship(t *testing.T) {
	t.Parallel()
	p := &profile.Profile{ID: "miyu", Name: "Miyu"}
	rel := &crossCharacter{
		other:    &profile.Profile{ID: "ren", Name: "小莲"},
		edge:     relnet.Edge{A: "miyu", B: "ren", Type: relnet.Friendly, Affinity: 35, Trust: 60},
		conflict: false,
	}

	prompt := buildSystemPrompt(p, composer.Directive{}, rel)
	for _, want := range []string{"小莲", "friendly", "affinity 35"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "conflict") {
		t.Error("conflict guidance present without a conflict")
	}

	rel.conflict = true
	prompt = buildSystemPrompt(p, composer.Directive{}, rel)
	if !strings.Contains(prompt, "in conflict with 小莲") {
		t.Error("conflict guidance missing")
	}
}

func TestSignalGuidance_NeutralSignalIsQuiet(t *testing.T) {
	t.Parallel()
	if got := signalGuidance(composer.Signal{ToneShift: 0.1, WarmthDelta: -0.2}); len(got) != 0 {
		t.Errorf("near-neutral signal produced guidance: %v", got)
	}
}
