package memstore_test

import (
	"reflect"
	"testing"

	"github.com/kokorochat/kokoro/internal/emotion"
	"github.com/kokorochat/kokoro/internal/memstore"
)

func TestExtract_PreferenceCapturesObject(t *testing.T) {
	t.Parallel()
	got := memstore.Extract("我喜欢音乐", "", emotion.State{Current: emotion.Neutral})

	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	e := got[0]
	if e.Type != memstore.Preference {
		t.Errorf("Type = %s, want preference", e.Type)
	}
	if !reflect.DeepEqual(e.Keywords, []string{"音乐"}) {
		t.Errorf("Keywords = %v, want [音乐]", e.Keywords)
	}
	if e.Content != "我喜欢音乐" {
		t.Errorf("Content = %q", e.Content)
	}
}

func TestExtract_Classification(t *testing.T) {
	t.Parallel()
	neutral := emotion.State{Current: emotion.Neutral}

	tests := []struct {
		name    string
		message string
		emo     emotion.State
		types   []memstore.Type
	}{
		{"factual", "我叫小明", neutral, []memstore.Type{memstore.Factual}},
		{"behavioral", "我每天跑步", neutral, []memstore.Type{memstore.Behavioral}},
		{"relationship", "昨天见了我的朋友", neutral, []memstore.Type{memstore.Relationship}},
		{"english preference", "I like jazz", neutral, []memstore.Type{memstore.Preference}},
		{"preference and relationship", "我喜欢我的朋友", neutral,
			[]memstore.Type{memstore.Preference, memstore.Relationship}},
		{"intense emotion without markers", "今天天气不错",
			emotion.State{Current: emotion.Joy, Intensity: 0.7},
			[]memstore.Type{memstore.Emotional}},
		{"mild emotion without markers", "今天天气不错",
			emotion.State{Current: emotion.Joy, Intensity: 0.3}, nil},
		{"nothing salient", "嗯", neutral, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := memstore.Extract(tt.message, "", tt.emo)
			var types []memstore.Type
			for _, e := range got {
				types = append(types, e.Type)
			}
			if !reflect.DeepEqual(types, tt.types) {
				t.Errorf("types = %v, want %v", types, tt.types)
			}
		})
	}
}

func TestExtract_ImportanceCueIsCritical(t *testing.T) {
	t.Parallel()
	got := memstore.Extract("记住，我喜欢音乐", "", emotion.State{Current: emotion.Neutral})
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	if got[0].Importance != memstore.Critical {
		t.Errorf("Importance = %s, want critical", got[0].Importance)
	}
}

func TestExtract_FoldsResponseIntoContent(t *testing.T) {
	t.Parallel()
	got := memstore.Extract("我喜欢音乐", "我也是，最近在听爵士。", emotion.State{Current: emotion.Neutral})
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	want := "我喜欢音乐 / 我也是，最近在听爵士。"
	if got[0].Content != want {
		t.Errorf("Content = %q, want %q", got[0].Content, want)
	}
}

func TestExtract_RecordsActiveEmotion(t *testing.T) {
	t.Parallel()
	got := memstore.Extract("我喜欢音乐", "", emotion.State{Current: emotion.Joy, Intensity: 0.8})
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	if !reflect.DeepEqual(got[0].Emotions, []string{"joy"}) {
		t.Errorf("Emotions = %v, want [joy]", got[0].Emotions)
	}
}

func TestDetectTopic(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, message, want string
	}{
		{"preference object", "我喜欢音乐", "音乐"},
		{"longest latin token", "music is wonderful today", "wonderful"},
		{"han run", "今天天气不错", "今天天气不错"},
		{"nothing", "！！", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := memstore.DetectTopic(tt.message); got != tt.want {
				t.Errorf("DetectTopic(%q) = %q, want %q", tt.message, got, tt.want)
			}
		})
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, text string
		want       []string
	}{
		{"latin lowercased", "I love Jazz", []string{"love", "jazz"}},
		{"stopwords dropped", "the cat and the dog", []string{"cat", "dog"}},
		{"single chars dropped", "a b cd", []string{"cd"}},
		{"han runs split on punctuation", "我喜欢音乐，也喜欢书", []string{"我喜欢音乐", "也喜欢书"}},
		{"single han rune dropped", "书", nil},
		{"mixed scripts", "听jazz的人", []string{"jazz", "的人"}},
		{"dedup preserves order", "音乐 很好 音乐", []string{"音乐", "很好"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := memstore.Tokenize(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestPreferencePolarity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		message string
		want    float64
	}{
		{"我喜欢音乐", 1},
		{"我最爱夏天", 1},
		{"I love jazz", 1},
		{"我讨厌下雨", -1},
		{"我不喜欢吵闹的地方", -1},
		{"I hate mornings", -1},
		{"今天天气不错", 0},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			t.Parallel()
			if got := memstore.PreferencePolarity(tt.message); got != tt.want {
				t.Errorf("PreferencePolarity(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}
