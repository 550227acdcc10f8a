package profile_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kokorochat/kokoro/internal/profile"
)

const validYAML = `
id: miyu
name: 美羽
description: A shy bookstore clerk.
traits: [shy, bookish]
big_five:
  openness: 0.7
  conscientiousness: 0.8
  extraversion: 0.3
  agreeableness: 0.9
  neuroticism: 0.6
forbidden_words: [老子]
emotion_triggers:
  - keyword: 开心
    emotion: joy
    weight: 0.6
relationships:
  - with: ren
    type: friendly
    affinity: 20
`

func TestLoadFromReader(t *testing.T) {
	t.Parallel()
	p, err := profile.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if p.ID != "miyu" || p.Name != "美羽" {
		t.Errorf("got %q/%q", p.ID, p.Name)
	}
	if p.BigFive.Agreeableness != 0.9 {
		t.Errorf("agreeableness = %v", p.BigFive.Agreeableness)
	}
	if len(p.EmotionTriggers) != 1 || p.EmotionTriggers[0].Keyword != "开心" {
		t.Errorf("triggers = %+v", p.EmotionTriggers)
	}
	if len(p.Relationships) != 1 || p.Relationships[0].With != "ren" {
		t.Errorf("relationships = %+v", p.Relationships)
	}
}

func TestLoadFromReader_RejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	_, err := profile.LoadFromReader(strings.NewReader("id: x\nname: X\nfavourite_colour: blue\n"))
	if err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*profile.Profile)
		wantErr string
	}{
		{"missing id", func(p *profile.Profile) { p.ID = "" }, "id is required"},
		{"missing name", func(p *profile.Profile) { p.Name = "" }, "name is required"},
		{"trait out of range", func(p *profile.Profile) { p.BigFive.Openness = 1.5 }, "out of range [0, 1]"},
		{"empty forbidden word", func(p *profile.Profile) { p.ForbiddenWords = []string{"  "} }, "forbidden_words[0] is empty"},
		{"trigger weight zero", func(p *profile.Profile) { p.EmotionTriggers[0].Weight = 0 }, "out of range (0, 1]"},
		{"trigger weight above one", func(p *profile.Profile) { p.EmotionTriggers[0].Weight = 1.2 }, "out of range (0, 1]"},
		{"trigger without keyword", func(p *profile.Profile) { p.EmotionTriggers[0].Keyword = "" }, "keyword is required"},
		{"relationship without target", func(p *profile.Profile) { p.Relationships[0].With = "" }, "with is required"},
		{"relationship affinity out of range", func(p *profile.Profile) { p.Relationships[0].Affinity = 150 }, "out of range [-100, 100]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := profile.LoadFromReader(strings.NewReader(validYAML))
			if err != nil {
				t.Fatalf("fixture: %v", err)
			}
			tt.mutate(p)
			err = profile.Validate(p)
			if err == nil {
				t.Fatal("Validate accepted an invalid profile")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_JoinsAllFailures(t *testing.T) {
	t.Parallel()
	err := profile.Validate(&profile.Profile{})
	if err == nil {
		t.Fatal("empty profile accepted")
	}
	for _, want := range []string{"id is required", "name is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q", want)
		}
	}
}

func TestLoadDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "miyu.yaml"), validYAML)
	writeFile(t, filepath.Join(dir, "ren.yml"), "id: ren\nname: 小莲\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "not a profile")

	set, err := profile.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(set) != 2 {
		t.Errorf("loaded %d profiles, want 2", len(set))
	}
	if _, err := set.Get("ren"); err != nil {
		t.Errorf("Get(ren): %v", err)
	}
	if _, err := set.Get("nobody"); !errors.Is(err, profile.ErrNotFound) {
		t.Errorf("Get(nobody) = %v, want ErrNotFound", err)
	}
}

func TestLoadDir_DuplicateID(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "id: miyu\nname: A\n")
	writeFile(t, filepath.Join(dir, "b.yaml"), "id: miyu\nname: B\n")

	if _, err := profile.LoadDir(dir); err == nil || !strings.Contains(err.Error(), "duplicate character id") {
		t.Errorf("LoadDir = %v, want duplicate-id error", err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
