package profile

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the character profile YAML file at path and returns a validated
// [Profile]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("profile: open %q: %w", path, err)
	}
	defer f.Close()

	p, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("profile: parse %q: %w", path, err)
	}
	return p, nil
}

// LoadFromReader decodes a profile YAML from r and validates the result.
// Useful in tests where profiles are constructed from string literals.
func LoadFromReader(r io.Reader) (*Profile, error) {
	p := &Profile{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("profile: decode yaml: %w", err)
	}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadDir loads every *.yaml and *.yml file under dir into a [Set].
// Duplicate character IDs across files are an error.
func LoadDir(dir string) (Set, error) {
	set := Set{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		p, err := Load(path)
		if err != nil {
			return err
		}
		if prev, ok := set[p.ID]; ok {
			return fmt.Errorf("profile: duplicate character id %q in %q (already defined as %q)", p.ID, path, prev.Name)
		}
		set[p.ID] = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// Validate checks that p contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(p *Profile) error {
	var errs []error

	if p.ID == "" {
		errs = append(errs, fmt.Errorf("id is required"))
	}
	if p.Name == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}

	for name, v := range map[string]float64{
		"big_five.openness":          p.BigFive.Openness,
		"big_five.conscientiousness": p.BigFive.Conscientiousness,
		"big_five.extraversion":      p.BigFive.Extraversion,
		"big_five.agreeableness":     p.BigFive.Agreeableness,
		"big_five.neuroticism":       p.BigFive.Neuroticism,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s %.2f is out of range [0, 1]", name, v))
		}
	}

	for i, w := range p.ForbiddenWords {
		if strings.TrimSpace(w) == "" {
			errs = append(errs, fmt.Errorf("forbidden_words[%d] is empty", i))
		}
	}

	for i, t := range p.EmotionTriggers {
		prefix := fmt.Sprintf("emotion_triggers[%d]", i)
		if t.Keyword == "" {
			errs = append(errs, fmt.Errorf("%s.keyword is required", prefix))
		}
		if t.Emotion == "" {
			errs = append(errs, fmt.Errorf("%s.emotion is required", prefix))
		}
		if t.Weight <= 0 || t.Weight > 1 {
			errs = append(errs, fmt.Errorf("%s.weight %.2f is out of range (0, 1]", prefix, t.Weight))
		}
	}

	for i, r := range p.Relationships {
		prefix := fmt.Sprintf("relationships[%d]", i)
		if r.With == "" {
			errs = append(errs, fmt.Errorf("%s.with is required", prefix))
		}
		if r.Affinity < -100 || r.Affinity > 100 {
			errs = append(errs, fmt.Errorf("%s.affinity %.1f is out of range [-100, 100]", prefix, r.Affinity))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("profile %q: %w", p.ID, err)
	}
	return nil
}
