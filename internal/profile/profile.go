// Package profile provides the immutable character profile schema and its
// YAML loader. A profile bundles everything that is static about a character:
// personality traits, Big-Five scores, vocabulary constraints, behaviour
// rules, few-shot examples, and the emotion trigger dictionary.
//
// Profiles are read-only configuration. They are loaded once at startup and
// never mutated at runtime; every component that consumes one receives the
// same shared pointer.
package profile

import "errors"

// ErrNotFound is returned by [Set.Get] when no profile exists for the
// requested character ID.
var ErrNotFound = errors.New("profile: character not found")

// BigFive holds the five-factor personality scores for a character.
// All fields are in [0, 1].
type BigFive struct {
	Openness          float64 `yaml:"openness"`
	Conscientiousness float64 `yaml:"conscientiousness"`
	Extraversion      float64 `yaml:"extraversion"`
	Agreeableness     float64 `yaml:"agreeableness"`
	Neuroticism       float64 `yaml:"neuroticism"`
}

// Trigger is one weighted keyword in a character's emotion trigger dictionary.
type Trigger struct {
	// Keyword is the substring matched against the user message.
	Keyword string `yaml:"keyword"`

	// Emotion is the emotion the keyword pulls toward (e.g., "joy", "anger").
	Emotion string `yaml:"emotion"`

	// Weight is the trigger strength in (0, 1]. Multiple triggers for the same
	// emotion in one message accumulate.
	Weight float64 `yaml:"weight"`
}

// Example is a single few-shot exchange included in the prompt.
type Example struct {
	User  string `yaml:"user"`
	Reply string `yaml:"reply"`
}

// Relationship pre-seeds an edge in the relationship network between this
// character and another.
type Relationship struct {
	// With is the other character's ID.
	With string `yaml:"with"`

	// Type is the seeded edge type: rival, friendly, neutral, romantic,
	// or antagonistic.
	Type string `yaml:"type"`

	// Affinity is the seeded affinity score in [-100, 100].
	Affinity float64 `yaml:"affinity"`
}

// Profile is the full static definition of one character.
type Profile struct {
	// ID uniquely identifies the character (e.g., "miyu"). Required.
	ID string `yaml:"id"`

	// Name is the character's display name. Required.
	Name string `yaml:"name"`

	// Description is a free-text persona summary consumed by the prompt builder.
	Description string `yaml:"description"`

	// Traits lists short personality descriptors (e.g., "shy", "bookish").
	Traits []string `yaml:"traits"`

	// BigFive holds the five-factor personality scores, used for
	// inter-character compatibility seeding.
	BigFive BigFive `yaml:"big_five"`

	// ForbiddenWords must never appear in a generated reply. A single
	// occurrence fails validation outright.
	ForbiddenWords []string `yaml:"forbidden_words"`

	// PreferredExpressions are vocabulary the character favours; their
	// presence raises the style score during validation.
	PreferredExpressions []string `yaml:"preferred_expressions"`

	// MustDo and MustNotDo are behaviour rules forwarded to the prompt builder.
	MustDo    []string `yaml:"must_do"`
	MustNotDo []string `yaml:"must_not_do"`

	// FewShot holds example exchanges forwarded to the prompt builder.
	FewShot []Example `yaml:"few_shot"`

	// EmotionTriggers is the weighted keyword dictionary driving the emotion
	// state machine for this character.
	EmotionTriggers []Trigger `yaml:"emotion_triggers"`

	// SensitiveTopics extends the built-in sensitive-topic denylist for this
	// character.
	SensitiveTopics []string `yaml:"sensitive_topics"`

	// Relationships pre-seeds relationship network edges.
	Relationships []Relationship `yaml:"relationships"`
}

// Set is a read-only collection of profiles keyed by character ID.
type Set map[string]*Profile

// Get returns the profile for id, or [ErrNotFound].
func (s Set) Get(id string) (*Profile, error) {
	p, ok := s[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// IDs returns all character IDs in the set, in unspecified order.
func (s Set) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}
