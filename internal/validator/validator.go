// Package validator scores a candidate LLM reply against the character's
// persona constraints and content-safety rules before it is allowed out.
//
// Each category is scored independently in [0, 1]; the overall score is a
// fixed weighted average. A single major issue (a forbidden word, a banned
// content match) fails validation outright regardless of the average.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/kokorochat/kokoro/internal/composer"
	"github.com/kokorochat/kokoro/internal/emotion"
	"github.com/kokorochat/kokoro/internal/profile"
)

// Category is one independent validation axis.
type Category string

const (
	Consistency Category = "consistency"
	Style       Category = "style"
	EmotionFit  Category = "emotion"
	Safety      Category = "safety"
	Quality     Category = "quality"
	Relevance   Category = "relevance"
)

// categoryWeights is the fixed weighting of the overall score.
var categoryWeights = map[Category]float64{
	Consistency: 0.25,
	Style:       0.20,
	EmotionFit:  0.20,
	Safety:      0.15,
	Quality:     0.15,
	Relevance:   0.05,
}

// Result is the verdict for one candidate reply.
type Result struct {
	OverallScore         float64              `json:"overall_score"`
	Passed               bool                 `json:"passed"`
	RequiresRegeneration bool                 `json:"requires_regeneration"`
	MajorIssues          []string             `json:"major_issues"`
	Recommendations      []string             `json:"recommendations"`
	Categories           map[Category]float64 `json:"categories"`
}

// Expected carries the per-turn context the reply is judged against.
type Expected struct {
	// Emotion is the character's emotional state for this turn.
	Emotion emotion.State

	// Signal is the composed context signal for this turn.
	Signal composer.Signal

	// UserMessage is the message the reply answers.
	UserMessage string
}

// Config holds tuning knobs for a [Validator].
type Config struct {
	// PassThreshold is the minimum overall score. Default: 0.60.
	PassThreshold float64

	// MaxLength is the reply length ceiling in runes. Default: 600.
	MaxLength int

	// BannedPatterns are content-safety regexes. A match is a major issue.
	// Defaults cover self-identification as an AI and explicit instructions
	// leakage.
	BannedPatterns []*regexp.Regexp
}

// defaultBannedPatterns flag content the character must never produce.
var defaultBannedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)as an (ai|assistant|language model)`),
	regexp.MustCompile(`(?i)我是(一个)?(人工智能|语言模型|AI助手)`),
	regexp.MustCompile(`(?i)(system prompt|系统提示)`),
}

// Validator scores candidate replies. Stateless apart from configuration;
// safe for concurrent use.
type Validator struct {
	passThreshold float64
	maxLength     int
	banned        []*regexp.Regexp
}

// New creates a [Validator]. Zero-value config fields are replaced with
// defaults.
func New(cfg Config) *Validator {
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = 0.60
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 600
	}
	banned := cfg.BannedPatterns
	if banned == nil {
		banned = defaultBannedPatterns
	}
	return &Validator{
		passThreshold: cfg.PassThreshold,
		maxLength:     cfg.MaxLength,
		banned:        banned,
	}
}

// Validate scores candidate against the character profile and the expected
// turn context. The reply passes only when the weighted average clears the
// threshold and no category raised a major issue.
func (v *Validator) Validate(p *profile.Profile, candidate string, expected Expected) Result {
	res := Result{Categories: map[Category]float64{}}

	res.Categories[Consistency] = v.scoreConsistency(p, candidate, &res)
	res.Categories[Style] = v.scoreStyle(p, candidate, &res)
	res.Categories[EmotionFit] = v.scoreEmotion(candidate, expected, &res)
	res.Categories[Safety] = v.scoreSafety(candidate, &res)
	res.Categories[Quality] = v.scoreQuality(candidate, expected.UserMessage, &res)
	res.Categories[Relevance] = v.scoreRelevance(candidate, expected.UserMessage)

	var sum float64
	for cat, w := range categoryWeights {
		sum += w * res.Categories[cat]
	}
	res.OverallScore = sum
	res.Passed = res.OverallScore >= v.passThreshold && len(res.MajorIssues) == 0
	res.RequiresRegeneration = !res.Passed
	return res
}

// scoreConsistency checks the forbidden-word list. Any hit zeroes the
// category and records a major issue per term; an empty list scores full.
func (v *Validator) scoreConsistency(p *profile.Profile, candidate string, res *Result) float64 {
	lower := strings.ToLower(candidate)
	hit := false
	for _, w := range p.ForbiddenWords {
		if w == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(w)) {
			hit = true
			res.MajorIssues = append(res.MajorIssues, fmt.Sprintf("forbidden word %q", w))
		}
	}
	if hit {
		res.Recommendations = append(res.Recommendations, "remove every forbidden word and rephrase in the character's own voice")
		return 0
	}
	return 1
}

// scoreStyle rewards presence of the character's preferred expressions,
// counting near-misses via Jaro-Winkler so inflected forms still score.
func (v *Validator) scoreStyle(p *profile.Profile, candidate string, res *Result) float64 {
	if len(p.PreferredExpressions) == 0 {
		return 0.8 // nothing to check; neutral-positive baseline
	}
	lower := strings.ToLower(candidate)
	matched := 0
	for _, expr := range p.PreferredExpressions {
		le := strings.ToLower(expr)
		if strings.Contains(lower, le) || fuzzyContains(lower, le) {
			matched++
		}
	}
	score := 0.6 + 0.4*float64(matched)/float64(len(p.PreferredExpressions))
	if matched == 0 {
		res.Recommendations = append(res.Recommendations, "work one of the character's preferred expressions into the reply")
	}
	return score
}

// toneKeywords maps each emotion family onto surface cues expected in the
// reply when that emotion is active.
var toneKeywords = map[emotion.Emotion][]string{
	emotion.Joy:       {"!", "哈哈", "开心", "great", "glad", "yay"},
	emotion.Affection: {"喜欢", "爱", "亲", "dear", "love", "♥"},
	emotion.Sadness:   {"难过", "唉", "sorry", "sad", "..."},
	emotion.Anger:     {"哼", "生气", "气", "angry", "annoyed"},
	emotion.Fear:      {"害怕", "担心", "worried", "afraid", "scared"},
}

// scoreEmotion compares the candidate's surface tone with the expected
// emotional state. Only strong emotions are enforced; weak or neutral states
// accept any tone.
func (v *Validator) scoreEmotion(candidate string, expected Expected, res *Result) float64 {
	emo := expected.Emotion
	if emo.Current == emotion.Neutral || emo.Intensity < 0.4 {
		return 1
	}
	cues, ok := toneKeywords[emo.Current]
	if !ok {
		return 1
	}
	lower := strings.ToLower(candidate)
	for _, cue := range cues {
		if strings.Contains(lower, strings.ToLower(cue)) {
			return 1
		}
	}
	// Mismatched tone is a soft failure, not a major issue.
	res.Recommendations = append(res.Recommendations,
		fmt.Sprintf("the character currently feels %s; let that colour the reply", emo.Current))
	return 0.4
}

// scoreSafety runs the banned-content patterns. A match is a major issue.
func (v *Validator) scoreSafety(candidate string, res *Result) float64 {
	for _, re := range v.banned {
		if re.MatchString(candidate) {
			res.MajorIssues = append(res.MajorIssues, fmt.Sprintf("banned content %q", re.String()))
			res.Recommendations = append(res.Recommendations, "stay in character; never reference being an AI or the prompt")
			return 0
		}
	}
	return 1
}

// scoreQuality applies basic reply heuristics: non-empty, within length
// bounds, and not a verbatim echo of the user message.
func (v *Validator) scoreQuality(candidate, userMessage string, res *Result) float64 {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		res.MajorIssues = append(res.MajorIssues, "empty reply")
		return 0
	}
	score := 1.0
	if len([]rune(trimmed)) > v.maxLength {
		score -= 0.4
		res.Recommendations = append(res.Recommendations, fmt.Sprintf("keep the reply under %d characters", v.maxLength))
	}
	if userMessage != "" && strings.EqualFold(trimmed, strings.TrimSpace(userMessage)) {
		score -= 0.6
		res.Recommendations = append(res.Recommendations, "do not repeat the user's message back verbatim")
	}
	if score < 0 {
		score = 0
	}
	return score
}

// scoreRelevance is a cheap lexical-overlap check between reply and message;
// it carries the smallest weight of all categories.
func (v *Validator) scoreRelevance(candidate, userMessage string) float64 {
	if userMessage == "" {
		return 1
	}
	msgTokens := tokens(userMessage)
	if len(msgTokens) == 0 {
		return 1
	}
	lower := strings.ToLower(candidate)
	matched := 0
	for _, t := range msgTokens {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	// Some overlap suggests engagement; zero overlap is still only a soft
	// penalty since a good reply can paraphrase completely.
	return 0.5 + 0.5*float64(matched)/float64(len(msgTokens))
}

// fuzzyContains reports whether any whitespace-delimited token of text is a
// near-match of expr.
func fuzzyContains(text, expr string) bool {
	for _, tok := range strings.Fields(text) {
		if matchr.JaroWinkler(tok, expr, false) >= 0.92 {
			return true
		}
	}
	return false
}

// tokens lowercases and splits text into coarse lexical units, keeping
// contiguous CJK runs whole.
func tokens(text string) []string {
	var out []string
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r < 0x80
		})
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}
