package memstore

import (
	"strings"
	"unicode"

	"github.com/kokorochat/kokoro/internal/emotion"
)

// Extraction is heuristic: a turn is classified into zero or more memory
// types via marker phrases, with importance assigned from explicit cues, the
// emotional intensity at extraction time, and keyword salience. The marker
// lists are bilingual because the deployed characters converse in both
// Chinese and English.

var preferenceMarkers = []string{
	"我喜欢", "我爱", "我最爱", "最喜欢", "我讨厌", "我不喜欢",
	"i like", "i love", "i hate", "i prefer", "my favorite", "my favourite",
}

var factualMarkers = []string{
	"我是", "我叫", "我住在", "我今年", "我的工作",
	"my name is", "i am ", "i'm ", "i live in", "i work",
}

var behavioralMarkers = []string{
	"总是", "每天", "经常", "习惯", "每次",
	"always", "every day", "usually", "every time",
}

var relationshipMarkers = []string{
	"朋友", "家人", "妈妈", "爸爸", "哥哥", "姐姐", "男朋友", "女朋友",
	"friend", "mother", "father", "sister", "brother", "boyfriend", "girlfriend", "family",
}

var importanceCues = []string{
	"记住", "重要", "一定要", "别忘了",
	"remember", "important", "never forget", "don't forget",
}

// emotionalIntensityFloor is the emotion intensity at which a turn also
// produces an emotional memory.
const emotionalIntensityFloor = 0.6

// Extract classifies the turn into memory entries. userMessage drives the
// classification; characterResponse is folded into the stored content so the
// memory captures the exchange, not just the prompt. Entries come back
// without IDs or timestamps; [Store.Insert] assigns both.
func Extract(userMessage, characterResponse string, emo emotion.State) []Entry {
	var out []Entry
	lower := strings.ToLower(userMessage)

	appendEntry := func(t Type, keywords []string) {
		out = append(out, Entry{
			Type:       t,
			Importance: classifyImportance(lower, emo, keywords),
			Content:    buildContent(userMessage, characterResponse),
			Keywords:   keywords,
			Emotions:   entryEmotions(emo),
		})
	}

	if marker, ok := firstMarker(lower, preferenceMarkers); ok {
		// The captured object of the preference is the keyword that matters;
		// fall back to plain tokens when capture finds nothing.
		keywords := captureAfter(userMessage, marker)
		if len(keywords) == 0 {
			keywords = Tokenize(userMessage)
		}
		appendEntry(Preference, keywords)
	}
	if _, ok := firstMarker(lower, factualMarkers); ok {
		appendEntry(Factual, Tokenize(userMessage))
	}
	if _, ok := firstMarker(lower, behavioralMarkers); ok {
		appendEntry(Behavioral, Tokenize(userMessage))
	}
	if _, ok := firstMarker(lower, relationshipMarkers); ok {
		appendEntry(Relationship, Tokenize(userMessage))
	}
	if len(out) == 0 && emo.Intensity >= emotionalIntensityFloor {
		appendEntry(Emotional, Tokenize(userMessage))
	}

	return out
}

var negativePreferenceMarkers = []string{
	"我讨厌", "我不喜欢", "i hate", "i dislike", "i don't like",
}

// PreferencePolarity reports the sentiment of a preference statement: +1 for
// liking, -1 for disliking, 0 when the message states no preference. The
// pipeline folds this into interaction quality so a plainly stated preference
// moves topic affinity even on an emotionally flat turn.
func PreferencePolarity(userMessage string) float64 {
	lower := strings.ToLower(userMessage)
	if _, ok := firstMarker(lower, negativePreferenceMarkers); ok {
		return -1
	}
	if _, ok := firstMarker(lower, preferenceMarkers); ok {
		return 1
	}
	return 0
}

// DetectTopic returns the turn's dominant topic, preferring the object of a
// preference statement and falling back to the longest content token.
// Returns "" when nothing salient is found.
func DetectTopic(userMessage string) string {
	lower := strings.ToLower(userMessage)
	if marker, ok := firstMarker(lower, preferenceMarkers); ok {
		if captured := captureAfter(userMessage, marker); len(captured) > 0 {
			return captured[0]
		}
	}

	longest := ""
	for _, tok := range Tokenize(userMessage) {
		if len([]rune(tok)) > len([]rune(longest)) {
			longest = tok
		}
	}
	return longest
}

// classifyImportance buckets an entry into the four importance levels.
// An explicit cue phrase is an immediate critical; otherwise emotional
// intensity and keyword salience are blended and cut at fixed thresholds.
func classifyImportance(lowerMessage string, emo emotion.State, keywords []string) Importance {
	if _, ok := firstMarker(lowerMessage, importanceCues); ok {
		return Critical
	}

	salience := float64(len(keywords)) / 5
	if salience > 1 {
		salience = 1
	}
	score := 0.6*emo.Intensity + 0.4*salience
	switch {
	case score >= 0.6:
		return High
	case score >= 0.3:
		return Medium
	default:
		return Low
	}
}

func entryEmotions(emo emotion.State) []string {
	if emo.Current == emotion.Neutral || emo.Intensity == 0 {
		return nil
	}
	return []string{string(emo.Current)}
}

func buildContent(userMessage, characterResponse string) string {
	if characterResponse == "" {
		return userMessage
	}
	return userMessage + " / " + characterResponse
}

// firstMarker returns the first marker found as a substring of lower.
func firstMarker(lower string, markers []string) (string, bool) {
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return m, true
		}
	}
	return "", false
}

// captureAfter extracts the phrase immediately following marker in message,
// cut at the first punctuation or whitespace boundary. This is how the
// object of a preference statement ("我喜欢音乐" -> "音乐") becomes a keyword
// without a segmenter.
func captureAfter(message, marker string) []string {
	idx := strings.Index(strings.ToLower(message), marker)
	if idx < 0 {
		return nil
	}
	rest := message[idx+len(marker):]
	rest = strings.TrimLeft(rest, " \t")

	var b strings.Builder
	for _, r := range rest {
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			break
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return nil
	}
	return []string{b.String()}
}

// latinStopwords are dropped during tokenisation. CJK text is not segmented;
// contiguous Han runs become single tokens and match via containment.
var latinStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"i": {}, "you": {}, "he": {}, "she": {}, "it": {}, "we": {}, "they": {},
	"is": {}, "am": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"to": {}, "of": {}, "in": {}, "on": {}, "at": {}, "for": {}, "with": {},
	"my": {}, "your": {}, "me": {}, "do": {}, "did": {}, "not": {},
}

// Tokenize splits text into keyword candidates: runs of Latin letters and
// digits (lowercased, stopwords and single characters dropped) and runs of
// Han characters of at least two runes.
func Tokenize(text string) []string {
	var tokens []string
	var latin, han []rune

	flushLatin := func() {
		if len(latin) >= 2 {
			tok := strings.ToLower(string(latin))
			if _, stop := latinStopwords[tok]; !stop {
				tokens = append(tokens, tok)
			}
		}
		latin = latin[:0]
	}
	flushHan := func() {
		if len(han) >= 2 {
			tokens = append(tokens, string(han))
		}
		han = han[:0]
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushLatin()
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushHan()
			latin = append(latin, r)
		default:
			flushLatin()
			flushHan()
		}
	}
	flushLatin()
	flushHan()

	return dedup(tokens)
}

func dedup(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
