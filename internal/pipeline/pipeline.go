// Package pipeline drives one conversational turn through its full
// lifecycle: state update, memory retrieval, context composition, generation,
// validation, and the atomic commit of everything back onto the session.
//
// All session mutations computed during a turn live in a scratchpad and are
// applied only when the turn reaches Finalized. A turn that is Discarded
// (context cancellation, illegal transition) leaves the session exactly as it
// found it.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/kokorochat/kokoro/internal/charstate"
	"github.com/kokorochat/kokoro/internal/composer"
	"github.com/kokorochat/kokoro/internal/emotion"
	"github.com/kokorochat/kokoro/internal/memstore"
	"github.com/kokorochat/kokoro/internal/observe"
	"github.com/kokorochat/kokoro/internal/profile"
	"github.com/kokorochat/kokoro/internal/relnet"
	"github.com/kokorochat/kokoro/internal/session"
	"github.com/kokorochat/kokoro/internal/validator"
	"github.com/kokorochat/kokoro/pkg/provider/llm"
)

// ErrRetriesExhausted marks a turn whose every candidate failed validation.
// The pipeline maps it to the fallback reply internally; it never reaches the
// user as a raw error.
var ErrRetriesExhausted = errors.New("pipeline: generation retries exhausted")

// Default tuning.
const (
	defaultMaxRegenerations = 2
	defaultLLMTimeout       = 30 * time.Second
	defaultRetrievalTopK    = 5
	defaultTemperature      = 0.8
)

// fallbackReply is the safe reply used when no candidate survives validation
// or the provider tier is down. Deliberately bland; it must not assert
// anything about the character's state.
const fallbackReply = "嗯……让我想一想。能换个方式再说一遍吗？"

// Fallback reasons reported on a degraded turn.
const (
	ReasonValidationFailed = "validation_failed"
	ReasonProviderError    = "provider_error"
)

// Result is the outcome of one finalized turn.
type Result struct {
	// Reply is the text to show the user. Always set on a finalized turn.
	Reply string

	// Stage is the terminal stage, Finalized or Discarded.
	Stage Stage

	// Attempts is the number of generation calls made.
	Attempts int

	// Validation is the verdict for the reply that was ultimately used.
	// Zero-valued when the provider tier failed outright.
	Validation validator.Result

	// FallbackReason is empty on a clean turn, otherwise one of the Reason
	// constants.
	FallbackReason string

	// Signal is the context signal the turn was generated under.
	Signal composer.Signal
}

// Config holds the dependencies and tuning for a [Pipeline].
type Config struct {
	// LLM generates candidate replies. Required. Typically the resilience
	// fallback group rather than a bare provider.
	LLM llm.Provider

	// Profiles is the loaded character set. Required.
	Profiles profile.Set

	// Network tracks cross-character relationships. Defaults to a fresh
	// network seeded from Profiles.
	Network *relnet.Network

	// MaxRegenerations bounds validation-triggered retries per turn.
	// Default: 2.
	MaxRegenerations int

	// LLMTimeout bounds each individual generation call. Default: 30s.
	LLMTimeout time.Duration

	// PassThreshold is forwarded to the validator. Zero means the validator
	// default.
	PassThreshold float64

	// MaxResponseLength is forwarded to the validator. Zero means the
	// validator default.
	MaxResponseLength int

	// RetrievalTopK is how many memories are retrieved per turn. Default: 5.
	RetrievalTopK int

	// Metrics receives turn instrumentation. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Pipeline processes turns. Stateless across turns apart from configuration;
// safe for concurrent use against distinct sessions. Turns against the same
// session serialize on the session lock.
type Pipeline struct {
	llm       llm.Provider
	profiles  profile.Set
	network   *relnet.Network
	machine   *emotion.Machine
	tracker   *charstate.Tracker
	validator *validator.Validator
	composers map[string]*composer.Composer

	maxRegenerations int
	llmTimeout       time.Duration
	retrievalTopK    int
	metrics          *observe.Metrics
}

// turn is the scratchpad for one in-flight turn. Nothing in it touches the
// session until commit.
type turn struct {
	stage     Stage
	userMsg   string
	topic     string
	quality   float64
	emotion   emotion.State
	character charstate.State
	retrieved []memstore.Entry
	signal    composer.Signal
	reply     string

	// mentioned is the ID of a second character named in the message, ""
	// when the turn involves only the session's own character.
	mentioned string
}

// New creates a [Pipeline]. Zero-value config fields are replaced with
// defaults; a nil LLM or empty profile set is a programming error surfaced on
// the first turn.
func New(cfg Config) *Pipeline {
	if cfg.MaxRegenerations <= 0 {
		cfg.MaxRegenerations = defaultMaxRegenerations
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = defaultLLMTimeout
	}
	if cfg.RetrievalTopK <= 0 {
		cfg.RetrievalTopK = defaultRetrievalTopK
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Network == nil {
		cfg.Network = relnet.NewNetwork(cfg.Profiles, relnet.NetworkConfig{})
	}

	composers := make(map[string]*composer.Composer, len(cfg.Profiles))
	for id, p := range cfg.Profiles {
		composers[id] = composer.New(composer.ComposerConfig{
			SensitiveTopics: p.SensitiveTopics,
		})
	}

	return &Pipeline{
		llm:      cfg.LLM,
		profiles: cfg.Profiles,
		network:  cfg.Network,
		machine:  emotion.NewMachine(emotion.MachineConfig{}),
		tracker:  charstate.NewTracker(charstate.TrackerConfig{}),
		validator: validator.New(validator.Config{
			PassThreshold: cfg.PassThreshold,
			MaxLength:     cfg.MaxResponseLength,
		}),
		composers:        composers,
		maxRegenerations: cfg.MaxRegenerations,
		llmTimeout:       cfg.LLMTimeout,
		retrievalTopK:    cfg.RetrievalTopK,
		metrics:          cfg.Metrics,
	}
}

// Process runs one turn for the given session and user message. It holds the
// session lock for the whole turn. On success the returned result is
// Finalized; a cancelled context returns ctx's error with a Discarded result
// and no session mutation.
func (p *Pipeline) Process(ctx context.Context, s *session.Session, userMessage string) (*Result, error) {
	start := time.Now()

	s.Lock()
	defer s.Unlock()

	prof, err := p.profiles.Get(s.CharacterID)
	if err != nil {
		return nil, err
	}

	t := &turn{stage: Received, userMsg: userMessage}
	res, err := p.run(ctx, s, prof, t)
	if err != nil {
		p.recordTurn(ctx, s.CharacterID, string(t.stage), time.Since(start))
		return res, err
	}

	p.commit(ctx, s, t)
	res.Stage = t.stage
	p.recordTurn(ctx, s.CharacterID, string(Finalized), time.Since(start))
	p.metrics.RecordCharacterReply(ctx, s.CharacterID)
	return res, nil
}

// run walks the stage machine up to (but not including) the commit. The
// returned result is complete except for its Stage field.
func (p *Pipeline) run(ctx context.Context, s *session.Session, prof *profile.Profile, t *turn) (*Result, error) {
	// StateUpdated: advance emotion from the message, then fold the derived
	// interaction quality into character state. Buffered, not committed.
	if err := p.step(ctx, t, StateUpdated); err != nil {
		return &Result{Stage: t.stage}, err
	}
	t.emotion = p.machine.Update(s.Emotion, t.userMsg, prof.EmotionTriggers)
	t.topic = memstore.DetectTopic(t.userMsg)
	t.quality = charstate.QualityFromEmotion(t.emotion.Current, t.emotion.Intensity)
	if pol := memstore.PreferencePolarity(t.userMsg); pol != 0 {
		t.quality = clampQuality(t.quality + 0.4*pol)
	}
	t.character = p.tracker.Apply(s.Character, charstate.Interaction{
		Quality: t.quality,
		Topic:   t.topic,
		Emotion: t.emotion.Current,
	})
	t.mentioned = p.mentionedCharacter(s.CharacterID, t.userMsg)

	// MemoryProcessed: rank without recording accesses; Touch happens at
	// commit so a discarded turn leaves access counts alone.
	if err := p.step(ctx, t, MemoryProcessed); err != nil {
		return &Result{Stage: t.stage}, err
	}
	t.retrieved = s.Memories.Search(t.userMsg, p.retrievalTopK)
	p.recallFromArchive(ctx, s, t)

	// ContextComposed.
	if err := p.step(ctx, t, ContextComposed); err != nil {
		return &Result{Stage: t.stage}, err
	}
	comp := p.composers[s.CharacterID]
	t.signal = comp.Compose(t.character, t.emotion, composer.Turn{
		Message: t.userMsg,
		Topic:   t.topic,
	})
	directive := composer.Directive{
		Character: t.character,
		Emotion:   t.emotion,
		Memories:  t.retrieved,
		Signal:    t.signal,
	}

	return p.generate(ctx, s, prof, t, directive)
}

// recallFromArchive tops up the retrieved set from the character's durable
// archive when the working memory came up short: a restored session whose
// working set was evicted long ago can still surface old memories this way.
// Recall is best-effort; a failing archive never blocks the turn.
func (p *Pipeline) recallFromArchive(ctx context.Context, s *session.Session, t *turn) {
	if s.Archive == nil || len(t.retrieved) >= p.retrievalTopK {
		return
	}
	recalled, err := s.Archive.Recall(ctx, t.userMsg, p.retrievalTopK-len(t.retrieved))
	if err != nil {
		slog.Debug("pipeline: archive recall failed", "session", s.ID, "error", err)
		return
	}
	have := make(map[string]struct{}, len(t.retrieved))
	for _, e := range t.retrieved {
		have[e.ID] = struct{}{}
	}
	for _, e := range recalled {
		if _, dup := have[e.ID]; dup {
			continue
		}
		t.retrieved = append(t.retrieved, e)
	}
}

// generate runs the generation/validation loop with bounded regeneration.
func (p *Pipeline) generate(ctx context.Context, s *session.Session, prof *profile.Profile, t *turn, directive composer.Directive) (*Result, error) {
	rel := p.relationshipContext(s.CharacterID, t.mentioned)
	if rel != nil && rel.conflict {
		p.metrics.RecordRelationshipConflict(ctx, s.CharacterID, t.mentioned)
	}
	systemPrompt := buildSystemPrompt(prof, directive, rel)
	messages := []llm.Message{{Role: "user", Content: t.userMsg}}

	expected := validator.Expected{
		Emotion:     t.emotion,
		Signal:      t.signal,
		UserMessage: t.userMsg,
	}

	res := &Result{Signal: t.signal}
	var lastVerdict validator.Result
	for attempt := 0; attempt <= p.maxRegenerations; attempt++ {
		if err := p.step(ctx, t, AwaitingGeneration); err != nil {
			return res, err
		}

		candidate, err := p.complete(ctx, llm.CompletionRequest{
			Messages:     messages,
			SystemPrompt: systemPrompt,
			Temperature:  defaultTemperature,
		})
		res.Attempts = attempt + 1
		if err != nil {
			if ctx.Err() != nil {
				t.stage = Discarded
				return res, ctx.Err()
			}
			slog.Error("pipeline: generation failed",
				"session", s.ID,
				"attempt", attempt+1,
				"error", err,
			)
			p.metrics.RecordProviderError(ctx, "llm", "completion")
			res.Reply = fallbackReply
			res.FallbackReason = ReasonProviderError
			t.reply = res.Reply
			if err := p.step(ctx, t, Finalized); err != nil {
				return res, err
			}
			return res, nil
		}

		if err := p.step(ctx, t, Validating); err != nil {
			return res, err
		}
		lastVerdict = p.validator.Validate(prof, candidate, expected)
		if lastVerdict.Passed {
			p.metrics.RecordValidationVerdict(ctx, s.CharacterID, "pass")
			if err := p.step(ctx, t, Accepted); err != nil {
				return res, err
			}
			res.Reply = candidate
			res.Validation = lastVerdict
			t.reply = candidate
			if err := p.step(ctx, t, Finalized); err != nil {
				return res, err
			}
			return res, nil
		}

		p.metrics.RecordValidationVerdict(ctx, s.CharacterID, "fail")
		slog.Warn("pipeline: candidate failed validation",
			"session", s.ID,
			"attempt", attempt+1,
			"score", lastVerdict.OverallScore,
			"major_issues", lastVerdict.MajorIssues,
		)
		if err := p.step(ctx, t, RegenerationRequested); err != nil {
			return res, err
		}
		if attempt < p.maxRegenerations {
			p.metrics.RecordRegeneration(ctx, s.CharacterID)
			messages = append(messages, llm.Message{
				Role:    "system",
				Content: correctiveInstruction(lastVerdict),
			})
		}
	}

	// Retries exhausted: degrade to the safe reply but still finalize the
	// turn so state advances.
	slog.Warn("pipeline: retries exhausted, using fallback reply",
		"session", s.ID,
		"attempts", res.Attempts,
		"error", ErrRetriesExhausted,
	)
	res.Reply = fallbackReply
	res.Validation = lastVerdict
	res.FallbackReason = ReasonValidationFailed
	t.reply = res.Reply
	if err := p.step(ctx, t, Finalized); err != nil {
		return res, err
	}
	return res, nil
}

// complete performs a single bounded generation call.
func (p *Pipeline) complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.llmTimeout)
	defer cancel()

	start := time.Now()
	resp, err := p.llm.Complete(callCtx, req)
	p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// commit applies the turn's buffered state to the session. Called with the
// session lock held and only from a Finalized turn.
func (p *Pipeline) commit(ctx context.Context, s *session.Session, t *turn) {
	s.Emotion = t.emotion
	s.Character = t.character

	ids := make([]string, len(t.retrieved))
	for i, e := range t.retrieved {
		ids[i] = e.ID
	}
	s.Memories.Touch(ids)

	extracted := memstore.Extract(t.userMsg, t.reply, t.emotion)
	for _, e := range extracted {
		s.Memories.Insert(e)
		p.metrics.RecordMemoryExtraction(ctx, string(e.Type), 1)
	}

	if t.mentioned != "" {
		p.network.SimulateInteraction(s.CharacterID, t.mentioned, t.topic, t.quality)
	}

	s.Touch()
}

// mentionedCharacter returns the ID of another known character named in the
// message, preferring the lexically smallest ID when several match.
func (p *Pipeline) mentionedCharacter(selfID, msg string) string {
	lower := strings.ToLower(msg)
	found := ""
	for id, prof := range p.profiles {
		if id == selfID {
			continue
		}
		if !strings.Contains(msg, prof.Name) && !strings.Contains(lower, strings.ToLower(id)) {
			continue
		}
		if found == "" || id < found {
			found = id
		}
	}
	return found
}

// relationshipContext looks up the edge to the mentioned character for the
// prompt builder. Returns nil when the turn involves no second character.
func (p *Pipeline) relationshipContext(selfID, otherID string) *crossCharacter {
	if otherID == "" {
		return nil
	}
	other, err := p.profiles.Get(otherID)
	if err != nil {
		return nil
	}
	return &crossCharacter{
		other:    other,
		edge:     p.network.Get(selfID, otherID),
		conflict: p.network.DetectConflict(selfID, otherID),
	}
}

// step checks for cancellation then advances the stage machine. A cancelled
// context discards the turn.
func (p *Pipeline) step(ctx context.Context, t *turn, to Stage) error {
	if err := ctx.Err(); err != nil {
		t.stage = Discarded
		return err
	}
	if err := t.advance(to); err != nil {
		t.stage = Discarded
		return err
	}
	return nil
}

// recordTurn observes the turn latency histogram with its terminal stage.
func (p *Pipeline) recordTurn(ctx context.Context, characterID, stage string, d time.Duration) {
	p.metrics.TurnDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			observe.Attr("character_id", characterID),
			observe.Attr("stage", stage),
		),
	)
}

func clampQuality(q float64) float64 {
	if q < -1 {
		return -1
	}
	if q > 1 {
		return 1
	}
	return q
}

// correctiveInstruction turns a failed verdict into a regeneration hint.
func correctiveInstruction(v validator.Result) string {
	if len(v.Recommendations) == 0 && len(v.MajorIssues) == 0 {
		return "Your previous reply was rejected. Produce a different reply that stays strictly in character."
	}
	var parts []string
	parts = append(parts, "Your previous reply was rejected for these reasons; produce a corrected reply:")
	for _, issue := range v.MajorIssues {
		parts = append(parts, "- "+issue)
	}
	for _, rec := range v.Recommendations {
		parts = append(parts, "- "+rec)
	}
	return strings.Join(parts, "\n")
}
