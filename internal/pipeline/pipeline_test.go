package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kokorochat/kokoro/internal/emotion"
	"github.com/kokorochat/kokoro/internal/memstore"
	"github.com/kokorochat/kokoro/internal/pipeline"
	"github.com/kokorochat/kokoro/internal/profile"
	"github.com/kokorochat/kokoro/internal/relnet"
	"github.com/kokorochat/kokoro/internal/session"
	"github.com/kokorochat/kokoro/pkg/persist"
	"github.com/kokorochat/kokoro/pkg/provider/llm"
	llmmock "github.com/kokorochat/kokoro/pkg/provider/llm/mock"
)

func testProfiles() profile.Set {
	return profile.Set{
		"miyu": {
			ID:             "miyu",
			Name:           "Miyu",
			Description:    "A shy bookstore clerk who opens up slowly.",
			Traits:         []string{"shy", "bookish"},
			ForbiddenWords: []string{"老子", "滚"},
			EmotionTriggers: []profile.Trigger{
				{Keyword: "开心", Emotion: "joy", Weight: 0.6},
				{Keyword: "音乐会", Emotion: "joy", Weight: 0.3},
				{Keyword: "讨厌", Emotion: "anger", Weight: 0.7},
			},
		},
	}
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	r := session.NewRegistry(session.RegistryConfig{
		Store:    persist.NewMemoryStore(),
		Profiles: testProfiles(),
	})
	t.Cleanup(func() { r.Close(context.Background()) })
	s, err := r.GetOrCreate(context.Background(), "miyu", "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	return s
}

func newPipeline(mock *llmmock.Provider) *pipeline.Pipeline {
	return pipeline.New(pipeline.Config{
		LLM:      mock,
		Profiles: testProfiles(),
	})
}

func TestProcess_HappyPath(t *testing.T) {
	t.Parallel()
	mock := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "真的吗？听起来好棒，我也很开心！",
		},
	}
	p := newPipeline(mock)
	s := newTestSession(t)

	res, err := p.Process(context.Background(), s, "今天的音乐会太棒了，我很开心！")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Stage != pipeline.Finalized {
		t.Errorf("stage = %s, want finalized", res.Stage)
	}
	if res.Reply != "真的吗？听起来好棒，我也很开心！" {
		t.Errorf("reply = %q", res.Reply)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.Attempts)
	}
	if res.FallbackReason != "" {
		t.Errorf("fallback reason = %q, want empty", res.FallbackReason)
	}
	if !res.Validation.Passed {
		t.Errorf("validation should pass, got score %v issues %v",
			res.Validation.OverallScore, res.Validation.MajorIssues)
	}

	// The turn committed: emotion advanced and the interaction registered.
	s.Lock()
	defer s.Unlock()
	if s.Emotion.Current != emotion.Joy {
		t.Errorf("committed emotion = %q, want joy", s.Emotion.Current)
	}
	if s.Character.InteractionCount != 1 {
		t.Errorf("interaction count = %d, want 1", s.Character.InteractionCount)
	}
	if s.Character.Familiarity <= 0 {
		t.Errorf("familiarity = %v, want > 0", s.Character.Familiarity)
	}
}

func TestProcess_RegeneratesPastForbiddenWord(t *testing.T) {
	t.Parallel()
	mock := &llmmock.Provider{
		CompleteResponses: []*llm.CompletionResponse{
			{Content: "老子今天很开心！"},
			{Content: "嗯……今天确实很开心呢。"},
		},
	}
	p := newPipeline(mock)
	s := newTestSession(t)

	res, err := p.Process(context.Background(), s, "今天很开心！")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", res.Attempts)
	}
	if res.Reply != "嗯……今天确实很开心呢。" {
		t.Errorf("reply = %q, want the regenerated candidate", res.Reply)
	}
	if res.FallbackReason != "" {
		t.Errorf("fallback reason = %q, want empty", res.FallbackReason)
	}

	// The retry carried a corrective instruction.
	if len(mock.CompleteCalls) != 2 {
		t.Fatalf("Complete calls = %d, want 2", len(mock.CompleteCalls))
	}
	last := mock.CompleteCalls[1].Req.Messages
	if len(last) != 2 || last[1].Role != "system" {
		t.Fatalf("second call messages = %+v, want appended system correction", last)
	}
	if !strings.Contains(last[1].Content, "rejected") {
		t.Errorf("corrective instruction = %q", last[1].Content)
	}
}

func TestProcess_RetriesExhaustedUsesFallback(t *testing.T) {
	t.Parallel()
	mock := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "滚开，老子没空。"},
	}
	p := newPipeline(mock)
	s := newTestSession(t)

	res, err := p.Process(context.Background(), s, "今天很开心！")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Stage != pipeline.Finalized {
		t.Errorf("stage = %s, want finalized", res.Stage)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 regenerations)", res.Attempts)
	}
	if res.FallbackReason != pipeline.ReasonValidationFailed {
		t.Errorf("fallback reason = %q, want %q", res.FallbackReason, pipeline.ReasonValidationFailed)
	}
	if res.Reply == "" || strings.Contains(res.Reply, "老子") {
		t.Errorf("fallback reply = %q, must be safe and non-empty", res.Reply)
	}

	// A degraded turn still advances state.
	s.Lock()
	defer s.Unlock()
	if s.Character.InteractionCount != 1 {
		t.Errorf("interaction count = %d, want 1", s.Character.InteractionCount)
	}
}

func TestProcess_ProviderErrorUsesFallback(t *testing.T) {
	t.Parallel()
	mock := &llmmock.Provider{CompleteErr: errors.New("all providers down")}
	p := newPipeline(mock)
	s := newTestSession(t)

	res, err := p.Process(context.Background(), s, "你好")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.FallbackReason != pipeline.ReasonProviderError {
		t.Errorf("fallback reason = %q, want %q", res.FallbackReason, pipeline.ReasonProviderError)
	}
	if res.Reply == "" {
		t.Error("fallback reply must be non-empty")
	}
}

func TestProcess_CancelledContextDiscards(t *testing.T) {
	t.Parallel()
	mock := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "好呀！"},
	}
	p := newPipeline(mock)
	s := newTestSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := p.Process(ctx, s, "今天很开心！")
	if err == nil {
		t.Fatal("Process with cancelled context should fail")
	}
	if res.Stage != pipeline.Discarded {
		t.Errorf("stage = %s, want discarded", res.Stage)
	}

	// A discarded turn commits nothing.
	s.Lock()
	defer s.Unlock()
	if s.Emotion.Current != emotion.Neutral {
		t.Errorf("emotion = %q, want untouched neutral", s.Emotion.Current)
	}
	if s.Character.InteractionCount != 0 {
		t.Errorf("interaction count = %d, want 0", s.Character.InteractionCount)
	}
	if s.Memories.Len() != 0 {
		t.Errorf("memory count = %d, want 0", s.Memories.Len())
	}
}

func TestProcess_ExtractsMemories(t *testing.T) {
	t.Parallel()
	mock := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "音乐真好呢，我也喜欢！"},
	}
	p := newPipeline(mock)
	s := newTestSession(t)

	if _, err := p.Process(context.Background(), s, "我喜欢音乐"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	s.Lock()
	defer s.Unlock()
	if s.Memories.Len() == 0 {
		t.Fatal("preference message should extract at least one memory")
	}
	entries := s.Memories.Entries()
	found := false
	for _, e := range entries {
		if e.Type == memstore.Preference {
			found = true
		}
	}
	if !found {
		t.Errorf("no preference entry among %+v", entries)
	}
	if s.Character.TopicPreferences["音乐"] <= 0 {
		t.Errorf("topic preference for 音乐 = %v, want an increase from a stated preference",
			s.Character.TopicPreferences["音乐"])
	}
}

func TestProcess_MentionedCharacterUpdatesNetwork(t *testing.T) {
	t.Parallel()
	profiles := testProfiles()
	profiles["ren"] = &profile.Profile{ID: "ren", Name: "小莲"}
	network := relnet.NewNetwork(profiles, relnet.NetworkConfig{})

	mock := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "嗯，小莲人很好，我们常一起喝茶。",
		},
	}
	p := pipeline.New(pipeline.Config{
		LLM:      mock,
		Profiles: profiles,
		Network:  network,
	})
	r := session.NewRegistry(session.RegistryConfig{
		Store:    persist.NewMemoryStore(),
		Profiles: profiles,
	})
	t.Cleanup(func() { r.Close(context.Background()) })
	s, err := r.GetOrCreate(context.Background(), "miyu", "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if _, err := p.Process(context.Background(), s, "我今天见到小莲了，她很开心！"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	edge := network.Get("miyu", "ren")
	if edge.InteractionCount != 1 {
		t.Errorf("InteractionCount = %d, want 1 after a mention", edge.InteractionCount)
	}

	// The second character appears in the generation prompt.
	if len(mock.CompleteCalls) == 0 {
		t.Fatal("no completion call captured")
	}
	if !strings.Contains(mock.CompleteCalls[0].Req.SystemPrompt, "小莲") {
		t.Error("system prompt does not mention the second character")
	}
}

func TestProcess_NoMentionLeavesNetworkAlone(t *testing.T) {
	t.Parallel()
	profiles := testProfiles()
	profiles["ren"] = &profile.Profile{ID: "ren", Name: "小莲"}
	network := relnet.NewNetwork(profiles, relnet.NetworkConfig{})

	mock := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "嗯……今天过得怎么样？"},
	}
	p := pipeline.New(pipeline.Config{LLM: mock, Profiles: profiles, Network: network})
	r := session.NewRegistry(session.RegistryConfig{
		Store:    persist.NewMemoryStore(),
		Profiles: profiles,
	})
	t.Cleanup(func() { r.Close(context.Background()) })
	s, err := r.GetOrCreate(context.Background(), "miyu", "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if _, err := p.Process(context.Background(), s, "你好呀"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := network.Get("miyu", "ren").InteractionCount; got != 0 {
		t.Errorf("InteractionCount = %d, want 0 without a mention", got)
	}
}

// stubRecaller serves canned archive hits for recall tests.
type stubRecaller struct {
	entries []memstore.Entry
	err     error
	calls   int
}

func (r *stubRecaller) Recall(_ context.Context, _ string, topK int) ([]memstore.Entry, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	if len(r.entries) > topK {
		return r.entries[:topK], nil
	}
	return r.entries, nil
}

func TestProcess_ArchiveRecallReachesPrompt(t *testing.T) {
	t.Parallel()
	mock := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "我记得的，你上次提过养了一只猫。"},
	}
	p := newPipeline(mock)
	s := newTestSession(t)

	// Empty working memory: the archive is the only source.
	recaller := &stubRecaller{entries: []memstore.Entry{
		{ID: "mem-old-1", Type: memstore.Factual, Importance: memstore.High, Content: "用户养了一只叫雪球的猫"},
	}}
	s.Archive = recaller

	if _, err := p.Process(context.Background(), s, "还记得我家的宠物吗？"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if recaller.calls == 0 {
		t.Fatal("archive recall was never consulted")
	}
	if len(mock.CompleteCalls) == 0 {
		t.Fatal("no completion call made")
	}
	if got := mock.CompleteCalls[0].Req.SystemPrompt; !strings.Contains(got, "雪球") {
		t.Errorf("recalled memory missing from system prompt:\n%s", got)
	}
}

func TestProcess_ArchiveRecallFailureIsNonFatal(t *testing.T) {
	t.Parallel()
	mock := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "嗯，今天过得怎么样？"},
	}
	p := newPipeline(mock)
	s := newTestSession(t)
	s.Archive = &stubRecaller{err: errors.New("archive down")}

	res, err := p.Process(context.Background(), s, "你好呀")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Stage != pipeline.Finalized {
		t.Errorf("stage = %s, want finalized", res.Stage)
	}
}
