package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kokorochat/kokoro/internal/config"
	"github.com/kokorochat/kokoro/pkg/provider/embeddings"
	embmock "github.com/kokorochat/kokoro/pkg/provider/embeddings/mock"
	"github.com/kokorochat/kokoro/pkg/provider/llm"
	llmmock "github.com/kokorochat/kokoro/pkg/provider/llm/mock"
)

const validYAML = `
server:
  ops_listen_addr: ":9090"
  log_level: info
providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  llm_fallbacks:
    - name: anthropic
      api_key: sk-ant-test
      model: claude-3-5-haiku-latest
  embeddings:
    name: openai
    api_key: sk-test
    model: text-embedding-3-small
characters:
  dir: ./characters
persistence:
  postgres_dsn: "postgres://localhost/kokoro"
  embedding_dimensions: 1536
session:
  idle_timeout: 30m
  cleanup_interval: 5m
  memory_capacity: 100
pipeline:
  max_regenerations: 2
  llm_timeout: 30s
  pass_threshold: 0.6
  max_response_length: 600
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Providers.LLM.Name != "openai" {
		t.Errorf("llm name: got %q, want openai", cfg.Providers.LLM.Name)
	}
	if len(cfg.Providers.LLMFallbacks) != 1 || cfg.Providers.LLMFallbacks[0].Name != "anthropic" {
		t.Errorf("llm_fallbacks: got %+v", cfg.Providers.LLMFallbacks)
	}
	if cfg.Characters.Dir != "./characters" {
		t.Errorf("characters.dir: got %q", cfg.Characters.Dir)
	}
	if cfg.Session.IdleTimeout.Std() != 30*time.Minute {
		t.Errorf("idle_timeout: got %s, want 30m", cfg.Session.IdleTimeout.Std())
	}
	if cfg.Pipeline.LLMTimeout.Std() != 30*time.Second {
		t.Errorf("llm_timeout: got %s, want 30s", cfg.Pipeline.LLMTimeout.Std())
	}
	if cfg.Pipeline.MaxRegenerations != 2 {
		t.Errorf("max_regenerations: got %d, want 2", cfg.Pipeline.MaxRegenerations)
	}
	if cfg.Persistence.EmbeddingDimensions != 1536 {
		t.Errorf("embedding_dimensions: got %d, want 1536", cfg.Persistence.EmbeddingDimensions)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: info
  no_such_field: true
providers:
  llm:
    name: openai
characters:
  dir: ./characters
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_InvalidDuration(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
characters:
  dir: ./characters
session:
  idle_timeout: soon
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "duration") {
		t.Errorf("error should mention duration, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
providers:
  llm:
    name: openai
characters:
  dir: ./characters
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

// --- Registry ---

func TestRegistry_UnknownLLM(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	_, err := r.CreateLLM(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_UnknownEmbeddings(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	_, err := r.CreateEmbeddings(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_RegisteredLLM(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	want := &llmmock.Provider{}
	r.RegisterLLM("mock", func(entry config.ProviderEntry) (llm.Provider, error) {
		return want, nil
	})

	got, err := r.CreateLLM(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != llm.Provider(want) {
		t.Error("CreateLLM returned a different provider")
	}
}

func TestRegistry_RegisteredEmbeddings(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	want := &embmock.Provider{}
	r.RegisterEmbeddings("mock", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return want, nil
	})

	got, err := r.CreateEmbeddings(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != embeddings.Provider(want) {
		t.Error("CreateEmbeddings returned a different provider")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	wantErr := errors.New("bad api key")
	r.RegisterLLM("mock", func(entry config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})

	_, err := r.CreateLLM(config.ProviderEntry{Name: "mock"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}
