package config_test

import (
	"strings"
	"testing"

	"github.com/kokorochat/kokoro/internal/config"
)

func TestValidate_MissingLLMProvider(t *testing.T) {
	t.Parallel()
	yaml := `
characters:
  dir: ./characters
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing LLM provider, got nil")
	}
	if !strings.Contains(err.Error(), "providers.llm.name") {
		t.Errorf("error should mention providers.llm.name, got: %v", err)
	}
}

func TestValidate_MissingCharactersDir(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for missing characters dir, got nil")
	}
	if !strings.Contains(err.Error(), "characters.dir") {
		t.Errorf("error should mention characters.dir, got: %v", err)
	}
}

func TestValidate_UnnamedFallback(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  llm:
    name: openai
  llm_fallbacks:
    - model: claude-3-5-haiku-latest
characters:
  dir: ./characters
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unnamed fallback, got nil")
	}
	if !strings.Contains(err.Error(), "llm_fallbacks[0]") {
		t.Errorf("error should mention llm_fallbacks[0], got: %v", err)
	}
}

func TestValidate_NegativeTunables(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	cfg.Providers.LLM.Name = "openai"
	cfg.Characters.Dir = "./characters"
	cfg.Session.MemoryCapacity = -1
	cfg.Pipeline.MaxRegenerations = -1
	cfg.Pipeline.PassThreshold = 1.5

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"memory_capacity", "max_regenerations", "pass_threshold"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	// log level + missing LLM + missing characters dir, joined.
	for _, want := range []string{"log_level", "providers.llm.name", "characters.dir"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"llm", "embeddings"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] is empty", kind)
		}
	}
}
