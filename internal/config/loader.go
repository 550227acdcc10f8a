package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required; characters cannot generate responses without a completion backend"))
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
	}

	// Characters
	if cfg.Characters.Dir == "" {
		errs = append(errs, errors.New("characters.dir is required"))
	}

	// Embeddings ↔ persistence dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Persistence.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but persistence.embedding_dimensions is not set; defaulting to 1536")
	}

	// Persistence availability
	if cfg.Persistence.PostgresDSN == "" {
		slog.Warn("persistence.postgres_dsn is empty; sessions and archived memories will not survive restarts")
	}

	// Session
	if cfg.Session.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.idle_timeout %s must not be negative", cfg.Session.IdleTimeout.Std()))
	}
	if cfg.Session.CleanupInterval < 0 {
		errs = append(errs, fmt.Errorf("session.cleanup_interval %s must not be negative", cfg.Session.CleanupInterval.Std()))
	}
	if cfg.Session.MemoryCapacity < 0 {
		errs = append(errs, fmt.Errorf("session.memory_capacity %d must not be negative", cfg.Session.MemoryCapacity))
	}

	// Pipeline
	if cfg.Pipeline.MaxRegenerations < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_regenerations %d must not be negative", cfg.Pipeline.MaxRegenerations))
	}
	if cfg.Pipeline.LLMTimeout < 0 {
		errs = append(errs, fmt.Errorf("pipeline.llm_timeout %s must not be negative", cfg.Pipeline.LLMTimeout.Std()))
	}
	if cfg.Pipeline.PassThreshold < 0 || cfg.Pipeline.PassThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.pass_threshold %.2f is out of range [0, 1]", cfg.Pipeline.PassThreshold))
	}
	if cfg.Pipeline.MaxResponseLength < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_response_length %d must not be negative", cfg.Pipeline.MaxResponseLength))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
