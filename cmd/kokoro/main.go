// Command kokoro runs the character conversation engine: it loads character
// profiles, wires the LLM provider tier, and serves an interactive console
// chat plus an operational HTTP endpoint for health and metrics.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/kokorochat/kokoro/internal/config"
	"github.com/kokorochat/kokoro/internal/health"
	"github.com/kokorochat/kokoro/internal/observe"
	"github.com/kokorochat/kokoro/internal/pipeline"
	"github.com/kokorochat/kokoro/internal/profile"
	"github.com/kokorochat/kokoro/internal/relnet"
	"github.com/kokorochat/kokoro/internal/resilience"
	"github.com/kokorochat/kokoro/internal/session"
	"github.com/kokorochat/kokoro/pkg/persist"
	persistpg "github.com/kokorochat/kokoro/pkg/persist/postgres"
	"github.com/kokorochat/kokoro/pkg/provider/embeddings"
	ollamaembed "github.com/kokorochat/kokoro/pkg/provider/embeddings/ollama"
	oaembed "github.com/kokorochat/kokoro/pkg/provider/embeddings/openai"
	"github.com/kokorochat/kokoro/pkg/provider/llm"
	"github.com/kokorochat/kokoro/pkg/provider/llm/anyllm"
	oallm "github.com/kokorochat/kokoro/pkg/provider/llm/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	characterID := flag.String("character", "", "character to chat with on the console (default: first loaded profile)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "kokoro: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "kokoro: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("kokoro starting",
		"config", *configPath,
		"ops_listen_addr", cfg.Server.OpsListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Character profiles ────────────────────────────────────────────────────
	profiles, err := profile.LoadDir(cfg.Characters.Dir)
	if err != nil {
		slog.Error("failed to load character profiles", "dir", cfg.Characters.Dir, "err", err)
		return 1
	}
	slog.Info("character profiles loaded", "count", len(profiles), "ids", profiles.IDs())

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	llmTier, err := buildLLMTier(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build LLM provider tier", "err", err)
		return 1
	}

	embedder, err := buildEmbeddingsTier(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build embeddings tier", "err", err)
		return 1
	}

	// ── Persistence ───────────────────────────────────────────────────────────
	var store persist.Store
	if dsn := cfg.Persistence.PostgresDSN; dsn != "" {
		dims := cfg.Persistence.EmbeddingDimensions
		if embedder != nil && embedder.Dimensions() > 0 {
			dims = embedder.Dimensions()
		}
		pgStore, err := persistpg.NewStore(ctx, dsn, dims)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		store = pgStore
		slog.Info("postgres persistence ready", "embedding_dimensions", dims)
	} else {
		store = persist.NewMemoryStore()
		slog.Warn("no postgres DSN configured — sessions persist in memory only")
	}
	defer store.Close()

	// ── Sessions & pipeline ───────────────────────────────────────────────────
	sessions := session.NewRegistry(session.RegistryConfig{
		Store:           store,
		Profiles:        profiles,
		Embedder:        embedder,
		IdleTimeout:     cfg.Session.IdleTimeout.Std(),
		CleanupInterval: cfg.Session.CleanupInterval.Std(),
		MemoryCapacity:  cfg.Session.MemoryCapacity,
		Metrics:         metrics,
	})

	network := relnet.NewNetwork(profiles, relnet.NetworkConfig{})

	turns := pipeline.New(pipeline.Config{
		LLM:               llmTier,
		Profiles:          profiles,
		Network:           network,
		MaxRegenerations:  cfg.Pipeline.MaxRegenerations,
		LLMTimeout:        cfg.Pipeline.LLMTimeout.Std(),
		PassThreshold:     cfg.Pipeline.PassThreshold,
		MaxResponseLength: cfg.Pipeline.MaxResponseLength,
		Metrics:           metrics,
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			logLevel.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.PipelineChanged || diff.SessionChanged {
			slog.Warn("pipeline/session tuning changed on disk — restart to apply")
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Ops HTTP server ───────────────────────────────────────────────────────
	opsServer := newOpsServer(cfg.Server.OpsListenAddr, metrics, profiles, store, llmTier)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sessions.Run(gctx)
	})

	g.Go(func() error {
		slog.Info("ops server listening", "addr", opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return opsServer.Shutdown(shutCtx)
	})

	g.Go(func() error {
		return consoleLoop(gctx, turns, sessions, profiles, *characterID)
	})

	slog.Info("ready — type a message, Ctrl+C to quit")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	flushCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := sessions.Close(flushCtx); err != nil {
		slog.Error("session flush error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// consoleLoop reads user messages from stdin and prints the character's
// replies. It is the minimal interactive surface; a network transport would
// drive the same pipeline.
func consoleLoop(ctx context.Context, turns *pipeline.Pipeline, sessions *session.Registry, profiles profile.Set, characterID string) error {
	if characterID == "" {
		ids := profiles.IDs()
		if len(ids) == 0 {
			return errors.New("no character profiles loaded")
		}
		characterID = ids[0]
	}
	prof, err := profiles.Get(characterID)
	if err != nil {
		return err
	}

	fmt.Printf("Chatting with %s. Type a message and press enter.\n", prof.Name)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			msg := strings.TrimSpace(line)
			if msg == "" {
				continue
			}
			s, err := sessions.GetOrCreate(ctx, characterID, "console")
			if err != nil {
				return err
			}
			res, err := turns.Process(ctx, s, msg)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				slog.Error("turn failed", "err", err)
				continue
			}
			if res.FallbackReason != "" {
				slog.Debug("degraded reply", "reason", res.FallbackReason, "attempts", res.Attempts)
			}
			fmt.Printf("%s: %s\n", prof.Name, res.Reply)
		}
	}
}

// newOpsServer assembles the operational HTTP endpoint: liveness, readiness
// over the engine's real dependencies, and the Prometheus metrics scrape,
// instrumented with the HTTP middleware. Readiness fails when no profiles are
// loaded, the snapshot store stops answering pings, or every LLM tier's
// breaker is open.
func newOpsServer(addr string, metrics *observe.Metrics, profiles profile.Set, store persist.Store, llmTier *resilience.LLMFallback) *http.Server {
	if addr == "" {
		addr = ":9090"
	}
	checkers := []health.Checker{
		{
			Name: "profiles",
			Check: func(context.Context) error {
				if len(profiles) == 0 {
					return errors.New("no character profiles loaded")
				}
				return nil
			},
		},
		health.PingChecker("store", store),
		health.ReadyChecker("llm", llmTier),
	}
	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the shipped provider factories into reg.
// "openai" uses the native SDK connector; the remaining hosted providers go
// through the any-llm bridge.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})
}

// fallbackConfig builds the shared breaker/retry policy for provider tiers.
// Breaker transitions are published as a metric so open circuits show up on
// the ops dashboard without log spelunking.
func fallbackConfig(metrics *observe.Metrics) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				metrics.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
			},
		},
	}
}

// buildLLMTier creates the primary LLM provider plus any configured fallbacks
// and wraps them in the failover group.
func buildLLMTier(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*resilience.LLMFallback, error) {
	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)

	tier := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, fallbackConfig(metrics))
	for _, entry := range cfg.Providers.LLMFallbacks {
		fb, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		tier.AddFallback(entry.Name, fb)
		slog.Info("provider created", "kind", "llm-fallback", "name", entry.Name, "model", entry.Model)
	}
	return tier, nil
}

// buildEmbeddingsTier creates the embeddings provider and any configured
// fallbacks behind the same failover group the LLM tier uses. Returns nil
// when no embeddings backend is configured; the engine then runs without
// archive vectors.
func buildEmbeddingsTier(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (embeddings.Provider, error) {
	if cfg.Providers.Embeddings.Name == "" {
		return nil, nil
	}
	primary, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Providers.Embeddings.Name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Providers.Embeddings.Name)

	tier := resilience.NewEmbeddingsFallback(primary, cfg.Providers.Embeddings.Name, fallbackConfig(metrics))
	for _, entry := range cfg.Providers.EmbeddingsFallbacks {
		fb, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, fmt.Errorf("create embeddings fallback %q: %w", entry.Name, err)
		}
		tier.AddFallback(entry.Name, fb)
		slog.Info("provider created", "kind", "embeddings-fallback", "name", entry.Name, "model", entry.Model)
	}
	return tier, nil
}

// slogLevel maps the config log level onto slog's scale.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
