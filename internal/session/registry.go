package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kokorochat/kokoro/internal/charstate"
	"github.com/kokorochat/kokoro/internal/emotion"
	"github.com/kokorochat/kokoro/internal/memstore"
	"github.com/kokorochat/kokoro/internal/observe"
	"github.com/kokorochat/kokoro/internal/profile"
	"github.com/kokorochat/kokoro/pkg/persist"
	"github.com/kokorochat/kokoro/pkg/provider/embeddings"
)

// Default registry tuning.
const (
	defaultIdleTimeout     = 30 * time.Minute
	defaultCleanupInterval = 5 * time.Minute
)

// RegistryConfig holds the dependencies and tuning for a [Registry].
type RegistryConfig struct {
	// Store persists snapshots and archived memories. Required.
	Store persist.Store

	// Profiles is the loaded character set; lookups validate against it.
	Profiles profile.Set

	// Embedder optionally embeds archived memories for similarity search.
	// May be nil.
	Embedder embeddings.Provider

	// IdleTimeout is the inactivity window after which a session is flushed
	// and removed. Default: 30m.
	IdleTimeout time.Duration

	// CleanupInterval is the idle-sweep period. Default: 5m.
	CleanupInterval time.Duration

	// MemoryCapacity caps each session's working memory. Default: 100.
	MemoryCapacity int

	// Metrics receives the active-session gauge and eviction counters.
	// Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Registry tracks live sessions by ID. Lookups restore persisted snapshots
// transparently, and an idle sweep flushes sessions back to the store when
// they go quiet. All exported methods are safe for concurrent use.
type Registry struct {
	store    persist.Store
	profiles profile.Set
	embedder embeddings.Provider

	idleTimeout     time.Duration
	cleanupInterval time.Duration
	memoryCapacity  int
	metrics         *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewRegistry creates a [Registry]. Zero-value config fields are replaced
// with defaults.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}
	if cfg.MemoryCapacity <= 0 {
		cfg.MemoryCapacity = 100
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Registry{
		store:           cfg.Store,
		profiles:        cfg.Profiles,
		embedder:        cfg.Embedder,
		idleTimeout:     cfg.IdleTimeout,
		cleanupInterval: cfg.CleanupInterval,
		memoryCapacity:  cfg.MemoryCapacity,
		metrics:         cfg.Metrics,
		sessions:        make(map[string]*Session),
	}
}

// GetOrCreate returns the live session for (characterID, userID), restoring
// a persisted snapshot if one exists, or creating a fresh session otherwise.
// The character must be a loaded profile.
func (r *Registry) GetOrCreate(ctx context.Context, characterID, userID string) (*Session, error) {
	if _, err := r.profiles.Get(characterID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("session: registry is closed")
	}

	id := Key(characterID, userID)
	if s, ok := r.sessions[id]; ok {
		return s, nil
	}

	s := r.newSession(id, characterID, userID)
	if data, err := r.store.LoadSnapshot(ctx, characterID, id); err == nil {
		if err := s.restore(data); err != nil {
			slog.Warn("session: discarding unreadable snapshot",
				"session", id,
				"error", err,
			)
		} else {
			slog.Info("session: restored from snapshot",
				"session", id,
				"memories", s.Memories.Len(),
			)
		}
	} else if !errors.Is(err, persist.ErrNotFound) {
		return nil, fmt.Errorf("session: load snapshot for %s: %w", id, err)
	}

	r.sessions[id] = s
	r.metrics.ActiveSessions.Add(ctx, 1)
	return s, nil
}

// Get returns the live session with the given ID, or false when none exists.
// It never touches the persistence layer.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Remove flushes the session's snapshot to the store and drops it from the
// registry. Removing an unknown ID is a no-op.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	r.metrics.ActiveSessions.Add(ctx, -1)
	return r.flush(ctx, s)
}

// Run drives the idle sweep until ctx is cancelled. It is meant to be run
// under an errgroup alongside the other background loops; it returns ctx's
// cause on shutdown so the group unwinds.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep expires sessions idle past the timeout and runs each surviving
// session's memory expiry pass.
func (r *Registry) sweep(ctx context.Context) {
	now := time.Now().UTC()

	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		if s.IdleFor(now) > r.idleTimeout {
			r.expireIfIdle(ctx, s, now)
			continue
		}
		s.Lock()
		if n := s.Memories.Sweep(ctx); n > 0 {
			slog.Debug("session: memory sweep", "session", s.ID, "expired", n)
		}
		s.Unlock()
	}
}

// expireIfIdle flushes s and drops it from the registry, but only while no
// turn is using it. The session lock is held as the busy marker: a lock that
// cannot be taken means a turn is in flight, and idleness is re-checked under
// the lock so a turn that slipped in keeps the session alive. The snapshot is
// written before the map delete so a concurrent GetOrCreate restores current
// state rather than a stale snapshot.
func (r *Registry) expireIfIdle(ctx context.Context, s *Session, now time.Time) {
	if !s.TryLock() {
		return
	}
	defer s.Unlock()

	if s.IdleFor(now) <= r.idleTimeout {
		return
	}

	data, err := s.Snapshot()
	if err != nil {
		slog.Warn("session: snapshot of idle session failed", "session", s.ID, "error", err)
		return
	}
	if err := r.store.SaveSnapshot(ctx, s.CharacterID, s.ID, data); err != nil {
		slog.Warn("session: flush of idle session failed", "session", s.ID, "error", err)
		return
	}

	r.mu.Lock()
	// Identity check: drop the entry only if it still maps to this instance.
	if r.sessions[s.ID] == s {
		delete(r.sessions, s.ID)
		r.metrics.ActiveSessions.Add(ctx, -1)
	}
	r.mu.Unlock()

	slog.Info("session: expired idle session", "session", s.ID)
}

// Close flushes every live session to the store and rejects further lookups.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	remaining := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		remaining = append(remaining, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var errs []error
	for _, s := range remaining {
		r.metrics.ActiveSessions.Add(ctx, -1)
		if err := r.flush(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// flush writes the session's snapshot to the store.
func (r *Registry) flush(ctx context.Context, s *Session) error {
	s.Lock()
	data, err := s.Snapshot()
	s.Unlock()
	if err != nil {
		return err
	}
	if err := r.store.SaveSnapshot(ctx, s.CharacterID, s.ID, data); err != nil {
		return fmt.Errorf("session: save snapshot for %s: %w", s.ID, err)
	}
	return nil
}

// newSession builds a fresh session with its own memory store wired to the
// durable archive.
func (r *Registry) newSession(id, characterID, userID string) *Session {
	now := time.Now().UTC()
	var recaller Recaller
	if r.embedder != nil {
		recaller = &archiveRecall{
			characterID: characterID,
			store:       r.store,
			embedder:    r.embedder,
		}
	}
	return &Session{
		ID:          id,
		CharacterID: characterID,
		UserID:      userID,
		Emotion:     emotion.NewState(),
		Character:   charstate.NewState(),
		Memories: memstore.NewStore(memstore.StoreConfig{
			SessionID: id,
			Capacity:  r.memoryCapacity,
			Archiver: &storeArchiver{
				characterID: characterID,
				store:       r.store,
				embedder:    r.embedder,
				metrics:     r.metrics,
			},
		}),
		Archive:      recaller,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}
