// Package session owns the lifetime of a conversation: one [Session] bundles
// a character's emotional state, relationship state, and working memory for a
// single user, and the [Registry] creates, restores, expires, and flushes
// sessions against the persistence layer.
package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kokorochat/kokoro/internal/charstate"
	"github.com/kokorochat/kokoro/internal/emotion"
	"github.com/kokorochat/kokoro/internal/memstore"
)

// Session is the unit of conversational state for one (character, user)
// pair. A session is single-writer: the turn pipeline holds the embedded
// mutex for the full duration of a turn, so state reads and the final commit
// happen under one critical section.
type Session struct {
	sync.Mutex

	// ID is the session key, derived from the character and user IDs.
	ID string

	// CharacterID names the profile this session plays.
	CharacterID string

	// UserID identifies the conversation partner.
	UserID string

	// Emotion is the live emotional state. Updated by committing a turn.
	Emotion emotion.State

	// Character is the live relationship state. Updated by committing a turn.
	Character charstate.State

	// Memories is the session's bounded working memory.
	Memories *memstore.Store

	// Archive searches the character's durable memory archive. Nil when no
	// embeddings provider is configured.
	Archive Recaller

	// CreatedAt is when the session first existed (survives restore).
	CreatedAt time.Time

	// LastActiveAt is the last committed turn's time; the registry's idle
	// sweep reads it.
	LastActiveAt time.Time
}

// Touch records activity so the idle sweep keeps the session alive.
// Callers must hold the session lock.
func (s *Session) Touch() {
	s.LastActiveAt = time.Now().UTC()
}

// IdleFor reports how long the session has gone without a committed turn.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActiveAt)
}

// snapshot is the persisted form of a session. Emotion, character state, and
// memory entries all round-trip losslessly through JSON.
type snapshot struct {
	Version      int              `json:"version"`
	CharacterID  string           `json:"character_id"`
	UserID       string           `json:"user_id"`
	Emotion      emotion.State    `json:"emotion"`
	Character    charstate.State  `json:"character"`
	Memories     []memstore.Entry `json:"memories"`
	CreatedAt    time.Time        `json:"created_at"`
	LastActiveAt time.Time        `json:"last_active_at"`
}

// snapshotVersion guards against decoding blobs written by an incompatible
// build.
const snapshotVersion = 1

// Snapshot serializes the session for persistence. Callers must hold the
// session lock.
func (s *Session) Snapshot() ([]byte, error) {
	snap := snapshot{
		Version:      snapshotVersion,
		CharacterID:  s.CharacterID,
		UserID:       s.UserID,
		Emotion:      s.Emotion,
		Character:    s.Character,
		Memories:     s.Memories.Entries(),
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("session: marshal snapshot: %w", err)
	}
	return data, nil
}

// restore overwrites the session's state from a persisted snapshot. Callers
// must hold the session lock.
func (s *Session) restore(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("session: unmarshal snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("session: unsupported snapshot version %d", snap.Version)
	}
	s.Emotion = snap.Emotion
	s.Character = snap.Character
	s.Memories.Load(snap.Memories)
	if !snap.CreatedAt.IsZero() {
		s.CreatedAt = snap.CreatedAt
	}
	if !snap.LastActiveAt.IsZero() {
		s.LastActiveAt = snap.LastActiveAt
	}
	return nil
}

// Key derives the canonical session ID for a (character, user) pair.
func Key(characterID, userID string) string {
	return characterID + ":" + userID
}
