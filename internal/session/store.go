package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"sync"

	"convolens/internal/types"
)

// ErrNotFound means a session has no prior state. Callers treat it as "no
// prior context", never as a fatal condition.
var ErrNotFound = errors.New("session not found")

// Store holds per-session state keyed by an opaque session id supplied by the
// caller. Implementations serialize updates per session; the orchestrator is
// the only writer.
type Store interface {
	Get(ctx context.Context, sessionID string) (*types.SessionState, error)
	Update(ctx context.Context, state *types.SessionState) error
	Close() error
}

// FingerprintOf identifies a conversation set by count plus a hash of its
// sorted ids, without retaining content.
func FingerprintOf(conversations []types.Conversation) types.Fingerprint {
	ids := make([]string, 0, len(conversations))
	for _, c := range conversations {
		ids = append(ids, c.ID)
	}
	sort.Strings(ids)

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}

	return types.Fingerprint{
		Count: len(conversations),
		Hash:  hex.EncodeToString(h.Sum(nil)),
	}
}

// MemoryStore is the in-process session backend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]types.SessionState
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]types.SessionState)}
}

// Get returns the state for sessionID, or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, sessionID string) (*types.SessionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &state, nil
}

// Update stores the state, replacing any previous state for the session.
func (m *MemoryStore) Update(_ context.Context, state *types.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[state.SessionID] = *state
	return nil
}

// Close is a no-op for the memory backend.
func (m *MemoryStore) Close() error { return nil }
