package social

import (
	"context"
	"sync"
	"time"
)

// StateStore persists transient per-attempt protocol state keyed by the
// browser session and provider name. State written at begin-auth must be
// retrievable exactly once during the matching complete-auth on the same
// session and absent otherwise; absence is ErrMissingPendingState.
type StateStore interface {
	Save(ctx context.Context, sessionID, provider string, state *PendingAuthState) error
	Load(ctx context.Context, sessionID, provider string) (*PendingAuthState, error)

	// Consume loads and deletes in one step (single use).
	Consume(ctx context.Context, sessionID, provider string) (*PendingAuthState, error)
}

// Sweeper is implemented by state stores that need periodic cleanup of
// expired entries. Stores with native TTL support (redis) don't implement it.
type Sweeper interface {
	Sweep(ctx context.Context) (removed int, err error)
}

const defaultStateTTL = 10 * time.Minute

// MemoryStateStore keeps pending auth state in process memory. Suitable for
// tests and single-node deployments; multi-node deployments need the redis
// store so the completing request can land on any node.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryStateEntry
	ttl     time.Duration

	now func() time.Time // test seam
}

type memoryStateEntry struct {
	state     *PendingAuthState
	expiresAt time.Time
}

// NewMemoryStateStore creates an in-memory state store. A non-positive ttl
// falls back to the default of ten minutes.
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &MemoryStateStore{
		entries: make(map[string]memoryStateEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func stateKey(sessionID, provider string) string {
	return sessionID + ":" + provider
}

// Save stores state for the session/provider pair, replacing any previous
// attempt.
func (s *MemoryStateStore) Save(_ context.Context, sessionID, provider string, state *PendingAuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[stateKey(sessionID, provider)] = memoryStateEntry{
		state:     state,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

// Load returns the pending state without consuming it.
func (s *MemoryStateStore) Load(_ context.Context, sessionID, provider string) (*PendingAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(sessionID, provider, false)
}

// Consume returns the pending state and deletes it so a second completion
// attempt fails with ErrMissingPendingState.
func (s *MemoryStateStore) Consume(_ context.Context, sessionID, provider string) (*PendingAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(sessionID, provider, true)
}

func (s *MemoryStateStore) get(sessionID, provider string, remove bool) (*PendingAuthState, error) {
	key := stateKey(sessionID, provider)
	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrMissingPendingState
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, key)
		return nil, ErrMissingPendingState
	}
	if remove {
		delete(s.entries, key)
	}
	return entry.state, nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemoryStateStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}
