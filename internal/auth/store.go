// Package auth mirrors the hosted backend's authentication state per device.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ashureev/persona-lab/internal/domain"
)

// StorageKey is the fixed entry name of the persisted snapshot.
const StorageKey = "auth-storage"

// ErrEntryNotFound is returned by a Persister when no snapshot was stored.
var ErrEntryNotFound = errors.New("entry not found")

// Persister stores the serialized snapshot for one device.
type Persister interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
}

// Snapshot is a point-in-time copy of the store.
// Verified is false until the backend session check has completed, so a
// restored snapshot may disagree with the real backend session until then.
type Snapshot struct {
	User            *domain.User `json:"user"`
	IsAuthenticated bool         `json:"isAuthenticated"`
	Verified        bool         `json:"-"`
}

// persisted matches the envelope the web client writes to local storage.
type persisted struct {
	State   Snapshot `json:"state"`
	Version int      `json:"version"`
}

// Store holds the current user. IsAuthenticated always equals User() != nil.
type Store struct {
	mu       sync.RWMutex
	user     *domain.User
	verified bool
	persist  Persister
}

// NewStore creates an empty store. persist may be nil for an in-memory store.
func NewStore(persist Persister) *Store {
	return &Store{persist: persist}
}

// User returns a copy of the current user, or nil.
func (s *Store) User() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// IsAuthenticated reports whether a user is set.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{IsAuthenticated: s.user != nil, Verified: s.verified}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}

// SetUser replaces the current user and persists the snapshot.
// The in-memory state changes even when persisting fails.
func (s *Store) SetUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	if user == nil {
		s.user = nil
	} else {
		u := *user
		s.user = &u
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	return s.save(ctx, snap)
}

// SetIsAuthenticated clears the user when false. Setting true without a
// user is ignored because the flag is derived from the user.
func (s *Store) SetIsAuthenticated(ctx context.Context, authenticated bool) error {
	if authenticated {
		return nil
	}
	return s.SetUser(ctx, nil)
}

// MarkVerified records that the backend session check has completed.
func (s *Store) MarkVerified() {
	s.mu.Lock()
	s.verified = true
	s.mu.Unlock()
}

// Restore loads the last persisted snapshot. A missing entry is not an error.
func (s *Store) Restore(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	raw, err := s.persist.Get(ctx, StorageKey)
	if errors.Is(err, ErrEntryNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load auth snapshot: %w", err)
	}

	var env persisted
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return fmt.Errorf("decode auth snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.verified {
		// Backend already answered; a stale snapshot must not win.
		return nil
	}
	s.user = env.State.User
	return nil
}

func (s *Store) save(ctx context.Context, snap Snapshot) error {
	if s.persist == nil {
		return nil
	}
	data, err := json.Marshal(persisted{State: snap})
	if err != nil {
		return fmt.Errorf("encode auth snapshot: %w", err)
	}
	if err := s.persist.Put(ctx, StorageKey, string(data)); err != nil {
		return fmt.Errorf("save auth snapshot: %w", err)
	}
	return nil
}
