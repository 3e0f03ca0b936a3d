// Package session holds per-browser-session authentication state.
//
// One TokenBundle exists per authenticated session. The bundle is read by
// every tool dispatch in that session and written only by the token refresh
// path; updates are atomic whole-bundle replacements so no reader can
// observe a torn bundle.
package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/idclerk/idclerk/internal/authn"
)

// ErrSessionNotFound indicates the session ID has no stored bundle,
// either because it never existed or because it was destroyed.
var ErrSessionNotFound = errors.New("session not found")

// Store is a process-wide map of session ID to TokenBundle.
// It is safe for concurrent use by multiple goroutines.
//
// Bundles are stored and returned by value: readers get an immutable copy
// and Update replaces the whole bundle in one critical section.
type Store struct {
	mu      sync.RWMutex
	bundles map[string]authn.TokenBundle
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		bundles: make(map[string]authn.TokenBundle),
	}
}

// Create stores the bundle under a new session ID and returns the ID.
// Called exactly once per successful authorization-code exchange.
func (s *Store) Create(bundle authn.TokenBundle) string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[id] = bundle

	return id
}

// Read returns a copy of the bundle for the given session ID.
// ok is false when no session exists; the caller must treat the request
// as unauthenticated.
func (s *Store) Read(id string) (authn.TokenBundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bundle, ok := s.bundles[id]
	return bundle, ok
}

// Update atomically replaces the stored bundle.
// Only the token refresh path calls this.
func (s *Store) Update(id string, bundle authn.TokenBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bundles[id]; !ok {
		return ErrSessionNotFound
	}
	s.bundles[id] = bundle
	return nil
}

// Destroy removes the session. Idempotent: destroying an absent session
// is not an error. All subsequent Read calls return ok=false until a new
// Create.
func (s *Store) Destroy(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bundles, id)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bundles)
}
