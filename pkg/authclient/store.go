// Package authclient implements the client side of the token lifecycle: a
// store for the current credential pair, a single-flight mutex guarding
// refresh, and an HTTP client wrapper that refreshes and retries exactly
// once on an expired credential.
package authclient

import (
	"sync"
	"time"
)

// TokenPair is the client-persisted access/refresh credential pair.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	AccessExpiry time.Time `json:"accessExpiry"`
}

// Store holds the current token pair. It is the exclusive owner: the pair is
// set on login, replaced on refresh, and cleared on logout or terminal
// refresh failure.
type Store struct {
	mu   sync.RWMutex
	pair TokenPair
	has  bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current pair, if any.
func (s *Store) Get() (TokenPair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, s.has
}

// Set replaces the current pair.
func (s *Store) Set(pair TokenPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = pair
	s.has = true
}

// Clear destroys the current pair.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = TokenPair{}
	s.has = false
}
