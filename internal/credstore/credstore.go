// Package credstore defines the credential store the guardian freezes
// on compromise. The store itself lives outside the security core; the
// in-memory implementation here backs tests and single-binary deploys.
package credstore

import (
	"fmt"
	"sync"
)

// Store is the collaborator contract. Freeze is called on entry to the
// compromised and lockdown states; once frozen, reads fail until an
// explicit, manual Unfreeze. Has stays available even frozen so
// operators can confirm what exists without exposing values.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Has(key string) bool
	Freeze(reason string)
	Unfreeze()
	Frozen() bool
}

// MemoryStore is a mutex-guarded in-memory Store.
type MemoryStore struct {
	mu           sync.Mutex
	values       map[string]string
	frozen       bool
	freezeReason string
}

// NewMemoryStore creates an empty unfrozen store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: map[string]string{}}
}

// Get returns a credential value. Fails while frozen.
func (s *MemoryStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return "", fmt.Errorf("credstore: frozen (%s): reads disabled until manual unfreeze", s.freezeReason)
	}
	v, ok := s.values[key]
	if !ok {
		return "", fmt.Errorf("credstore: no credential %q", key)
	}
	return v, nil
}

// Set stores a credential value. Fails while frozen.
func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return fmt.Errorf("credstore: frozen (%s): writes disabled until manual unfreeze", s.freezeReason)
	}
	s.values[key] = value
	return nil
}

// Has reports existence without exposing the value. Available frozen.
func (s *MemoryStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok
}

// Freeze disables reads and writes. Idempotent; the first reason wins.
func (s *MemoryStore) Freeze(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return
	}
	s.frozen = true
	s.freezeReason = reason
}

// Unfreeze re-enables access. Manual operator action only; nothing in
// the core calls this.
func (s *MemoryStore) Unfreeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = false
	s.freezeReason = ""
}

// Frozen reports the freeze flag.
func (s *MemoryStore) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}
