// Package security provides credential handling, log redaction, audit
// logging, rate limiting, and input validation for job execution.
package security

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
)

// CredentialStore is a thread-safe store for job credentials. It is the
// single source of truth for secrets at runtime: values are resolved once
// from the daemon environment and handed to jobs explicitly, never through
// inherited process state.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]string
}

// NewCredentialStore creates an empty credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		creds: make(map[string]string),
	}
}

// FromEnv builds a store holding the named variables read from the daemon
// environment. Names that are unset or empty are returned in missing and
// not stored. The missing list is sorted and de-duplicated so it can be
// reported directly.
func FromEnv(names []string) (*CredentialStore, []string) {
	store := NewCredentialStore()
	var missing []string
	for _, name := range names {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			missing = append(missing, name)
			continue
		}
		store.Set(name, v)
	}
	slices.Sort(missing)
	return store, slices.Compact(missing)
}

// Set stores a credential. An existing value under the same name is
// overwritten.
func (s *CredentialStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[name] = value
}

// Get returns the credential value and true, or "" and false if not found.
func (s *CredentialStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.creds[name]
	return v, ok
}

// Has returns true if a credential with the given name exists.
func (s *CredentialStore) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.creds[name]
	return ok
}

// Names returns a sorted list of all credential names. Names are safe to
// display; values never are.
func (s *CredentialStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.creds))
	for name := range s.creds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Values returns all non-empty credential values in unspecified order.
// This exists for registering values with a Redactor.
func (s *CredentialStore) Values() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := make([]string, 0, len(s.creds))
	for _, v := range s.creds {
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}

// Pairs returns KEY=VALUE entries for the named credentials, in the order
// given, suitable for appending to a subprocess environment. If any name
// is absent or empty, an error naming every missing credential is returned
// and no pairs are produced.
func (s *CredentialStore) Pairs(names ...string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pairs := make([]string, 0, len(names))
	var missing []string
	for _, name := range names {
		v, ok := s.creds[name]
		if !ok || v == "" {
			missing = append(missing, name)
			continue
		}
		pairs = append(pairs, name+"="+v)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing credentials: %s", strings.Join(missing, ", "))
	}
	return pairs, nil
}

// Delete removes a credential by name. It is a no-op if the credential
// does not exist.
func (s *CredentialStore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, name)
}

// Len returns the number of stored credentials.
func (s *CredentialStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds)
}
