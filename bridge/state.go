// Copyright 2026 The Polyfactory Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import "sync"

// StateStore is the process-wide session state: a string-keyed mapping
// that outlives any single connection. It is created once when the
// server is constructed, survives connection churn, and is cleared
// only by Reset or process exit. Agents use it to stash intermediate
// results between commands and across reconnects.
//
// All operations are serialized by one mutex. Store operations never
// call into the host, so hold times are bounded and short; there is no
// lock-ordering relationship with the gateway.
type StateStore struct {
	mu     sync.Mutex
	values map[string]any
}

// NewStateStore creates an empty store.
func NewStateStore() *StateStore {
	return &StateStore{values: make(map[string]any)}
}

// Get returns the value for key and whether it exists.
func (s *StateStore) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok
}

// Set stores value under key, replacing any existing value.
func (s *StateStore) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Snapshot returns a shallow copy of the entire mapping.
func (s *StateStore) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[string]any, len(s.values))
	for key, value := range s.values {
		snapshot[key] = value
	}
	return snapshot
}

// Reset clears the store.
func (s *StateStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]any)
}

// Len returns the number of stored keys.
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}
