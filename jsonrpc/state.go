package jsonrpc

import (
	"sort"
	"sync"
)

// State is the per-transaction key/value store shared by every middleware
// hook and procedure of one HTTP transaction. A new State is created for
// each transaction and is never reused.
//
// Hooks of one stage run concurrently, so State guards its map.
type State struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewState returns an empty State.
func NewState() *State {
	return &State{values: make(map[string]any)}
}

// Get returns the value stored under key.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Delete removes key.
func (s *State) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Keys returns the stored keys in sorted order.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StateValue returns the value under key if it is present and has type T.
func StateValue[T any](s *State, key string) (T, bool) {
	var zero T
	if s == nil {
		return zero, false
	}
	v, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
