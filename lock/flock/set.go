package flock

import "sync"

// Set hands out one Lock per path so every caller in this process contends
// on the same in-process token for a given file.
type Set struct {
	mu    sync.Mutex
	locks map[string]*Lock
}

// NewSet creates an empty Set.
func NewSet() *Set {
	return &Set{locks: make(map[string]*Lock)}
}

// Get returns the Lock for path, creating it on first use.
func (s *Set) Get(path string) *Lock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = New(path)
		s.locks[path] = l
	}
	return l
}
