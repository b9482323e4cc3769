package store

import (
	"context"
	"sync"
)

// MemoryStatus is the redis-less StatusStore, used for single-process runs
// and in tests.
type MemoryStatus struct {
	mu sync.Mutex
	m  map[string]Status
}

func NewMemoryStatus() *MemoryStatus {
	return &MemoryStatus{m: make(map[string]Status)}
}

func (s *MemoryStatus) Set(_ context.Context, opID string, st Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[opID] = st
	return nil
}

func (s *MemoryStatus) Get(_ context.Context, opID string) (Status, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[opID]
	return st, ok, nil
}

func (s *MemoryStatus) Close() error { return nil }
