// Package inmemory is a map-backed blob.Store for tests and single node use.
package inmemory

import (
	"context"
	"slices"
	"sync"

	"github.com/papercomputeco/memlayer/pkg/blob"
)

const scheme = "mem://"

// Store keeps blobs in memory.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

func (s *Store) Put(_ context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := scheme + key
	s.objects[ref] = slices.Clone(data)
	return ref, nil
}

func (s *Store) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[ref]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return slices.Clone(data), nil
}

func (s *Store) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, ref)
	return nil
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
