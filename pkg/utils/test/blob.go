package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/papercomputeco/memlayer/pkg/blob"
)

// ErrMockBlob is returned by MockBlobStore when a failure is injected.
var ErrMockBlob = errors.New("mock blob failure")

// MockBlobStore is an in-memory blob.Store with failure injection.
type MockBlobStore struct {
	mu      sync.Mutex
	Objects map[string][]byte

	FailPut    bool
	BlockPut   bool
	FailGet    bool
	FailDelete bool

	Deleted []string
}

func NewMockBlobStore() *MockBlobStore {
	return &MockBlobStore{Objects: make(map[string][]byte)}
}

func (m *MockBlobStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	m.mu.Lock()
	block := m.BlockPut
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut {
		return "", ErrMockBlob
	}
	ref := "mock://" + key
	m.Objects[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (m *MockBlobStore) Get(_ context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailGet {
		return nil, ErrMockBlob
	}
	data, ok := m.Objects[ref]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MockBlobStore) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDelete {
		return ErrMockBlob
	}
	delete(m.Objects, ref)
	m.Deleted = append(m.Deleted, ref)
	return nil
}

// Len returns the number of stored objects.
func (m *MockBlobStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Objects)
}
