package blob

import (
	"context"
	"strings"
	"sync"
)

const memoryScheme = "mem://"

// MemoryStore keeps blobs in process memory. Used by tests and by local
// runs without an S3-compatible endpoint configured.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	types map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
		types: make(map[string]string),
	}
}

func (s *MemoryStore) Put(_ context.Context, path string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]byte, len(data))
	copy(copied, data)
	s.blobs[path] = copied
	s.types[path] = contentType
	return memoryScheme + path, nil
}

func (s *MemoryStore) Get(_ context.Context, locator string) ([]byte, error) {
	path := strings.TrimPrefix(locator, memoryScheme)
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[path]
	if !ok {
		return nil, ErrNotFound
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	return copied, nil
}

func (s *MemoryStore) Delete(_ context.Context, locator string) error {
	path := strings.TrimPrefix(locator, memoryScheme)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[path]; !ok {
		return ErrNotFound
	}
	delete(s.blobs, path)
	delete(s.types, path)
	return nil
}

// Len reports the number of stored blobs. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
