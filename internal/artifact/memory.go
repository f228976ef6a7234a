package artifact

import (
	"context"
	"fmt"
	"sync"

	"hookbox/internal/domain"
)

// MemoryStore keeps artifacts in process. Used by tests and the CLI dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[Handle][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[Handle][]byte)}
}

func (s *MemoryStore) Store(_ context.Context, data []byte) (Handle, error) {
	h := HandleFor(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[h]; !ok {
		s.data[h] = append([]byte(nil), data...)
	}
	return h, nil
}

func (s *MemoryStore) Retrieve(_ context.Context, h Handle) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[h]
	if !ok {
		return nil, domain.ErrNotFound.Wrap(fmt.Errorf("artifact %s", h))
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) DeleteAll(_ context.Context, handles []Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range handles {
		delete(s.data, h)
	}
	return nil
}

// Len reports how many distinct artifacts are held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *MemoryStore) Close() error { return nil }
