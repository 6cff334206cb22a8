package store

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no document exists under a key. Callers
// fall back to documented in-memory defaults on it.
var ErrNotFound = errors.New("document not found")

// Store is the durable key-value document store the engine persists
// position state and learning state through. Documents are opaque JSON.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Upsert(ctx context.Context, key string, doc []byte) error
}

// MemoryStore is an in-process Store used in tests and as the fallback
// when no external store is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

func (s *MemoryStore) Upsert(_ context.Context, key string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(doc))
	copy(stored, doc)
	s.docs[key] = stored
	return nil
}
