package store

import (
	"context"
	"fmt"
	"sync"

	"perpcore/internal/keys"
	"perpcore/internal/perperr"
)

// MemoryStore is an in-memory AccountStore, safe for concurrent use. It backs
// tests and single-node deployments that do not need durability.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[keys.Address]Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[keys.Address]Record)}
}

func (s *MemoryStore) Get(_ context.Context, address keys.Address) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.accounts[address]
	if !ok {
		return Record{}, fmt.Errorf("account %s: %w", address, perperr.ErrNotInitialized)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Has(_ context.Context, address keys.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.accounts[address]
	return ok, nil
}

func (s *MemoryStore) Commit(_ context.Context, batch *WriteBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range batch.Records() {
		s.accounts[r.Address] = r.Clone()
	}
	return nil
}

// Len returns the number of stored accounts.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}
