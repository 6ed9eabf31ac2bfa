package session

import (
	"sync"

	"github.com/google/uuid"
)

// Storage is the persistence backing for the session identifier. A
// browser embedding would back this with tab-scoped storage; the
// in-memory implementation below covers everything else.
type Storage interface {
	Get() (string, bool)
	Set(id string)
	Clear()
}

// MemoryStorage keeps the identifier in process memory.
type MemoryStorage struct {
	mu sync.Mutex
	id string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Get() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, m.id != ""
}

func (m *MemoryStorage) Set(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = id
}

func (m *MemoryStorage) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = ""
}

// Store owns the durable session identifier: one live id at a time,
// minted lazily, replaced on Reset and never reused afterwards.
type Store struct {
	mu      sync.Mutex
	storage Storage
}

// NewStore wraps the provided storage. A nil storage gets an in-memory
// backing so the store never fails.
func NewStore(storage Storage) *Store {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	return &Store{storage: storage}
}

// GetOrCreate returns the persisted identifier, minting and persisting
// a fresh one on first use.
func (s *Store) GetOrCreate() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.storage.Get(); ok {
		return id
	}

	id := uuid.NewString()
	s.storage.Set(id)
	return id
}

// Reset discards the persisted identifier and mints a replacement. Any
// in-flight stream tied to the old id is the caller's to cancel.
func (s *Store) Reset() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.storage.Clear()
	id := uuid.NewString()
	s.storage.Set(id)
	return id
}
