package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"repertor/internal/document"
	"repertor/pkg/platform/sentinel"
)

// MemoryStore is the in-memory sibling of PostgresStore, used in unit tests
// and local development. Pair it with tx.MemoryRunner so multi-store
// operations stay serialized.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*document.Document
}

func NewMemory() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]*document.Document)}
}

func (s *MemoryStore) Create(_ context.Context, doc *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byID {
		if existing.RegistrationID == doc.RegistrationID {
			return sentinel.ErrConflict
		}
	}
	cp := *doc
	s.byID[doc.ID] = &cp
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) FindByRegistration(_ context.Context, registrationID uuid.UUID) (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range s.byID {
		if doc.RegistrationID == registrationID {
			cp := *doc
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) CountByRegistration(_ context.Context, registrationID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, doc := range s.byID {
		if doc.RegistrationID == registrationID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Update(_ context.Context, doc *document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[doc.ID]; !ok {
		return sentinel.ErrNotFound
	}
	for id, existing := range s.byID {
		if id != doc.ID && existing.RegistrationID == doc.RegistrationID {
			return sentinel.ErrConflict
		}
	}
	cp := *doc
	s.byID[doc.ID] = &cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[id]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}
