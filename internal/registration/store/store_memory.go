package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"repertor/internal/registration"
	"repertor/pkg/platform/sentinel"
)

// MemoryStore is the in-memory sibling of PostgresStore, used in unit tests
// and local development. Pair it with tx.MemoryRunner so multi-store
// operations stay serialized.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[registration.Period]int
	byNumber map[string]*registration.Registration
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		counters: make(map[registration.Period]int),
		byNumber: make(map[string]*registration.Registration),
	}
}

func (s *MemoryStore) CreateWithNextSequence(_ context.Context, reg *registration.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := reg.Period()
	taken := make(map[int]bool)
	for _, existing := range s.byNumber {
		if existing.Year == p.Year && existing.Month == p.Month {
			taken[existing.Sequence] = true
		}
	}

	candidate := s.counters[p] + 1
	for taken[candidate] {
		candidate++
	}

	s.counters[p] = candidate
	reg.Sequence = candidate
	reg.DisplayNumber = registration.FormatDisplayNumber(candidate, reg.Month, reg.Year)

	if _, exists := s.byNumber[reg.DisplayNumber]; exists {
		return sentinel.ErrConflict
	}
	clone := *reg
	s.byNumber[reg.DisplayNumber] = &clone
	return nil
}

// Seed inserts a registration directly, bypassing the counter. Mirrors rows
// created out of band that the allocator's gap-skip must tolerate.
func (s *MemoryStore) Seed(reg *registration.Registration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *reg
	if clone.DisplayNumber == "" {
		clone.DisplayNumber = registration.FormatDisplayNumber(clone.Sequence, clone.Month, clone.Year)
	}
	s.byNumber[clone.DisplayNumber] = &clone
}

func (s *MemoryStore) CounterValue(_ context.Context, p registration.Period) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[p], nil
}

func (s *MemoryStore) FindByNumber(_ context.Context, displayNumber string) (*registration.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.byNumber[displayNumber]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	clone := *reg
	return &clone, nil
}

// LockByNumber matches the interface; exclusivity comes from the MemoryRunner
// serializing the enclosing transaction.
func (s *MemoryStore) LockByNumber(ctx context.Context, displayNumber string) (*registration.Registration, error) {
	return s.FindByNumber(ctx, displayNumber)
}

func (s *MemoryStore) LockByID(_ context.Context, id uuid.UUID) (*registration.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, reg := range s.byNumber {
		if reg.ID == id {
			cp := *reg
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *MemoryStore) ListByPeriod(_ context.Context, p registration.Period) ([]*registration.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var regs []*registration.Registration
	for _, reg := range s.byNumber {
		if reg.Year == p.Year && reg.Month == p.Month {
			clone := *reg
			regs = append(regs, &clone)
		}
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].Sequence < regs[j].Sequence })
	return regs, nil
}

func (s *MemoryStore) UpdateState(_ context.Context, id uuid.UUID, state registration.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reg := range s.byNumber {
		if reg.ID == id {
			reg.State = state
			return nil
		}
	}
	return sentinel.ErrNotFound
}
