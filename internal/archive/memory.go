package archive

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryObject struct {
	content     []byte
	contentType string
	tier        Tier
	state       RestoreState
	expiry      *time.Time
}

// MemoryStore is an in-memory Store for tests and local development. Restores
// never complete on their own; tests drive them with CompleteRestore.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]*memoryObject
}

func NewMemory() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*memoryObject)}
}

func (m *MemoryStore) Archive(_ context.Context, key string, content []byte, contentType string, tier Tier) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := StateNotArchived
	if tier.Archival() {
		state = StateArchived
	}
	m.objects[key] = &memoryObject{
		content:     append([]byte(nil), content...),
		contentType: contentType,
		tier:        tier,
		state:       state,
	}
	return nil
}

func (m *MemoryStore) RequestRestore(_ context.Context, key string, _ int, _ RestoreSpeed) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return fmt.Errorf("%w: restore %q: no such object", ErrRestore, key)
	}
	if obj.state == StateArchived || obj.state == StateCompleted {
		obj.state = StateInProgress
		obj.expiry = nil
	}
	return nil
}

func (m *MemoryStore) RestoreStatus(_ context.Context, key string) (RestoreStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return RestoreStatus{}, fmt.Errorf("head %q: no such object", key)
	}
	return RestoreStatus{State: obj.state, Expiry: obj.expiry}, nil
}

func (m *MemoryStore) Fetch(_ context.Context, key string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: get %q: no such object", ErrFetch, key)
	}
	if obj.state == StateArchived || obj.state == StateInProgress {
		return nil, fmt.Errorf("%w: get %q: object is archived", ErrFetch, key)
	}
	return &Object{
		Bytes:       append([]byte(nil), obj.content...),
		ContentType: obj.contentType,
	}, nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Len reports the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// CompleteRestore marks an in-progress restore as done with the given expiry.
func (m *MemoryStore) CompleteRestore(key string, expiry time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obj, ok := m.objects[key]; ok {
		obj.state = StateCompleted
		obj.expiry = &expiry
	}
}

// CompleteAllRestores finishes every in-progress restore, for tests that do
// not track individual keys.
func (m *MemoryStore) CompleteAllRestores(expiry time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, obj := range m.objects {
		if obj.state == StateInProgress {
			e := expiry
			obj.state = StateCompleted
			obj.expiry = &e
		}
	}
}

// SetState forces a restore state, for tests exercising edge transitions.
func (m *MemoryStore) SetState(key string, state RestoreState, expiry *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if obj, ok := m.objects[key]; ok {
		obj.state = state
		obj.expiry = expiry
	}
}
