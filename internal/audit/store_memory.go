package audit

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"repertor/pkg/requestcontext"
)

// MemoryStore keeps outbox rows in a slice for tests and local development.
type MemoryStore struct {
	mu        sync.Mutex
	rows      []OutboxRow
	published map[uuid.UUID]bool
}

func NewMemory() *MemoryStore {
	return &MemoryStore{published: make(map[uuid.UUID]bool)}
}

func (s *MemoryStore) Append(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, OutboxRow{
		ID:            uuid.New(),
		AggregateType: "registration",
		AggregateID:   event.Subject,
		EventType:     string(event.Action),
		Payload:       body,
		CreatedAt:     event.Timestamp,
	})
	return nil
}

func (s *MemoryStore) UnpublishedBatch(_ context.Context, limit int) ([]OutboxRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var batch []OutboxRow
	for _, row := range s.rows {
		if s.published[row.ID] {
			continue
		}
		batch = append(batch, row)
		if len(batch) == limit {
			break
		}
	}
	return batch, nil
}

func (s *MemoryStore) MarkPublished(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.published[id] = true
	}
	return nil
}

// Events decodes every appended event, newest last. Test helper.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]Event, 0, len(s.rows))
	for _, row := range s.rows {
		var event Event
		if err := json.Unmarshal(row.Payload, &event); err == nil {
			events = append(events, event)
		}
	}
	return events
}
