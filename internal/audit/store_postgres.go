package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"repertor/pkg/platform/tx"
	"repertor/pkg/requestcontext"
)

// PostgresStore implements Store using the transactional outbox pattern.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// payload is the JSON structure published to Kafka.
type payload struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	Subject   string            `json:"subject"`
	ActorID   string            `json:"actor_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Timestamp string            `json:"timestamp"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Append writes an audit event to the outbox table. When ctx carries a
// transaction the write joins it, so the event never outlives a rolled-back
// mutation.
func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	eventID := uuid.New()
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	body, err := json.Marshal(payload{
		ID:        eventID.String(),
		Action:    string(event.Action),
		Subject:   event.Subject,
		ActorID:   event.ActorID,
		RequestID: event.RequestID,
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		Detail:    event.Detail,
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	q := tx.Resolve(ctx, s.db)
	_, err = q.ExecContext(ctx,
		`INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		eventID, "registration", event.Subject, string(event.Action), body, event.Timestamp)
	if err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}

// UnpublishedBatch returns the oldest unpublished rows, oldest first.
func (s *PostgresStore) UnpublishedBatch(ctx context.Context, limit int) ([]OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		 FROM outbox WHERE published_at IS NULL ORDER BY created_at LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("select outbox batch: %w", err)
	}
	defer rows.Close()

	var batch []OutboxRow
	for rows.Next() {
		var row OutboxRow
		if err := rows.Scan(&row.ID, &row.AggregateType, &row.AggregateID,
			&row.EventType, &row.Payload, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		batch = append(batch, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return batch, nil
}

// MarkPublished stamps rows as delivered.
func (s *PostgresStore) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE outbox SET published_at = $2 WHERE id = $1`, id, now); err != nil {
			return fmt.Errorf("mark outbox row published: %w", err)
		}
	}
	return nil
}
