package audit

import (
	"context"

	"github.com/google/uuid"
)

// Store persists audit events to the outbox and hands them to the publisher
// worker. Append must honor a transaction carried in ctx so the event commits
// or rolls back with the business mutation that produced it.
type Store interface {
	Append(ctx context.Context, event Event) error
	UnpublishedBatch(ctx context.Context, limit int) ([]OutboxRow, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}
