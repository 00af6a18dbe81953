package registration

import (
	"context"

	"github.com/google/uuid"
)

// Store persists registrations and their per-period counters. Implementations
// must honor a transaction carried in ctx (pkg/platform/tx) so the allocator
// and the binding transaction can compose with the audit outbox.
type Store interface {
	// CreateWithNextSequence claims the next free sequence for reg's period
	// and inserts the row, all under the counter row lock. On return reg has
	// Sequence and DisplayNumber populated. A concurrent allocation that
	// raced this one surfaces as sentinel.ErrConflict; the caller retries
	// the whole transaction.
	CreateWithNextSequence(ctx context.Context, reg *Registration) error

	// CounterValue reads the counter's high-water mark without locking.
	// Used by preview only; it is a best-effort hint.
	CounterValue(ctx context.Context, p Period) (int, error)

	FindByNumber(ctx context.Context, displayNumber string) (*Registration, error)

	// LockByNumber reads a registration under an exclusive row lock. Must be
	// called inside a transaction; the lock serializes concurrent binds.
	LockByNumber(ctx context.Context, displayNumber string) (*Registration, error)

	// LockByID is LockByNumber keyed by primary key, for callers that hold
	// a document row rather than a display number.
	LockByID(ctx context.Context, id uuid.UUID) (*Registration, error)

	ListByPeriod(ctx context.Context, p Period) ([]*Registration, error)

	UpdateState(ctx context.Context, id uuid.UUID, state State) error
}
