package document

import (
	"context"

	"github.com/google/uuid"
)

// Store persists documents. Implementations must honor a transaction carried
// in ctx (pkg/platform/tx) so the binding transaction can span the document
// write, the registration state update and the audit outbox append.
type Store interface {
	// Create inserts a document. A registration that already holds one
	// surfaces as sentinel.ErrConflict via the unique index on
	// registration_id.
	Create(ctx context.Context, doc *Document) error

	FindByID(ctx context.Context, id uuid.UUID) (*Document, error)

	FindByRegistration(ctx context.Context, registrationID uuid.UUID) (*Document, error)

	// CountByRegistration counts documents bound to a registration. The
	// state machine recomputes from this, never increments.
	CountByRegistration(ctx context.Context, registrationID uuid.UUID) (int, error)

	Update(ctx context.Context, doc *Document) error

	Delete(ctx context.Context, id uuid.UUID) error
}
