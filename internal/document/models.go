// Package document models the document bound to a registration and its
// archived evidence file. A registration holds at most one document; the
// binding is enforced with a unique index, not application bookkeeping.
package document

import (
	"time"

	"github.com/google/uuid"
)

// Status of a bound document.
type Status string

const (
	// StatusDraft: bound without evidence; the scan arrives later.
	StatusDraft Status = "DRAFT"
	// StatusSubmitted: evidence archived and referenced.
	StatusSubmitted Status = "SUBMITTED"
)

// Document is one translation document bound to a registration.
type Document struct {
	ID             uuid.UUID
	RegistrationID uuid.UUID
	Status         Status

	// Evidence metadata. EvidenceKey is empty for drafts.
	EvidenceKey         string
	EvidenceContentType string
	EvidenceSize        int64
	OriginalName        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasEvidence reports whether an archived evidence object backs the document.
func (d *Document) HasEvidence() bool {
	return d.EvidenceKey != ""
}
