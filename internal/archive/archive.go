// Package archive adapts a tiered (cold) object store for evidence files.
// Objects in an archival tier cannot be fetched directly: a restore must be
// requested and polled until a temporary retrievable copy exists. There is no
// push notification; the protocol is polling by design.
package archive

import (
	"context"
	"errors"
	"time"
)

// Tier is a storage class. Cold tiers require the restore protocol before
// retrieval.
type Tier string

const (
	TierCold     Tier = "GLACIER"
	TierDeepCold Tier = "DEEP_ARCHIVE"
	TierStandard Tier = "STANDARD"
)

// Archival reports whether objects in this tier need a restore before fetch.
func (t Tier) Archival() bool {
	return t == TierCold || t == TierDeepCold
}

// RestoreSpeed selects how fast a restore completes (and how much it costs).
type RestoreSpeed string

const (
	SpeedExpedited RestoreSpeed = "Expedited"
	SpeedStandard  RestoreSpeed = "Standard"
	SpeedBulk      RestoreSpeed = "Bulk"
)

// RestoreState is the externally tracked restore position of one object.
type RestoreState string

const (
	// StateNotArchived: the object is in a tier that permits immediate
	// retrieval.
	StateNotArchived RestoreState = "not_archived"
	// StateArchived: cold object with no restore requested yet.
	StateArchived RestoreState = "archived"
	// StateInProgress: restore requested, not yet complete. Fetch must not
	// be attempted.
	StateInProgress RestoreState = "in_progress"
	// StateCompleted: a temporary retrievable copy exists until Expiry.
	StateCompleted RestoreState = "completed"
)

// RestoreStatus is the polled status of one object.
type RestoreStatus struct {
	State  RestoreState `json:"state"`
	Expiry *time.Time   `json:"expiry,omitempty"`
}

// Object is fetched evidence content.
type Object struct {
	Bytes       []byte
	ContentType string
}

// Typed failures per operation. Callers treat uploads as fatal for the
// enclosing operation, restores as transient, and deletes as best-effort.
var (
	ErrUpload  = errors.New("archive upload failed")
	ErrRestore = errors.New("archive restore request failed")
	ErrFetch   = errors.New("archive fetch failed")
	ErrDelete  = errors.New("archive delete failed")
)

// Store is the cold-storage port. Status is queried live from the backing
// store; nothing here is cached locally unless explicitly wrapped (see
// StatusCache).
type Store interface {
	// Archive uploads content under key in the given tier.
	Archive(ctx context.Context, key string, content []byte, contentType string, tier Tier) error

	// RequestRestore asks the store to stage a retrievable copy for
	// availabilityDays. Idempotent while a restore is already underway.
	RequestRestore(ctx context.Context, key string, availabilityDays int, speed RestoreSpeed) error

	// RestoreStatus polls the object's restore position.
	RestoreStatus(ctx context.Context, key string) (RestoreStatus, error)

	// Fetch downloads the object. Only valid when the status is
	// not_archived or completed.
	Fetch(ctx context.Context, key string) (*Object, error)

	// Remove deletes the object. Best-effort from the caller's view.
	Remove(ctx context.Context, key string) error
}
