package archive

import (
	"context"
	"fmt"
	"time"
)

// Outcome is the result class of one retrieval attempt. Needing a restore is
// a normal state of the world, not a failure, so it is modelled as a result
// rather than an error.
type Outcome string

const (
	// OutcomeOK: content retrieved, Result.Object is set.
	OutcomeOK Outcome = "ok"
	// OutcomeRestoreInitiated: object was cold, a restore was requested.
	// The caller comes back later.
	OutcomeRestoreInitiated Outcome = "restore_initiated"
	// OutcomeRetryInProgress: a restore is already underway.
	OutcomeRetryInProgress Outcome = "retry_in_progress"
)

// Result of a retrieval attempt.
type Result struct {
	Outcome Outcome
	Object  *Object
	Status  RestoreStatus
}

// RestoreParams tunes the restore request issued when a cold object is hit.
type RestoreParams struct {
	AvailabilityDays int
	Speed            RestoreSpeed
}

// Retrieve runs the retrieval protocol against store: poll status first,
// fetch when retrievable, otherwise drive the restore forward. A status or
// restore error is returned as-is so the caller can retry the whole attempt.
func Retrieve(ctx context.Context, store Store, key string, now time.Time, params RestoreParams) (Result, error) {
	status, err := store.RestoreStatus(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("poll restore status: %w", err)
	}

	switch status.State {
	case StateNotArchived:
		return fetch(ctx, store, key, status)
	case StateCompleted:
		// A completed restore lapses at Expiry; past it the object is
		// cold again.
		if status.Expiry == nil || now.Before(*status.Expiry) {
			return fetch(ctx, store, key, status)
		}
	case StateInProgress:
		return Result{Outcome: OutcomeRetryInProgress, Status: status}, nil
	}

	if err := store.RequestRestore(ctx, key, params.AvailabilityDays, params.Speed); err != nil {
		return Result{}, fmt.Errorf("request restore: %w", err)
	}
	return Result{Outcome: OutcomeRestoreInitiated, Status: status}, nil
}

func fetch(ctx context.Context, store Store, key string, status RestoreStatus) (Result, error) {
	obj, err := store.Fetch(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("fetch object: %w", err)
	}
	return Result{Outcome: OutcomeOK, Object: obj, Status: status}, nil
}
