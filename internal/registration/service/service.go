package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"repertor/internal/audit"
	"repertor/internal/registration"
	"repertor/internal/registration/metrics"
	dErrors "repertor/pkg/domain-errors"
	"repertor/pkg/platform/sentinel"
	"repertor/pkg/platform/tx"
	"repertor/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks

// maxAllocateAttempts bounds the retry loop for sequence collisions. A
// collision is a benign race between two allocations that computed the same
// candidate; exhausting the budget means pathological contention and is
// surfaced, never silently resolved with a duplicate.
const maxAllocateAttempts = 10

// backoffBase scales the randomized wait between retries. Jitter
// de-correlates retrying transactions so they stop colliding.
const backoffBase = 5 * time.Millisecond

// ErrAllocationExhausted is returned when every retry hit a collision. It
// indicates contention, not corruption; clients should retry the request.
var ErrAllocationExhausted = dErrors.New(dErrors.CodeExhausted, "number allocation retries exhausted")

// Auditor is the slice of the audit store the allocator needs.
type Auditor interface {
	Append(ctx context.Context, event audit.Event) error
}

// Service allocates repertory numbers and manages registration lifecycle.
type Service struct {
	store   registration.Store
	runner  tx.Runner
	auditor Auditor
	loc     *time.Location
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func New(store registration.Store, runner tx.Runner, auditor Auditor, loc *time.Location, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		store:   store,
		runner:  runner,
		auditor: auditor,
		loc:     loc,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("repertor/registration"),
	}
}

// Allocate issues the next free number for the current period. The counter
// update and the registration insert commit atomically; collisions retry the
// whole transaction with jittered backoff.
func (s *Service) Allocate(ctx context.Context, ownerID string, expiresAt *time.Time) (*registration.Registration, error) {
	ctx, span := s.tracer.Start(ctx, "registration.Allocate")
	defer span.End()

	if ownerID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "owner is required")
	}

	now := requestcontext.Now(ctx)
	period := registration.PeriodOf(now, s.loc)
	start := time.Now()

	for attempt := 1; attempt <= maxAllocateAttempts; attempt++ {
		reg := &registration.Registration{
			ID:        uuid.New(),
			Year:      period.Year,
			Month:     period.Month,
			State:     registration.StateIssued,
			OwnerID:   ownerID,
			IssuedAt:  now,
			ExpiresAt: expiresAt,
		}

		err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.store.CreateWithNextSequence(ctx, reg); err != nil {
				return err
			}
			return s.auditor.Append(ctx, audit.Event{
				ActorID: requestcontext.ActorID(ctx),
				Action:  audit.ActionNumberAllocated,
				Subject: reg.DisplayNumber,
				Detail:  map[string]string{"owner": ownerID},
			})
		})
		if err == nil {
			span.SetAttributes(
				attribute.String("registration.number", reg.DisplayNumber),
				attribute.Int("registration.attempts", attempt),
			)
			s.metrics.RecordOutcome("allocated")
			s.metrics.ObserveAllocation(time.Since(start), attempt)
			return reg, nil
		}

		if !errors.Is(err, sentinel.ErrConflict) {
			s.metrics.RecordOutcome("error")
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "allocate registration number")
		}

		s.metrics.RecordOutcome("conflict_retry")
		s.logger.DebugContext(ctx, "allocation collision, retrying",
			"period", period.String(), "attempt", attempt)

		if err := sleepWithJitter(ctx, attempt); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "allocation cancelled")
		}
	}

	s.metrics.RecordOutcome("exhausted")
	s.logger.WarnContext(ctx, "allocation retries exhausted", "period", period.String())
	return nil, ErrAllocationExhausted
}

// Preview renders what the next number would look like using only the
// counter's current value. It reserves nothing: a concurrent allocation can
// invalidate the hint immediately, and gap-skipping may push the real
// sequence further.
func (s *Service) Preview(ctx context.Context) (string, error) {
	now := requestcontext.Now(ctx)
	period := registration.PeriodOf(now, s.loc)

	current, err := s.store.CounterValue(ctx, period)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "preview next number")
	}
	return registration.FormatDisplayNumber(current+1, period.Month, period.Year), nil
}

// Get looks a registration up by display number.
func (s *Service) Get(ctx context.Context, displayNumber string) (*registration.Registration, error) {
	reg, err := s.store.FindByNumber(ctx, displayNumber)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "registration not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find registration")
	}
	return reg, nil
}

// List returns all registrations in a period, ordered by sequence.
func (s *Service) List(ctx context.Context, period registration.Period) ([]*registration.Registration, error) {
	if period.Month < 1 || period.Month > 12 {
		return nil, dErrors.New(dErrors.CodeValidation, "month must be between 1 and 12")
	}
	regs, err := s.store.ListByPeriod(ctx, period)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list registrations")
	}
	return regs, nil
}

// Void administratively cancels a registration. The row persists for audit;
// VOID is terminal.
func (s *Service) Void(ctx context.Context, displayNumber string) error {
	ctx, span := s.tracer.Start(ctx, "registration.Void")
	defer span.End()

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		reg, err := s.store.LockByNumber(ctx, displayNumber)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "registration not found")
			}
			return fmt.Errorf("lock registration: %w", err)
		}
		if reg.State == registration.StateVoid {
			return dErrors.New(dErrors.CodeConflict, "registration already void")
		}

		if err := s.store.UpdateState(ctx, reg.ID, registration.StateVoid); err != nil {
			return fmt.Errorf("void registration: %w", err)
		}
		return s.auditor.Append(ctx, audit.Event{
			ActorID: requestcontext.ActorID(ctx),
			Action:  audit.ActionRegistrationVoid,
			Subject: displayNumber,
		})
	})
	if err != nil {
		var de *dErrors.DomainError
		if errors.As(err, &de) {
			return de
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "void registration")
	}
	return nil
}

// sleepWithJitter waits a randomized, linearly growing interval, respecting
// context cancellation.
func sleepWithJitter(ctx context.Context, attempt int) error {
	max := backoffBase * time.Duration(attempt)
	wait := time.Duration(rand.Int63n(int64(max))) + backoffBase/2
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
