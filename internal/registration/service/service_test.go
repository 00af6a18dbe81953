package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"repertor/internal/audit"
	"repertor/internal/registration"
	"repertor/internal/registration/store"
	dErrors "repertor/pkg/domain-errors"
	"repertor/pkg/platform/sentinel"
	"repertor/pkg/platform/tx"
	"repertor/pkg/requestcontext"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestService(st registration.Store) (*Service, *audit.MemoryStore) {
	auditStore := audit.NewMemory()
	svc := New(st, tx.NewMemoryRunner(), auditStore, time.UTC, discardLogger(), nil)
	return svc, auditStore
}

func fixedCtx(year, month, day int) context.Context {
	return requestcontext.WithTime(context.Background(),
		time.Date(year, time.Month(month), day, 10, 0, 0, 0, time.UTC))
}

func TestAllocate(t *testing.T) {
	t.Run("first number in empty period", func(t *testing.T) {
		svc, auditStore := newTestService(store.NewMemory())
		ctx := fixedCtx(2025, 10, 6)

		reg, err := svc.Allocate(ctx, "translator-1", nil)
		require.NoError(t, err)
		require.Equal(t, 1, reg.Sequence)
		require.Equal(t, "01/X/2025", reg.DisplayNumber)
		require.Equal(t, registration.StateIssued, reg.State)

		events := auditStore.Events()
		require.Len(t, events, 1)
		require.Equal(t, audit.ActionNumberAllocated, events[0].Action)
		require.Equal(t, "01/X/2025", events[0].Subject)
	})

	t.Run("missing owner rejected", func(t *testing.T) {
		svc, _ := newTestService(store.NewMemory())
		_, err := svc.Allocate(context.Background(), "", nil)
		require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("skips sequence present from out-of-band insert", func(t *testing.T) {
		st := store.NewMemory()
		st.Seed(&registration.Registration{
			ID: uuid.New(), Year: 2025, Month: 10, Sequence: 1,
			State: registration.StateIssued, OwnerID: "migrated",
		})
		svc, _ := newTestService(st)

		reg, err := svc.Allocate(fixedCtx(2025, 10, 6), "translator-1", nil)
		require.NoError(t, err)
		require.Equal(t, 2, reg.Sequence, "counter at 0 with existing sequence 1 must yield 2")
	})

	t.Run("parallel allocations never duplicate", func(t *testing.T) {
		svc, _ := newTestService(store.NewMemory())
		ctx := fixedCtx(2025, 10, 6)

		const callers = 20
		var wg sync.WaitGroup
		sequences := make(chan int, callers)
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				reg, err := svc.Allocate(ctx, "translator-1", nil)
				if err == nil {
					sequences <- reg.Sequence
				}
			}()
		}
		wg.Wait()
		close(sequences)

		seen := make(map[int]bool)
		count := 0
		for seq := range sequences {
			require.False(t, seen[seq], "sequence %d issued twice", seq)
			seen[seq] = true
			count++
		}
		require.Equal(t, callers, count)
		// No gaps: every sequence 1..callers issued exactly once.
		for i := 1; i <= callers; i++ {
			require.True(t, seen[i], "sequence %d missing", i)
		}
	})
}

// conflictStore forces a number of collisions before delegating, exercising
// the retry loop the way a contended counter would.
type conflictStore struct {
	registration.Store
	mu        sync.Mutex
	conflicts int
}

func (s *conflictStore) CreateWithNextSequence(ctx context.Context, reg *registration.Registration) error {
	s.mu.Lock()
	remaining := s.conflicts
	if remaining > 0 {
		s.conflicts--
	}
	s.mu.Unlock()
	if remaining > 0 {
		return sentinel.ErrConflict
	}
	return s.Store.CreateWithNextSequence(ctx, reg)
}

func TestAllocateRetries(t *testing.T) {
	t.Run("recovers from collisions", func(t *testing.T) {
		st := &conflictStore{Store: store.NewMemory(), conflicts: 3}
		svc, _ := newTestService(st)

		reg, err := svc.Allocate(fixedCtx(2025, 10, 6), "translator-1", nil)
		require.NoError(t, err)
		require.Equal(t, 1, reg.Sequence)
	})

	t.Run("exhausts after bounded attempts", func(t *testing.T) {
		st := &conflictStore{Store: store.NewMemory(), conflicts: 1000}
		svc, _ := newTestService(st)

		_, err := svc.Allocate(fixedCtx(2025, 10, 6), "translator-1", nil)
		require.ErrorIs(t, err, ErrAllocationExhausted)
		require.True(t, dErrors.HasCode(err, dErrors.CodeExhausted))
	})
}

func TestPreview(t *testing.T) {
	t.Run("empty period previews 1", func(t *testing.T) {
		svc, _ := newTestService(store.NewMemory())
		number, err := svc.Preview(fixedCtx(2025, 10, 6))
		require.NoError(t, err)
		require.Equal(t, "01/X/2025", number)
	})

	t.Run("uses counter only, not existing rows", func(t *testing.T) {
		st := store.NewMemory()
		st.Seed(&registration.Registration{
			ID: uuid.New(), Year: 2025, Month: 10, Sequence: 1,
			State: registration.StateIssued, OwnerID: "migrated",
		})
		svc, _ := newTestService(st)

		// The seeded row bypassed the counter, so the hint is stale. That
		// is the documented contract: preview is best-effort.
		number, err := svc.Preview(fixedCtx(2025, 10, 6))
		require.NoError(t, err)
		require.Equal(t, "01/X/2025", number)
	})

	t.Run("tracks allocations", func(t *testing.T) {
		svc, _ := newTestService(store.NewMemory())
		ctx := fixedCtx(2025, 10, 6)

		_, err := svc.Allocate(ctx, "translator-1", nil)
		require.NoError(t, err)

		number, err := svc.Preview(ctx)
		require.NoError(t, err)
		require.Equal(t, "02/X/2025", number)
	})
}

func TestVoid(t *testing.T) {
	svc, auditStore := newTestService(store.NewMemory())
	ctx := fixedCtx(2025, 10, 6)

	reg, err := svc.Allocate(ctx, "translator-1", nil)
	require.NoError(t, err)

	t.Run("voids issued registration", func(t *testing.T) {
		require.NoError(t, svc.Void(ctx, reg.DisplayNumber))

		got, err := svc.Get(ctx, reg.DisplayNumber)
		require.NoError(t, err)
		require.Equal(t, registration.StateVoid, got.State)

		events := auditStore.Events()
		require.Equal(t, audit.ActionRegistrationVoid, events[len(events)-1].Action)
	})

	t.Run("void is terminal", func(t *testing.T) {
		err := svc.Void(ctx, reg.DisplayNumber)
		require.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("unknown number not found", func(t *testing.T) {
		err := svc.Void(ctx, "99/XII/1999")
		require.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestGetAndList(t *testing.T) {
	svc, _ := newTestService(store.NewMemory())
	ctx := fixedCtx(2025, 10, 6)

	first, err := svc.Allocate(ctx, "translator-1", nil)
	require.NoError(t, err)
	_, err = svc.Allocate(ctx, "translator-2", nil)
	require.NoError(t, err)

	got, err := svc.Get(ctx, first.DisplayNumber)
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID)

	_, err = svc.Get(ctx, "77/I/2000")
	require.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))

	regs, err := svc.List(ctx, registration.Period{Year: 2025, Month: 10})
	require.NoError(t, err)
	require.Len(t, regs, 2)

	_, err = svc.List(ctx, registration.Period{Year: 2025, Month: 13})
	require.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}
