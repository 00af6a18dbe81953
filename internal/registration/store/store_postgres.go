package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"repertor/internal/registration"
	"repertor/pkg/platform/sentinel"
	"repertor/pkg/platform/tx"
)

// PostgresStore persists registrations and counters in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed registration store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// CreateWithNextSequence implements the allocation transaction body. It must
// run inside a transaction (tx.Runner) because the counter row lock and the
// registration insert have to commit atomically.
//
// The existing-sequence scan defends against rows inserted out of band, e.g.
// by repair or migration tooling that bypassed the counter.
func (s *PostgresStore) CreateWithNextSequence(ctx context.Context, reg *registration.Registration) error {
	q := tx.Resolve(ctx, s.db)

	_, err := q.ExecContext(ctx,
		`INSERT INTO registration_counters (year, month, current) VALUES ($1, $2, 0)
		 ON CONFLICT (year, month) DO NOTHING`,
		reg.Year, reg.Month)
	if err != nil {
		return fmt.Errorf("ensure counter: %w", translateConflict(err))
	}

	var current int
	err = q.QueryRowContext(ctx,
		`SELECT current FROM registration_counters WHERE year = $1 AND month = $2 FOR UPDATE`,
		reg.Year, reg.Month).Scan(&current)
	if err != nil {
		return fmt.Errorf("lock counter: %w", err)
	}

	taken, err := s.sequencesInPeriod(ctx, q, reg.Period())
	if err != nil {
		return err
	}

	candidate := current + 1
	for taken[candidate] {
		candidate++
	}

	_, err = q.ExecContext(ctx,
		`UPDATE registration_counters SET current = $3 WHERE year = $1 AND month = $2`,
		reg.Year, reg.Month, candidate)
	if err != nil {
		return fmt.Errorf("advance counter: %w", err)
	}

	reg.Sequence = candidate
	reg.DisplayNumber = registration.FormatDisplayNumber(candidate, reg.Month, reg.Year)

	_, err = q.ExecContext(ctx,
		`INSERT INTO registrations (id, year, month, sequence, display_number, state, owner_id, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		reg.ID, reg.Year, reg.Month, reg.Sequence, reg.DisplayNumber,
		string(reg.State), reg.OwnerID, reg.IssuedAt, reg.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert registration: %w", translateConflict(err))
	}
	return nil
}

func (s *PostgresStore) sequencesInPeriod(ctx context.Context, q tx.Querier, p registration.Period) (map[int]bool, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT sequence FROM registrations WHERE year = $1 AND month = $2`,
		p.Year, p.Month)
	if err != nil {
		return nil, fmt.Errorf("scan period sequences: %w", err)
	}
	defer rows.Close()

	taken := make(map[int]bool)
	for rows.Next() {
		var seq int
		if err := rows.Scan(&seq); err != nil {
			return nil, fmt.Errorf("scan sequence: %w", err)
		}
		taken[seq] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sequences: %w", err)
	}
	return taken, nil
}

// CounterValue reads the counter without locking. Missing counters read as 0.
func (s *PostgresStore) CounterValue(ctx context.Context, p registration.Period) (int, error) {
	q := tx.Resolve(ctx, s.db)
	var current int
	err := q.QueryRowContext(ctx,
		`SELECT current FROM registration_counters WHERE year = $1 AND month = $2`,
		p.Year, p.Month).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter: %w", err)
	}
	return current, nil
}

const registrationColumns = `id, year, month, sequence, display_number, state, owner_id, issued_at, expires_at`

func (s *PostgresStore) FindByNumber(ctx context.Context, displayNumber string) (*registration.Registration, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE display_number = $1`,
		displayNumber)
	return scanRegistration(row)
}

func (s *PostgresStore) LockByNumber(ctx context.Context, displayNumber string) (*registration.Registration, error) {
	if _, inTx := tx.From(ctx); !inTx {
		return nil, fmt.Errorf("lock registration: no transaction in context")
	}
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE display_number = $1 FOR UPDATE`,
		displayNumber)
	return scanRegistration(row)
}

func (s *PostgresStore) LockByID(ctx context.Context, id uuid.UUID) (*registration.Registration, error) {
	if _, inTx := tx.From(ctx); !inTx {
		return nil, fmt.Errorf("lock registration: no transaction in context")
	}
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1 FOR UPDATE`,
		id)
	return scanRegistration(row)
}

func (s *PostgresStore) ListByPeriod(ctx context.Context, p registration.Period) ([]*registration.Registration, error) {
	q := tx.Resolve(ctx, s.db)
	rows, err := q.QueryContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations
		 WHERE year = $1 AND month = $2 ORDER BY sequence`,
		p.Year, p.Month)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []*registration.Registration
	for rows.Next() {
		reg, err := scanRegistrationRow(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}
	return regs, nil
}

func (s *PostgresStore) UpdateState(ctx context.Context, id uuid.UUID, state registration.State) error {
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx,
		`UPDATE registrations SET state = $2 WHERE id = $1`,
		id, string(state))
	if err != nil {
		return fmt.Errorf("update registration state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row *sql.Row) (*registration.Registration, error) {
	reg, err := scanRegistrationRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	return reg, err
}

func scanRegistrationRow(row rowScanner) (*registration.Registration, error) {
	var reg registration.Registration
	var state string
	err := row.Scan(&reg.ID, &reg.Year, &reg.Month, &reg.Sequence,
		&reg.DisplayNumber, &state, &reg.OwnerID, &reg.IssuedAt, &reg.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan registration: %w", err)
	}
	reg.State = registration.State(state)
	return &reg, nil
}

// translateConflict turns a (period, sequence) unique violation into
// sentinel.ErrConflict. Two transactions computing the same candidate before
// either commits is a benign race; the allocator retries it.
func translateConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %v", sentinel.ErrConflict, err)
	}
	return err
}
