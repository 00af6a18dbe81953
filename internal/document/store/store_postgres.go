package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"repertor/internal/document"
	"repertor/pkg/platform/sentinel"
	"repertor/pkg/platform/tx"
)

// PostgresStore persists documents in PostgreSQL. The unique index on
// registration_id is what actually holds the one-document-per-registration
// invariant; concurrent binds that race past the row lock land here.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed document store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const documentColumns = `id, registration_id, status, evidence_key, evidence_content_type, evidence_size, original_name, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, doc *document.Document) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx,
		`INSERT INTO documents (id, registration_id, status, evidence_key, evidence_content_type, evidence_size, original_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID, doc.RegistrationID, string(doc.Status),
		nullString(doc.EvidenceKey), nullString(doc.EvidenceContentType),
		doc.EvidenceSize, nullString(doc.OriginalName),
		doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", translateConflict(err))
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (*document.Document, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	return scanDocument(row)
}

func (s *PostgresStore) FindByRegistration(ctx context.Context, registrationID uuid.UUID) (*document.Document, error) {
	q := tx.Resolve(ctx, s.db)
	row := q.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE registration_id = $1`, registrationID)
	return scanDocument(row)
}

func (s *PostgresStore) CountByRegistration(ctx context.Context, registrationID uuid.UUID) (int, error) {
	q := tx.Resolve(ctx, s.db)
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE registration_id = $1`, registrationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Update(ctx context.Context, doc *document.Document) error {
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx,
		`UPDATE documents
		 SET registration_id = $2, status = $3, evidence_key = $4,
		     evidence_content_type = $5, evidence_size = $6,
		     original_name = $7, updated_at = $8
		 WHERE id = $1`,
		doc.ID, doc.RegistrationID, string(doc.Status),
		nullString(doc.EvidenceKey), nullString(doc.EvidenceContentType),
		doc.EvidenceSize, nullString(doc.OriginalName), doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update document: %w", translateConflict(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanDocument(row *sql.Row) (*document.Document, error) {
	var doc document.Document
	var status string
	var key, contentType, name sql.NullString
	var size sql.NullInt64
	err := row.Scan(&doc.ID, &doc.RegistrationID, &status,
		&key, &contentType, &size, &name, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	doc.Status = document.Status(status)
	doc.EvidenceKey = key.String
	doc.EvidenceContentType = contentType.String
	doc.EvidenceSize = size.Int64
	doc.OriginalName = name.String
	return &doc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func translateConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %s", sentinel.ErrConflict, pgErr.ConstraintName)
	}
	return err
}
