package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/tallygate/service-attendance-go/internal/scanner"
)

// ScannerRepo provides data access for the scanners table using sqlx.
type ScannerRepo struct {
	db *sqlx.DB
}

func NewScannerRepo(db *sqlx.DB) *ScannerRepo { return &ScannerRepo{db: db} }

// EnsureTable creates the scanners table if not exists (idempotent).
func (r *ScannerRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS scanners (
  id BIGINT PRIMARY KEY,
  organization_id BIGINT NOT NULL,
  email TEXT NOT NULL UNIQUE,
  secret_hash TEXT NOT NULL,
  label TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'active'
);
CREATE INDEX IF NOT EXISTS idx_scanners_org ON scanners(organization_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// GetByEmail returns nil when no scanner carries the email.
func (r *ScannerRepo) GetByEmail(ctx context.Context, email string) (*scanner.Scanner, error) {
	var row scanner.Scanner
	err := r.db.GetContext(ctx, &row,
		`SELECT id, organization_id, email, secret_hash, label, status FROM scanners WHERE email=$1`,
		email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Create inserts a provisioned scanner row.
func (r *ScannerRepo) Create(ctx context.Context, s *scanner.Scanner) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO scanners (id, organization_id, email, secret_hash, label, status)
VALUES ($1,$2,$3,$4,$5,$6)`,
		s.ID, s.OrganizationID, s.Email, s.SecretHash, s.Label, s.Status)
	return err
}
