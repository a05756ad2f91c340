package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tallygate/service-attendance-go/internal/entry"
	"github.com/tallygate/service-attendance-go/internal/orphan"
)

// OrphanRepo provides data access for the orphaned_entries table using sqlx.
type OrphanRepo struct {
	db *sqlx.DB
}

func NewOrphanRepo(db *sqlx.DB) *OrphanRepo { return &OrphanRepo{db: db} }

// EnsureTable creates the orphaned_entries table if not exists (idempotent).
func (r *OrphanRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS orphaned_entries (
  id TEXT PRIMARY KEY,
  organization_id BIGINT NOT NULL,
  event_id BIGINT,
  scanner_id BIGINT NOT NULL,
  scan_uuid TEXT NOT NULL,
  payload JSONB NOT NULL,
  reason TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orphaned_entries_org ON orphaned_entries(organization_id, created_at DESC);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

type orphanRow struct {
	ID             string    `db:"id"`
	OrganizationID int64     `db:"organization_id"`
	EventID        *int64    `db:"event_id"`
	ScannerID      int64     `db:"scanner_id"`
	ScanUUID       string    `db:"scan_uuid"`
	Payload        []byte    `db:"payload"`
	Reason         string    `db:"reason"`
	CreatedAt      time.Time `db:"created_at"`
}

func (row orphanRow) toEntity() (orphan.Orphan, error) {
	var payload entry.EntryRecord
	if err := json.Unmarshal(row.Payload, &payload); err != nil {
		return orphan.Orphan{}, fmt.Errorf("unmarshal payload of orphan %s: %w", row.ID, err)
	}
	return orphan.Orphan{
		ID:             row.ID,
		OrganizationID: row.OrganizationID,
		EventID:        row.EventID,
		ScannerID:      row.ScannerID,
		ScanUUID:       row.ScanUUID,
		Payload:        payload,
		Reason:         row.Reason,
		CreatedAt:      row.CreatedAt,
	}, nil
}

func (r *OrphanRepo) Insert(ctx context.Context, o *orphan.Orphan) error {
	payload, err := json.Marshal(o.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO orphaned_entries (id, organization_id, event_id, scanner_id, scan_uuid, payload, reason, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.OrganizationID, o.EventID, o.ScannerID, o.ScanUUID, payload, o.Reason, o.CreatedAt)
	return err
}

// ListByOrganization returns a page of orphans, newest first, plus the total
// count for pagination.
func (r *OrphanRepo) ListByOrganization(ctx context.Context, organizationID int64, offset, limit int) ([]orphan.Orphan, int64, error) {
	var total int64
	err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM orphaned_entries WHERE organization_id=$1`, organizationID)
	if err != nil {
		return nil, 0, err
	}

	var rows []orphanRow
	err = r.db.SelectContext(ctx, &rows, `
SELECT id, organization_id, event_id, scanner_id, scan_uuid, payload, reason, created_at
FROM orphaned_entries
WHERE organization_id=$1
ORDER BY created_at DESC, id
OFFSET $2 LIMIT $3`,
		organizationID, offset, limit)
	if err != nil {
		return nil, 0, err
	}

	out := make([]orphan.Orphan, 0, len(rows))
	for _, row := range rows {
		o, err := row.toEntity()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, nil
}

func (r *OrphanRepo) Get(ctx context.Context, organizationID int64, id string) (*orphan.Orphan, error) {
	var row orphanRow
	err := r.db.GetContext(ctx, &row, `
SELECT id, organization_id, event_id, scanner_id, scan_uuid, payload, reason, created_at
FROM orphaned_entries WHERE organization_id=$1 AND id=$2`,
		organizationID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, orphan.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o, err := row.toEntity()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrphanRepo) Delete(ctx context.Context, organizationID int64, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM orphaned_entries WHERE organization_id=$1 AND id=$2`,
		organizationID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return orphan.ErrNotFound
	}
	return nil
}
