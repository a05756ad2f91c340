package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tallygate/service-attendance-go/internal/entry"
)

const (
	scanUUIDConstraint        = "entries_scan_uuid_key"
	attendeeSessionConstraint = "entries_attendee_session_key"
	attendeeEventConstraint   = "entries_attendee_event_unscheduled_key"
)

// EntryRepo provides data access for the entries table using sqlx.
type EntryRepo struct {
	db *sqlx.DB
}

func NewEntryRepo(db *sqlx.DB) *EntryRepo { return &EntryRepo{db: db} }

// EnsureTable creates the entries table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
//
// The partial unique indexes are the logical-duplicate guards: at most one
// entry per (attendee, session) when bound, at most one unscheduled entry
// per (attendee, event) when not.
func (r *EntryRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS entries (
  id BIGINT PRIMARY KEY,
  scan_uuid TEXT NOT NULL,
  organization_id BIGINT NOT NULL,
  event_id BIGINT NOT NULL,
  session_id BIGINT,
  attendee_id BIGINT NOT NULL,
  scanner_id BIGINT NOT NULL,
  scanned_at TIMESTAMPTZ NOT NULL,
  synced_at TIMESTAMPTZ NOT NULL,
  punctuality TEXT NOT NULL,
  attendee_identity TEXT NOT NULL DEFAULT '',
  attendee_first_name TEXT NOT NULL DEFAULT '',
  attendee_last_name TEXT NOT NULL DEFAULT '',
  attendee_attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
  CONSTRAINT entries_scan_uuid_key UNIQUE (scan_uuid)
);
CREATE UNIQUE INDEX IF NOT EXISTS entries_attendee_session_key
  ON entries(attendee_id, session_id) WHERE session_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS entries_attendee_event_unscheduled_key
  ON entries(attendee_id, event_id) WHERE session_id IS NULL;
CREATE INDEX IF NOT EXISTS idx_entries_event ON entries(organization_id, event_id);
CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(session_id);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// ExistingScanUUIDs returns the subset of uuids already persisted.
func (r *EntryRepo) ExistingScanUUIDs(ctx context.Context, uuids []string) (map[string]struct{}, error) {
	if len(uuids) == 0 {
		return map[string]struct{}{}, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT scan_uuid FROM entries WHERE scan_uuid = ANY($1)`, pq.Array(uuids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := map[string]struct{}{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		seen[u] = struct{}{}
	}
	return seen, rows.Err()
}

func (r *EntryRepo) ExistsForSession(ctx context.Context, attendeeID, sessionID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM entries WHERE attendee_id=$1 AND session_id=$2)`,
		attendeeID, sessionID)
	return exists, err
}

func (r *EntryRepo) ExistsUnscheduled(ctx context.Context, attendeeID, eventID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM entries WHERE attendee_id=$1 AND event_id=$2 AND session_id IS NULL)`,
		attendeeID, eventID)
	return exists, err
}

// Insert persists one entry in its own implicit transaction. Constraint
// violations are translated into the engine's sentinel errors so the service
// can tell a benign retry race from a logical duplicate from a real data
// error.
func (r *EntryRepo) Insert(ctx context.Context, e *entry.Entry) error {
	attrs := e.AttendeeAttributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	const q = `INSERT INTO entries (
  id, scan_uuid, organization_id, event_id, session_id, attendee_id, scanner_id,
  scanned_at, synced_at, punctuality,
  attendee_identity, attendee_first_name, attendee_last_name, attendee_attributes
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	_, err = r.db.ExecContext(ctx, q,
		e.ID, e.ScanUUID, e.OrganizationID, e.EventID, e.SessionID, e.AttendeeID, e.ScannerID,
		e.ScannedAt, e.SyncedAt, e.Punctuality,
		e.AttendeeIdentity, e.AttendeeFirstName, e.AttendeeLastName, attrsJSON,
	)
	return translateIntegrityError(err)
}

// translateIntegrityError maps pq constraint violations to sentinel errors.
// Discrimination is by constraint name, not error message substring.
func translateIntegrityError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	if pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case scanUUIDConstraint:
			return fmt.Errorf("%w: %v", entry.ErrDuplicateScanUUID, err)
		case attendeeSessionConstraint, attendeeEventConstraint:
			return fmt.Errorf("%w: %v", entry.ErrDuplicateEntry, err)
		}
	}
	if pqErr.Code.Class() == "23" {
		return fmt.Errorf("%w: %v", entry.ErrIntegrity, err)
	}
	return err
}

type entryRow struct {
	ID                 int64             `db:"id"`
	ScanUUID           string            `db:"scan_uuid"`
	OrganizationID     int64             `db:"organization_id"`
	EventID            int64             `db:"event_id"`
	SessionID          *int64            `db:"session_id"`
	AttendeeID         int64             `db:"attendee_id"`
	ScannerID          int64             `db:"scanner_id"`
	ScannedAt          time.Time         `db:"scanned_at"`
	SyncedAt           time.Time         `db:"synced_at"`
	Punctuality        entry.Punctuality `db:"punctuality"`
	AttendeeIdentity   string            `db:"attendee_identity"`
	AttendeeFirstName  string            `db:"attendee_first_name"`
	AttendeeLastName   string            `db:"attendee_last_name"`
	AttendeeAttributes []byte            `db:"attendee_attributes"`
}

func (row entryRow) toEntity() (entry.Entry, error) {
	attrs := map[string]string{}
	if len(row.AttendeeAttributes) > 0 {
		if err := json.Unmarshal(row.AttendeeAttributes, &attrs); err != nil {
			return entry.Entry{}, fmt.Errorf("unmarshal attributes of entry %d: %w", row.ID, err)
		}
	}
	return entry.Entry{
		ID:                 row.ID,
		ScanUUID:           row.ScanUUID,
		OrganizationID:     row.OrganizationID,
		EventID:            row.EventID,
		SessionID:          row.SessionID,
		AttendeeID:         row.AttendeeID,
		ScannerID:          row.ScannerID,
		ScannedAt:          row.ScannedAt,
		SyncedAt:           row.SyncedAt,
		Punctuality:        row.Punctuality,
		AttendeeIdentity:   row.AttendeeIdentity,
		AttendeeFirstName:  row.AttendeeFirstName,
		AttendeeLastName:   row.AttendeeLastName,
		AttendeeAttributes: attrs,
	}, nil
}

const entryColumns = `id, scan_uuid, organization_id, event_id, session_id, attendee_id, scanner_id,
scanned_at, synced_at, punctuality,
attendee_identity, attendee_first_name, attendee_last_name, attendee_attributes`

// ListBySession returns every entry currently bound to the session, oldest
// scan first.
func (r *EntryRepo) ListBySession(ctx context.Context, sessionID int64) ([]entry.Entry, error) {
	var rows []entryRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+entryColumns+` FROM entries WHERE session_id=$1 ORDER BY scanned_at, id`,
		sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]entry.Entry, 0, len(rows))
	for _, row := range rows {
		e, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Reassign moves an entry to a new session (nil = unscheduled) with a fresh
// classification. Duplicate-guard violations surface as ErrDuplicateEntry.
func (r *EntryRepo) Reassign(ctx context.Context, entryID int64, sessionID *int64, p entry.Punctuality) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entries SET session_id=$2, punctuality=$3 WHERE id=$1`,
		entryID, sessionID, p)
	if err != nil {
		return translateIntegrityError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SummarizeEvent aggregates counts, breakdowns and scan bounds for an event.
func (r *EntryRepo) SummarizeEvent(ctx context.Context, organizationID, eventID int64) (*entry.EventSummary, error) {
	sum := &entry.EventSummary{EventID: eventID}

	var bounds struct {
		Total int64      `db:"total"`
		First *time.Time `db:"first_scan"`
		Last  *time.Time `db:"last_scan"`
	}
	err := r.db.GetContext(ctx, &bounds, `
SELECT COUNT(*) AS total, MIN(scanned_at) AS first_scan, MAX(scanned_at) AS last_scan
FROM entries WHERE organization_id=$1 AND event_id=$2`,
		organizationID, eventID)
	if err != nil {
		return nil, err
	}
	sum.TotalEntries = bounds.Total
	sum.FirstScan = bounds.First
	sum.LastScan = bounds.Last

	err = r.db.SelectContext(ctx, &sum.BySession, `
SELECT session_id, COUNT(*) AS n FROM entries
WHERE organization_id=$1 AND event_id=$2
GROUP BY session_id ORDER BY session_id NULLS LAST`,
		organizationID, eventID)
	if err != nil {
		return nil, err
	}

	err = r.db.SelectContext(ctx, &sum.ByScanner, `
SELECT scanner_id, COUNT(*) AS n FROM entries
WHERE organization_id=$1 AND event_id=$2
GROUP BY scanner_id ORDER BY scanner_id`,
		organizationID, eventID)
	if err != nil {
		return nil, err
	}

	err = r.db.SelectContext(ctx, &sum.ByPunctuality, `
SELECT punctuality, COUNT(*) AS n FROM entries
WHERE organization_id=$1 AND event_id=$2
GROUP BY punctuality ORDER BY punctuality`,
		organizationID, eventID)
	if err != nil {
		return nil, err
	}

	return sum, nil
}

// AttendeeStatuses lists the recorded state of every attendee with at least
// one entry for the event.
func (r *EntryRepo) AttendeeStatuses(ctx context.Context, organizationID, eventID int64) ([]entry.AttendeeStatus, error) {
	var out []entry.AttendeeStatus
	err := r.db.SelectContext(ctx, &out, `
SELECT attendee_id, attendee_identity, attendee_first_name, attendee_last_name,
       session_id, punctuality, scanned_at
FROM entries
WHERE organization_id=$1 AND event_id=$2
ORDER BY attendee_id, scanned_at`,
		organizationID, eventID)
	if err != nil {
		return nil, err
	}
	return out, nil
}
