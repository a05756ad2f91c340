// Package directory holds read-only facades over tables owned by the
// external event/roster modules. The capture engine consumes them through
// the narrow interfaces declared in internal/entry; nothing here mutates
// schedule or roster state.
package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tallygate/service-attendance-go/internal/entry"
)

// Directory implements entry.Schedule, entry.AttendeeDirectory,
// entry.SessionLookup and orphan.EventNames against the shared database.
type Directory struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Directory { return &Directory{db: db} }

// EnsureTables creates the external-module tables if they do not exist.
// Convenience for local development against an empty database; in a shared
// deployment the event module owns this schema.
func (d *Directory) EnsureTables(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS events (
  id BIGINT PRIMARY KEY,
  organization_id BIGINT NOT NULL,
  name TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS sessions (
  id BIGINT PRIMARY KEY,
  event_id BIGINT NOT NULL REFERENCES events(id),
  name TEXT NOT NULL DEFAULT '',
  target_time TIMESTAMPTZ NOT NULL,
  grace_minutes_before INT NOT NULL DEFAULT 0,
  grace_minutes_after INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_event ON sessions(event_id);
CREATE TABLE IF NOT EXISTS attendees (
  id BIGINT PRIMARY KEY,
  organization_id BIGINT NOT NULL,
  identity TEXT NOT NULL DEFAULT '',
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  attributes JSONB NOT NULL DEFAULT '{}'::jsonb
);
`
	_, err := d.db.ExecContext(ctx, ddl)
	return err
}

func (d *Directory) EventExists(ctx context.Context, eventID int64) (bool, error) {
	var exists bool
	err := d.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM events WHERE id=$1)`, eventID)
	return exists, err
}

// EventName returns "" when the event does not exist.
func (d *Directory) EventName(ctx context.Context, eventID int64) (string, error) {
	var name string
	err := d.db.GetContext(ctx, &name, `SELECT name FROM events WHERE id=$1`, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return name, err
}

// SessionsForEvent returns the full schedule of an event, id-ordered.
func (d *Directory) SessionsForEvent(ctx context.Context, eventID int64) ([]entry.SessionDetails, error) {
	var out []entry.SessionDetails
	err := d.db.SelectContext(ctx, &out, `
SELECT id, target_time, grace_minutes_before, grace_minutes_after
FROM sessions WHERE event_id=$1 ORDER BY id`,
		eventID)
	return out, err
}

// SessionByID returns nil when the session does not exist.
func (d *Directory) SessionByID(ctx context.Context, sessionID int64) (*entry.SessionDetails, error) {
	var s entry.SessionDetails
	err := d.db.GetContext(ctx, &s, `
SELECT id, target_time, grace_minutes_before, grace_minutes_after
FROM sessions WHERE id=$1`,
		sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// FindAttendee returns nil when the attendee does not exist in the
// organization.
func (d *Directory) FindAttendee(ctx context.Context, attendeeID, organizationID int64) (*entry.AttendeeSnapshot, error) {
	var row struct {
		Identity   string `db:"identity"`
		FirstName  string `db:"first_name"`
		LastName   string `db:"last_name"`
		Attributes []byte `db:"attributes"`
	}
	err := d.db.GetContext(ctx, &row, `
SELECT identity, first_name, last_name, attributes
FROM attendees WHERE id=$1 AND organization_id=$2`,
		attendeeID, organizationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	attrs := map[string]string{}
	if len(row.Attributes) > 0 {
		if err := json.Unmarshal(row.Attributes, &attrs); err != nil {
			return nil, fmt.Errorf("unmarshal attributes of attendee %d: %w", attendeeID, err)
		}
	}
	return &entry.AttendeeSnapshot{
		Identity:   row.Identity,
		FirstName:  row.FirstName,
		LastName:   row.LastName,
		Attributes: attrs,
	}, nil
}
