package entry

import "time"

// Punctuality classifies a scan relative to its session's grace window.
type Punctuality string

const (
	PunctualityEarly       Punctuality = "EARLY"
	PunctualityPunctual    Punctuality = "PUNCTUAL"
	PunctualityLate        Punctuality = "LATE"
	PunctualityUnscheduled Punctuality = "UNSCHEDULED"
)

// Entry is one accepted scan record. Immutable after ingestion except for
// session reassignment and punctuality recalculation performed by the
// reconciler when the owning schedule changes.
type Entry struct {
	ID             int64       `db:"id" json:"id"`
	ScanUUID       string      `db:"scan_uuid" json:"scan_uuid"`
	OrganizationID int64       `db:"organization_id" json:"organization_id"`
	EventID        int64       `db:"event_id" json:"event_id"`
	SessionID      *int64      `db:"session_id" json:"session_id"`
	AttendeeID     int64       `db:"attendee_id" json:"attendee_id"`
	ScannerID      int64       `db:"scanner_id" json:"scanner_id"`
	ScannedAt      time.Time   `db:"scanned_at" json:"scanned_at"`
	SyncedAt       time.Time   `db:"synced_at" json:"synced_at"`
	Punctuality    Punctuality `db:"punctuality" json:"punctuality"`

	// Snapshot fields captured at ingestion time so later attendee edits or
	// deletions do not corrupt historical reports.
	AttendeeIdentity   string            `db:"attendee_identity" json:"attendee_identity"`
	AttendeeFirstName  string            `db:"attendee_first_name" json:"attendee_first_name"`
	AttendeeLastName   string            `db:"attendee_last_name" json:"attendee_last_name"`
	AttendeeAttributes map[string]string `db:"-" json:"attendee_attributes"`
}

// EntryRecord is the ingestion input shape for a single scan. It is also the
// round-trippable payload stored with a quarantined scan.
type EntryRecord struct {
	ScanUUID   string    `json:"scanUuid"`
	EventID    int64     `json:"eventId"`
	AttendeeID int64     `json:"attendeeId"`
	ScannedAt  time.Time `json:"scanTimestamp"`
}

// SessionDetails is the schedule view the engine consumes from the Event
// module. Read-only here; may be cached per batch but never mutated.
type SessionDetails struct {
	SessionID          int64     `db:"id" json:"session_id"`
	TargetTime         time.Time `db:"target_time" json:"target_time"`
	GraceMinutesBefore int       `db:"grace_minutes_before" json:"grace_minutes_before"`
	GraceMinutesAfter  int       `db:"grace_minutes_after" json:"grace_minutes_after"`
}

// SyncResult is the response of a batch sync. Clients retry only the uuids
// listed in FailedUUIDs; everything else is terminal.
type SyncResult struct {
	SuccessCount int      `json:"successCount"`
	FailedCount  int      `json:"failedCount"`
	FailedUUIDs  []string `json:"failedUuids"`
}

// AttendeeSnapshot is the best-effort attendee view captured at scan time.
type AttendeeSnapshot struct {
	Identity   string
	FirstName  string
	LastName   string
	Attributes map[string]string
}

// ScannerAuth resolves a scanner identity to its owning organization.
type ScannerAuth struct {
	ScannerID      int64
	OrganizationID int64
}

// Integration event topics.
const (
	TopicEntriesSynced  = "entries.synced"
	TopicEntryCreated   = "entry.created"
	TopicSessionUpdated = "session.updated"
	TopicSessionDeleted = "session.deleted"
)

// EntriesSynced is emitted once per sync batch for downstream analytics
// recomputation.
type EntriesSynced struct {
	ID                   string            `json:"id"`
	AttendeeIDsByEventID map[int64][]int64 `json:"attendee_ids_by_event_id"`
}

// EntryCreated is emitted per accepted entry for per-session/per-scanner
// counters.
type EntryCreated struct {
	EntryID        int64     `json:"entry_id"`
	EventID        int64     `json:"event_id"`
	OrganizationID int64     `json:"organization_id"`
	SessionID      *int64    `json:"session_id"`
	ScannerID      int64     `json:"scanner_id"`
	ScannedAt      time.Time `json:"scanned_at"`
}

// SessionUpdated signals that a session's target time or grace window
// changed. Delivered only after the schedule edit is durable.
type SessionUpdated struct {
	SessionID          int64     `json:"session_id"`
	TargetTime         time.Time `json:"target_time"`
	GraceMinutesBefore int       `json:"grace_minutes_before"`
	GraceMinutesAfter  int       `json:"grace_minutes_after"`
}

// SessionDeleted signals a session removal. The remaining schedule is
// supplied by the caller since the deleted session is already gone.
type SessionDeleted struct {
	SessionID         int64            `json:"session_id"`
	RemainingSessions []SessionDetails `json:"remaining_sessions"`
}
