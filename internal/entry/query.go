package entry

import (
	"context"
	"fmt"
	"time"
)

// SessionCount is one row of a per-session breakdown.
type SessionCount struct {
	SessionID *int64 `db:"session_id" json:"session_id"`
	Count     int64  `db:"n" json:"count"`
}

// ScannerCount is one row of a per-scanner breakdown.
type ScannerCount struct {
	ScannerID int64 `db:"scanner_id" json:"scanner_id"`
	Count     int64 `db:"n" json:"count"`
}

// PunctualityCount is one row of a punctuality breakdown.
type PunctualityCount struct {
	Punctuality Punctuality `db:"punctuality" json:"punctuality"`
	Count       int64       `db:"n" json:"count"`
}

// EventSummary is the read-side aggregation consumed by dashboards.
type EventSummary struct {
	EventID       int64              `json:"event_id"`
	TotalEntries  int64              `json:"total_entries"`
	FirstScan     *time.Time         `json:"first_scan"`
	LastScan      *time.Time         `json:"last_scan"`
	BySession     []SessionCount     `json:"by_session"`
	ByScanner     []ScannerCount     `json:"by_scanner"`
	ByPunctuality []PunctualityCount `json:"by_punctuality"`
}

// AttendeeStatus is one attendee's recorded state within an event.
type AttendeeStatus struct {
	AttendeeID        int64       `db:"attendee_id" json:"attendee_id"`
	AttendeeIdentity  string      `db:"attendee_identity" json:"attendee_identity"`
	AttendeeFirstName string      `db:"attendee_first_name" json:"attendee_first_name"`
	AttendeeLastName  string      `db:"attendee_last_name" json:"attendee_last_name"`
	SessionID         *int64      `db:"session_id" json:"session_id"`
	Punctuality       Punctuality `db:"punctuality" json:"punctuality"`
	ScannedAt         time.Time   `db:"scanned_at" json:"scanned_at"`
}

// EntryQueries is the aggregation contract backing the query service.
type EntryQueries interface {
	SummarizeEvent(ctx context.Context, organizationID, eventID int64) (*EventSummary, error)
	AttendeeStatuses(ctx context.Context, organizationID, eventID int64) ([]AttendeeStatus, error)
}

// QueryService exposes read-side aggregations. Polling only: viewers query,
// nothing is pushed.
type QueryService struct {
	q EntryQueries
}

func NewQueryService(q EntryQueries) *QueryService {
	return &QueryService{q: q}
}

func (s *QueryService) EventSummary(ctx context.Context, organizationID, eventID int64) (*EventSummary, error) {
	sum, err := s.q.SummarizeEvent(ctx, organizationID, eventID)
	if err != nil {
		return nil, fmt.Errorf("summarize event %d: %w", eventID, err)
	}
	return sum, nil
}

func (s *QueryService) AttendeeStatuses(ctx context.Context, organizationID, eventID int64) ([]AttendeeStatus, error) {
	rows, err := s.q.AttendeeStatuses(ctx, organizationID, eventID)
	if err != nil {
		return nil, fmt.Errorf("attendee statuses for event %d: %w", eventID, err)
	}
	return rows, nil
}
