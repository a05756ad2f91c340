package orphan

import (
	"time"

	"github.com/tallygate/service-attendance-go/internal/entry"
)

// Orphan is a quarantined scan that could not be reconciled into an entry.
// The payload preserves the original ingestion input so an operator can
// re-attempt it against a corrected target event.
type Orphan struct {
	ID             string            `json:"id"`
	OrganizationID int64             `json:"organization_id"`
	EventID        *int64            `json:"event_id"`
	ScannerID      int64             `json:"scanner_id"`
	ScanUUID       string            `json:"scan_uuid"`
	Payload        entry.EntryRecord `json:"payload"`
	Reason         string            `json:"reason"`
	CreatedAt      time.Time         `json:"created_at"`

	// EventName is a best-effort listing annotation; empty when the original
	// event id is itself invalid.
	EventName string `json:"event_name,omitempty"`
}

// Page is one page of the orphan listing.
type Page struct {
	Items    []Orphan `json:"items"`
	Total    int64    `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}
