package orphan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tallygate/service-attendance-go/internal/entry"
	"github.com/tallygate/service-attendance-go/pkg/utilities"
)

var (
	ErrNotFound = errors.New("orphan not found")

	// ErrRecoveryConflict means the re-ingested record is still a duplicate
	// against the corrected target; the orphan is left intact for the
	// operator.
	ErrRecoveryConflict = errors.New("recovery conflict")
)

// Store is the persistence contract for quarantined scans.
type Store interface {
	Insert(ctx context.Context, o *Orphan) error
	ListByOrganization(ctx context.Context, organizationID int64, offset, limit int) ([]Orphan, int64, error)
	Get(ctx context.Context, organizationID int64, id string) (*Orphan, error)
	Delete(ctx context.Context, organizationID int64, id string) error
}

// EventNames resolves best-effort event names for listing annotation.
// Returns "" when the event does not exist.
type EventNames interface {
	EventName(ctx context.Context, eventID int64) (string, error)
}

// Recoverer is the single-record ingestion path used to re-attempt a
// quarantined scan.
type Recoverer interface {
	IngestSingle(ctx context.Context, organizationID, scannerID int64, rec entry.EntryRecord) (*entry.Entry, error)
}

// Service owns the quarantine holding area: it receives failed records from
// the ingestion side and exposes the operator recovery workflow.
type Service struct {
	store  Store
	names  EventNames
	ingest Recoverer
	logger *zap.SugaredLogger

	now   func() time.Time
	newID func() string
}

func NewService(store Store, names EventNames, ingest Recoverer, logger *zap.SugaredLogger) *Service {
	return &Service{
		store:  store,
		names:  names,
		ingest: ingest,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  utilities.NewKSUID,
	}
}

// Quarantine implements the ingestion side's entry.Quarantiner.
func (s *Service) Quarantine(ctx context.Context, rec entry.OrphanRecord) error {
	o := &Orphan{
		ID:             s.newID(),
		OrganizationID: rec.OrganizationID,
		EventID:        rec.EventID,
		ScannerID:      rec.ScannerID,
		ScanUUID:       rec.ScanUUID,
		Payload:        rec.Payload,
		Reason:         rec.Reason,
		CreatedAt:      s.now(),
	}
	if err := s.store.Insert(ctx, o); err != nil {
		return fmt.Errorf("insert orphan: %w", err)
	}
	return nil
}

// List returns one page of an organization's orphans, annotated with
// best-effort original-event names. page is 1-based.
func (s *Service) List(ctx context.Context, organizationID int64, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	items, total, err := s.store.ListByOrganization(ctx, organizationID, (page-1)*pageSize, pageSize)
	if err != nil {
		return Page{}, fmt.Errorf("list orphans: %w", err)
	}

	names := map[int64]string{}
	for i := range items {
		if items[i].EventID == nil {
			continue
		}
		id := *items[i].EventID
		name, hit := names[id]
		if !hit {
			name, err = s.names.EventName(ctx, id)
			if err != nil {
				// annotation only; a lookup failure must not break listing
				s.logger.Warnw("event name lookup failed", "event_id", id, "err", err)
				name = ""
			}
			names[id] = name
		}
		items[i].EventName = name
	}

	return Page{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// Delete discards an orphan permanently.
func (s *Service) Delete(ctx context.Context, organizationID int64, id string) error {
	if err := s.store.Delete(ctx, organizationID, id); err != nil {
		return err
	}
	s.logger.Infow("orphan deleted", "organization_id", organizationID, "orphan_id", id)
	return nil
}

// Recover re-attempts a quarantined scan against a corrected target event.
// On success the orphan row is removed; on a duplicate the orphan stays put
// and the caller gets ErrRecoveryConflict. Recovery is never retried
// automatically.
func (s *Service) Recover(ctx context.Context, organizationID int64, orphanID string, targetEventID, actorID int64) (*entry.Entry, error) {
	o, err := s.store.Get(ctx, organizationID, orphanID)
	if err != nil {
		return nil, err
	}

	rec := o.Payload
	rec.EventID = targetEventID

	e, err := s.ingest.IngestSingle(ctx, organizationID, o.ScannerID, rec)
	if err != nil {
		if errors.Is(err, entry.ErrDuplicateEntry) {
			return nil, fmt.Errorf("%w: %v", ErrRecoveryConflict, err)
		}
		return nil, err
	}

	if err := s.store.Delete(ctx, organizationID, orphanID); err != nil {
		// the entry exists; a leftover orphan row is the safer failure mode
		s.logger.Errorw("orphan cleanup after recovery failed",
			"orphan_id", orphanID, "entry_id", e.ID, "err", err)
	}

	s.logger.Infow("orphan recovered",
		"organization_id", organizationID,
		"orphan_id", orphanID,
		"target_event_id", targetEventID,
		"entry_id", e.ID,
		"actor_id", actorID,
	)
	return e, nil
}
