package entry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tallygate/service-attendance-go/pkg/utilities"
)

var (
	ErrScannerNotFound = errors.New("scanner not found")
	ErrEventNotFound   = errors.New("event not found")
	ErrNoRecords       = errors.New("at least one record is required")

	// ErrDuplicateScanUUID is the benign race: another request already
	// inserted this exact scan between our pre-check and insert.
	ErrDuplicateScanUUID = errors.New("duplicate scan uuid")

	// ErrDuplicateEntry is a logical duplicate: the attendee already has an
	// entry for the matched session (or an unscheduled entry for the event).
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrIntegrity wraps any other data-integrity violation raised by the
	// store on insert.
	ErrIntegrity = errors.New("integrity violation")
)

// EntryStore is the persistence contract of the capture engine. The sqlx
// implementation lives in internal/entry/repo; tests substitute an in-memory
// fake.
type EntryStore interface {
	ExistingScanUUIDs(ctx context.Context, uuids []string) (map[string]struct{}, error)
	ExistsForSession(ctx context.Context, attendeeID, sessionID int64) (bool, error)
	ExistsUnscheduled(ctx context.Context, attendeeID, eventID int64) (bool, error)
	// Insert persists a single entry in its own transaction and maps
	// constraint violations to ErrDuplicateScanUUID / ErrDuplicateEntry /
	// ErrIntegrity.
	Insert(ctx context.Context, e *Entry) error
	ListBySession(ctx context.Context, sessionID int64) ([]Entry, error)
	Reassign(ctx context.Context, entryID int64, sessionID *int64, p Punctuality) error
}

// OrphanRecord is a scan routed to quarantine instead of the entry table.
type OrphanRecord struct {
	OrganizationID int64
	EventID        *int64
	ScannerID      int64
	ScanUUID       string
	Payload        EntryRecord
	Reason         string
}

// Quarantiner receives scans that failed reconciliation.
type Quarantiner interface {
	Quarantine(ctx context.Context, rec OrphanRecord) error
}

// Schedule is the narrow read contract against the external Event module.
type Schedule interface {
	EventExists(ctx context.Context, eventID int64) (bool, error)
	SessionsForEvent(ctx context.Context, eventID int64) ([]SessionDetails, error)
}

// AttendeeDirectory resolves attendee snapshots at ingestion time.
// FindAttendee returns (nil, nil) when the attendee does not exist.
type AttendeeDirectory interface {
	FindAttendee(ctx context.Context, attendeeID, organizationID int64) (*AttendeeSnapshot, error)
}

// ScannerDirectory resolves scanner identities.
// FindScannerAuth returns (nil, nil) when the scanner is unknown.
type ScannerDirectory interface {
	FindScannerAuth(ctx context.Context, email string) (*ScannerAuth, error)
}

// Publisher dispatches integration events after the originating write is
// durable.
type Publisher interface {
	Publish(topic string, msg any)
}

// IngestService orchestrates batch sync: per-record validation, dedup,
// session matching, punctuality classification and persistence, with
// quarantine routing instead of batch aborts.
type IngestService struct {
	entries   EntryStore
	orphans   Quarantiner
	scanners  ScannerDirectory
	schedule  Schedule
	attendees AttendeeDirectory
	pub       Publisher
	logger    *zap.SugaredLogger

	now   func() time.Time
	newID func() int64
}

func NewIngestService(
	entries EntryStore,
	orphans Quarantiner,
	scanners ScannerDirectory,
	schedule Schedule,
	attendees AttendeeDirectory,
	pub Publisher,
	logger *zap.SugaredLogger,
) *IngestService {
	return &IngestService{
		entries:   entries,
		orphans:   orphans,
		scanners:  scanners,
		schedule:  schedule,
		attendees: attendees,
		pub:       pub,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     utilities.NewEntryID,
	}
}

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeDuplicate
	outcomeQuarantined
	outcomeFailed
)

// batchState caches per-event lookups so a batch issues one schedule query
// per distinct event rather than one per record.
type batchState struct {
	exists   map[int64]bool
	sessions map[int64][]SessionDetails
	lastErr  error
}

func newBatchState() *batchState {
	return &batchState{exists: map[int64]bool{}, sessions: map[int64][]SessionDetails{}}
}

func (s *IngestService) eventExists(ctx context.Context, bs *batchState, eventID int64) (bool, error) {
	if ok, hit := bs.exists[eventID]; hit {
		return ok, nil
	}
	ok, err := s.schedule.EventExists(ctx, eventID)
	if err != nil {
		return false, err
	}
	bs.exists[eventID] = ok
	return ok, nil
}

func (s *IngestService) eventSessions(ctx context.Context, bs *batchState, eventID int64) ([]SessionDetails, error) {
	if ss, hit := bs.sessions[eventID]; hit {
		return ss, nil
	}
	ss, err := s.schedule.SessionsForEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	bs.sessions[eventID] = ss
	return ss, nil
}

// SyncEntries processes a scanner's batch. Safe to call repeatedly with the
// same batch: every outcome except an unexpected system error is terminal,
// so the client only retries the uuids returned in FailedUUIDs.
func (s *IngestService) SyncEntries(ctx context.Context, organizationID int64, scannerEmail string, records []EntryRecord) (SyncResult, error) {
	if len(records) == 0 {
		return SyncResult{}, ErrNoRecords
	}

	auth, err := s.scanners.FindScannerAuth(ctx, scannerEmail)
	if err != nil {
		return SyncResult{}, fmt.Errorf("resolve scanner: %w", err)
	}
	if auth == nil || auth.OrganizationID != organizationID {
		return SyncResult{}, ErrScannerNotFound
	}

	// Fast-path idempotency: records already persisted count as success and
	// are skipped outright. Only an optimization; the unique constraint on
	// scan_uuid is what actually prevents double insertion under races.
	uuids := make([]string, 0, len(records))
	for _, r := range records {
		uuids = append(uuids, r.ScanUUID)
	}
	seen, err := s.entries.ExistingScanUUIDs(ctx, uuids)
	if err != nil {
		return SyncResult{}, fmt.Errorf("check existing uuids: %w", err)
	}

	bs := newBatchState()
	res := SyncResult{FailedUUIDs: []string{}}
	newByEvent := map[int64][]int64{}

	for _, rec := range records {
		if _, ok := seen[rec.ScanUUID]; ok {
			res.SuccessCount++
			continue
		}

		out, created := s.ingestOne(ctx, organizationID, auth.ScannerID, rec, bs, true)
		switch out {
		case outcomeCreated:
			res.SuccessCount++
			newByEvent[created.EventID] = append(newByEvent[created.EventID], created.AttendeeID)
			s.pub.Publish(TopicEntryCreated, EntryCreated{
				EntryID:        created.ID,
				EventID:        created.EventID,
				OrganizationID: created.OrganizationID,
				SessionID:      created.SessionID,
				ScannerID:      created.ScannerID,
				ScannedAt:      created.ScannedAt,
			})
		case outcomeDuplicate, outcomeQuarantined:
			res.SuccessCount++
		case outcomeFailed:
			res.FailedUUIDs = append(res.FailedUUIDs, rec.ScanUUID)
		}
	}
	res.FailedCount = len(res.FailedUUIDs)

	if len(newByEvent) > 0 {
		s.pub.Publish(TopicEntriesSynced, EntriesSynced{
			ID:                   utilities.NewKSUID(),
			AttendeeIDsByEventID: newByEvent,
		})
	}

	s.logger.Infow("batch sync processed",
		"organization_id", organizationID,
		"scanner_id", auth.ScannerID,
		"records", len(records),
		"success", res.SuccessCount,
		"failed", res.FailedCount,
	)
	return res, nil
}

// IngestSingle runs the per-record path for exactly one record with
// quarantine routing disabled. Used by orphan recovery, where a failure must
// surface to the operator instead of producing a second orphan.
func (s *IngestService) IngestSingle(ctx context.Context, organizationID, scannerID int64, rec EntryRecord) (*Entry, error) {
	bs := newBatchState()
	out, created := s.ingestOne(ctx, organizationID, scannerID, rec, bs, false)
	switch out {
	case outcomeCreated:
		s.pub.Publish(TopicEntryCreated, EntryCreated{
			EntryID:        created.ID,
			EventID:        created.EventID,
			OrganizationID: created.OrganizationID,
			SessionID:      created.SessionID,
			ScannerID:      created.ScannerID,
			ScannedAt:      created.ScannedAt,
		})
		s.pub.Publish(TopicEntriesSynced, EntriesSynced{
			ID:                   utilities.NewKSUID(),
			AttendeeIDsByEventID: map[int64][]int64{created.EventID: {created.AttendeeID}},
		})
		return created, nil
	case outcomeDuplicate:
		return nil, ErrDuplicateEntry
	case outcomeQuarantined:
		// unreachable with quarantine disabled; kept for exhaustiveness
		return nil, ErrIntegrity
	default:
		if bs.lastErr != nil {
			return nil, bs.lastErr
		}
		return nil, errors.New("ingest failed")
	}
}

// ingestOne runs steps 2-6 of the per-record algorithm. When quarantine is
// true, "not found" and integrity failures are routed to the orphan store
// and reported as outcomeQuarantined; otherwise they surface via
// bs.lastErr / outcomeFailed.
func (s *IngestService) ingestOne(ctx context.Context, organizationID, scannerID int64, rec EntryRecord, bs *batchState, quarantine bool) (outcome, *Entry) {
	if _, err := uuid.Parse(rec.ScanUUID); err != nil {
		return s.reject(ctx, organizationID, scannerID, rec, bs, quarantine,
			"invalid scan uuid", fmt.Errorf("parse scan uuid: %w", err))
	}

	ok, err := s.eventExists(ctx, bs, rec.EventID)
	if err != nil {
		return s.fail(bs, rec, fmt.Errorf("check event: %w", err))
	}
	if !ok {
		return s.reject(ctx, organizationID, scannerID, rec, bs, quarantine,
			"event not found", ErrEventNotFound)
	}

	sessions, err := s.eventSessions(ctx, bs, rec.EventID)
	if err != nil {
		return s.fail(bs, rec, fmt.Errorf("load sessions: %w", err))
	}

	var (
		sessionID   *int64
		punctuality = PunctualityUnscheduled
	)
	if best, matched := BestSession(sessions, rec.ScannedAt); matched {
		exists, err := s.entries.ExistsForSession(ctx, rec.AttendeeID, best.SessionID)
		if err != nil {
			return s.fail(bs, rec, fmt.Errorf("check session duplicate: %w", err))
		}
		if exists {
			return outcomeDuplicate, nil
		}
		id := best.SessionID
		sessionID = &id
		punctuality = Classify(rec.ScannedAt, best)
	} else {
		exists, err := s.entries.ExistsUnscheduled(ctx, rec.AttendeeID, rec.EventID)
		if err != nil {
			return s.fail(bs, rec, fmt.Errorf("check unscheduled duplicate: %w", err))
		}
		if exists {
			return outcomeDuplicate, nil
		}
	}

	// Best-effort snapshot: a missing attendee yields empty fields, not a
	// hard error.
	snap, err := s.attendees.FindAttendee(ctx, rec.AttendeeID, organizationID)
	if err != nil {
		return s.fail(bs, rec, fmt.Errorf("snapshot attendee: %w", err))
	}
	if snap == nil {
		snap = &AttendeeSnapshot{Attributes: map[string]string{}}
	}
	if snap.Attributes == nil {
		snap.Attributes = map[string]string{}
	}

	e := &Entry{
		ID:                 s.newID(),
		ScanUUID:           rec.ScanUUID,
		OrganizationID:     organizationID,
		EventID:            rec.EventID,
		SessionID:          sessionID,
		AttendeeID:         rec.AttendeeID,
		ScannerID:          scannerID,
		ScannedAt:          rec.ScannedAt.UTC(),
		SyncedAt:           s.now(),
		Punctuality:        punctuality,
		AttendeeIdentity:   snap.Identity,
		AttendeeFirstName:  snap.FirstName,
		AttendeeLastName:   snap.LastName,
		AttendeeAttributes: snap.Attributes,
	}

	switch err := s.entries.Insert(ctx, e); {
	case err == nil:
		return outcomeCreated, e
	case errors.Is(err, ErrDuplicateScanUUID):
		// benign race: a concurrent retry won the insert
		return outcomeDuplicate, nil
	case errors.Is(err, ErrDuplicateEntry):
		return outcomeDuplicate, nil
	case errors.Is(err, ErrIntegrity):
		return s.reject(ctx, organizationID, scannerID, rec, bs, quarantine,
			"integrity violation", err)
	default:
		return s.fail(bs, rec, fmt.Errorf("insert entry: %w", err))
	}
}

// reject routes a terminally-bad record to quarantine (when enabled) so the
// client stops retrying it.
func (s *IngestService) reject(ctx context.Context, organizationID, scannerID int64, rec EntryRecord, bs *batchState, quarantine bool, reason string, cause error) (outcome, *Entry) {
	if !quarantine {
		bs.lastErr = cause
		return outcomeFailed, nil
	}

	eventID := &rec.EventID
	if rec.EventID == 0 {
		eventID = nil
	}
	err := s.orphans.Quarantine(ctx, OrphanRecord{
		OrganizationID: organizationID,
		EventID:        eventID,
		ScannerID:      scannerID,
		ScanUUID:       rec.ScanUUID,
		Payload:        rec,
		Reason:         reason,
	})
	if err != nil {
		return s.fail(bs, rec, fmt.Errorf("quarantine: %w", err))
	}
	s.logger.Warnw("record quarantined",
		"scan_uuid", rec.ScanUUID,
		"event_id", rec.EventID,
		"reason", reason,
		"cause", cause,
	)
	return outcomeQuarantined, nil
}

func (s *IngestService) fail(bs *batchState, rec EntryRecord, err error) (outcome, *Entry) {
	bs.lastErr = err
	s.logger.Errorw("record failed", "scan_uuid", rec.ScanUUID, "err", err)
	return outcomeFailed, nil
}
