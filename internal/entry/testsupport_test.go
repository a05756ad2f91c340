package entry_test

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/tallygate/service-attendance-go/internal/entry"
)

// memEntryStore is an in-memory EntryStore enforcing the same uniqueness
// guards as the real table, so service tests exercise the constraint
// classification paths without a database.
type memEntryStore struct {
	mu      sync.Mutex
	entries map[int64]*entry.Entry

	insertErr error // when set, Insert returns it once
}

func newMemEntryStore() *memEntryStore {
	return &memEntryStore{entries: map[int64]*entry.Entry{}}
}

func (m *memEntryStore) ExistingScanUUIDs(_ context.Context, uuids []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	for _, u := range uuids {
		for _, e := range m.entries {
			if e.ScanUUID == u {
				seen[u] = struct{}{}
			}
		}
	}
	return seen, nil
}

func (m *memEntryStore) ExistsForSession(_ context.Context, attendeeID, sessionID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.AttendeeID == attendeeID && e.SessionID != nil && *e.SessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memEntryStore) ExistsUnscheduled(_ context.Context, attendeeID, eventID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.AttendeeID == attendeeID && e.EventID == eventID && e.SessionID == nil {
			return true, nil
		}
	}
	return false, nil
}

func (m *memEntryStore) Insert(_ context.Context, e *entry.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		err := m.insertErr
		m.insertErr = nil
		return err
	}
	for _, ex := range m.entries {
		if ex.ScanUUID == e.ScanUUID {
			return fmt.Errorf("%w: scan_uuid %s", entry.ErrDuplicateScanUUID, e.ScanUUID)
		}
	}
	if err := m.checkDuplicateGuards(e.ID, e.AttendeeID, e.EventID, e.SessionID); err != nil {
		return err
	}
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *memEntryStore) checkDuplicateGuards(id, attendeeID, eventID int64, sessionID *int64) error {
	for _, ex := range m.entries {
		if ex.ID == id {
			continue
		}
		if sessionID != nil && ex.AttendeeID == attendeeID && ex.SessionID != nil && *ex.SessionID == *sessionID {
			return fmt.Errorf("%w: attendee %d session %d", entry.ErrDuplicateEntry, attendeeID, *sessionID)
		}
		if sessionID == nil && ex.AttendeeID == attendeeID && ex.EventID == eventID && ex.SessionID == nil {
			return fmt.Errorf("%w: attendee %d event %d unscheduled", entry.ErrDuplicateEntry, attendeeID, eventID)
		}
	}
	return nil
}

func (m *memEntryStore) ListBySession(_ context.Context, sessionID int64) ([]entry.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entry.Entry
	for _, e := range m.entries {
		if e.SessionID != nil && *e.SessionID == sessionID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScannedAt.Before(out[j].ScannedAt) })
	return out, nil
}

func (m *memEntryStore) Reassign(_ context.Context, entryID int64, sessionID *int64, p entry.Punctuality) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok {
		return sql.ErrNoRows
	}
	if err := m.checkDuplicateGuards(entryID, e.AttendeeID, e.EventID, sessionID); err != nil {
		return err
	}
	e.SessionID = sessionID
	e.Punctuality = p
	return nil
}

func (m *memEntryStore) all() []entry.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entry.Entry
	for _, e := range m.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memEntryStore) byID(id int64) *entry.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		cp := *e
		return &cp
	}
	return nil
}

// memQuarantine captures quarantined records.
type memQuarantine struct {
	mu   sync.Mutex
	recs []entry.OrphanRecord
}

func (m *memQuarantine) Quarantine(_ context.Context, rec entry.OrphanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memQuarantine) all() []entry.OrphanRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entry.OrphanRecord(nil), m.recs...)
}

// fakeSchedule serves a fixed set of events and their sessions.
type fakeSchedule struct {
	sessions map[int64][]entry.SessionDetails
}

func (f *fakeSchedule) EventExists(_ context.Context, eventID int64) (bool, error) {
	_, ok := f.sessions[eventID]
	return ok, nil
}

func (f *fakeSchedule) SessionsForEvent(_ context.Context, eventID int64) ([]entry.SessionDetails, error) {
	return f.sessions[eventID], nil
}

// fakeSessions implements entry.SessionLookup over a flat session map.
type fakeSessions struct {
	byID map[int64]entry.SessionDetails
}

func (f *fakeSessions) SessionByID(_ context.Context, sessionID int64) (*entry.SessionDetails, error) {
	if s, ok := f.byID[sessionID]; ok {
		return &s, nil
	}
	return nil, nil
}

// fakeAttendees resolves snapshots from a fixed roster.
type fakeAttendees struct {
	byID map[int64]entry.AttendeeSnapshot
}

func (f *fakeAttendees) FindAttendee(_ context.Context, attendeeID, _ int64) (*entry.AttendeeSnapshot, error) {
	if s, ok := f.byID[attendeeID]; ok {
		return &s, nil
	}
	return nil, nil
}

// fakeScanners resolves scanner identities from a fixed set.
type fakeScanners struct {
	byEmail map[string]entry.ScannerAuth
}

func (f *fakeScanners) FindScannerAuth(_ context.Context, email string) (*entry.ScannerAuth, error) {
	if a, ok := f.byEmail[email]; ok {
		return &a, nil
	}
	return nil, nil
}

// capturePub records published integration events synchronously.
type capturePub struct {
	mu     sync.Mutex
	topics []string
	msgs   []any
}

func (p *capturePub) Publish(topic string, msg any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.msgs = append(p.msgs, msg)
}

func (p *capturePub) byTopic(topic string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for i, t := range p.topics {
		if t == topic {
			out = append(out, p.msgs[i])
		}
	}
	return out
}
