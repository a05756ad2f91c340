package entry_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tallygate/service-attendance-go/internal/entry"
)

func seedEntry(t *testing.T, store *memEntryStore, id, attendeeID int64, sessionID *int64, scannedAt time.Time, p entry.Punctuality) {
	t.Helper()
	err := store.Insert(context.Background(), &entry.Entry{
		ID:             id,
		ScanUUID:       fmt.Sprintf("seed-%d", id),
		OrganizationID: testOrg,
		EventID:        testEvent,
		SessionID:      sessionID,
		AttendeeID:     attendeeID,
		ScannerID:      31,
		ScannedAt:      scannedAt,
		Punctuality:    p,
	})
	require.NoError(t, err)
}

func ptr(v int64) *int64 { return &v }

func TestHandleSessionUpdated_ReclassifiesChangedEntries(t *testing.T) {
	store := newMemEntryStore()
	r := entry.NewReconciler(store, &fakeSessions{}, zap.NewNop().Sugar())

	// original window: 09:00, grace 10/10
	seedEntry(t, store, 1, 200, ptr(1), mustTime(t, "2026-03-01T09:05:00Z"), entry.PunctualityPunctual)
	seedEntry(t, store, 2, 201, ptr(1), mustTime(t, "2026-03-01T09:30:00Z"), entry.PunctualityLate)
	seedEntry(t, store, 3, 202, ptr(2), mustTime(t, "2026-03-01T09:30:00Z"), entry.PunctualityLate)

	// grace window widened: only the late entry flips
	err := r.HandleSessionUpdated(context.Background(), entry.SessionUpdated{
		SessionID:          1,
		TargetTime:         mustTime(t, "2026-03-01T09:00:00Z"),
		GraceMinutesBefore: 10,
		GraceMinutesAfter:  45,
	})
	require.NoError(t, err)

	assert.Equal(t, entry.PunctualityPunctual, store.byID(1).Punctuality)
	assert.Equal(t, entry.PunctualityPunctual, store.byID(2).Punctuality)
	assert.Equal(t, entry.PunctualityLate, store.byID(3).Punctuality, "entries of other sessions stay put")
}

func TestHandleSessionDeleted_RebindsAndUnschedules(t *testing.T) {
	store := newMemEntryStore()
	r := entry.NewReconciler(store, &fakeSessions{}, zap.NewNop().Sugar())

	seedEntry(t, store, 1, 200, ptr(1), mustTime(t, "2026-03-01T09:40:00Z"), entry.PunctualityLate)
	seedEntry(t, store, 2, 201, ptr(1), mustTime(t, "2026-03-01T05:00:00Z"), entry.PunctualityEarly)

	err := r.HandleSessionDeleted(context.Background(), entry.SessionDeleted{
		SessionID: 1,
		RemainingSessions: []entry.SessionDetails{
			session(2, mustTime(t, "2026-03-01T10:00:00Z"), 10, 10),
		},
	})
	require.NoError(t, err)

	rebound := store.byID(1)
	require.NotNil(t, rebound.SessionID)
	assert.Equal(t, int64(2), *rebound.SessionID)
	assert.Equal(t, entry.PunctualityEarly, rebound.Punctuality, "09:40 is 20 minutes before the new target")

	dropped := store.byID(2)
	assert.Nil(t, dropped.SessionID, "05:00 is outside the four-hour window of 10:00")
	assert.Equal(t, entry.PunctualityUnscheduled, dropped.Punctuality)
}

func TestHandleSessionDeleted_RebindConflictFallsToUnscheduled(t *testing.T) {
	store := newMemEntryStore()
	r := entry.NewReconciler(store, &fakeSessions{}, zap.NewNop().Sugar())

	// attendee 200 already holds an entry in the surviving session
	seedEntry(t, store, 1, 200, ptr(2), mustTime(t, "2026-03-01T10:02:00Z"), entry.PunctualityPunctual)
	seedEntry(t, store, 2, 200, ptr(1), mustTime(t, "2026-03-01T09:40:00Z"), entry.PunctualityLate)

	err := r.HandleSessionDeleted(context.Background(), entry.SessionDeleted{
		SessionID: 1,
		RemainingSessions: []entry.SessionDetails{
			session(2, mustTime(t, "2026-03-01T10:00:00Z"), 10, 10),
		},
	})
	require.NoError(t, err)

	kept := store.byID(1)
	require.NotNil(t, kept.SessionID)
	assert.Equal(t, int64(2), *kept.SessionID)

	demoted := store.byID(2)
	assert.Nil(t, demoted.SessionID)
	assert.Equal(t, entry.PunctualityUnscheduled, demoted.Punctuality)
}

func TestHandleSessionDeleted_DoubleConflictSkipsEntry(t *testing.T) {
	store := newMemEntryStore()
	r := entry.NewReconciler(store, &fakeSessions{}, zap.NewNop().Sugar())

	// attendee 200 holds both a surviving-session entry and an unscheduled one
	seedEntry(t, store, 1, 200, ptr(2), mustTime(t, "2026-03-01T10:02:00Z"), entry.PunctualityPunctual)
	seedEntry(t, store, 2, 200, nil, mustTime(t, "2026-03-01T02:00:00Z"), entry.PunctualityUnscheduled)
	seedEntry(t, store, 3, 200, ptr(1), mustTime(t, "2026-03-01T09:40:00Z"), entry.PunctualityLate)

	err := r.HandleSessionDeleted(context.Background(), entry.SessionDeleted{
		SessionID: 1,
		RemainingSessions: []entry.SessionDetails{
			session(2, mustTime(t, "2026-03-01T10:00:00Z"), 10, 10),
		},
	})
	require.NoError(t, err)

	stuck := store.byID(3)
	require.NotNil(t, stuck.SessionID, "unresolvable entry keeps its stale binding for the operator")
	assert.Equal(t, int64(1), *stuck.SessionID)
}

func TestResyncSession(t *testing.T) {
	store := newMemEntryStore()
	lookup := &fakeSessions{byID: map[int64]entry.SessionDetails{
		1: session(1, mustTime(t, "2026-03-01T09:00:00Z"), 10, 45),
	}}
	r := entry.NewReconciler(store, lookup, zap.NewNop().Sugar())

	seedEntry(t, store, 1, 200, ptr(1), mustTime(t, "2026-03-01T09:30:00Z"), entry.PunctualityLate)

	require.NoError(t, r.ResyncSession(context.Background(), 1))
	assert.Equal(t, entry.PunctualityPunctual, store.byID(1).Punctuality)

	err := r.ResyncSession(context.Background(), 404)
	assert.ErrorIs(t, err, entry.ErrSessionNotFound)
}
