package entry_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallygate/service-attendance-go/internal/entry"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func session(id int64, target time.Time, before, after int) entry.SessionDetails {
	return entry.SessionDetails{
		SessionID:          id,
		TargetTime:         target,
		GraceMinutesBefore: before,
		GraceMinutesAfter:  after,
	}
}

func TestBestSession_NearestWins(t *testing.T) {
	arrival := session(1, mustTime(t, "2026-03-01T09:00:00Z"), 15, 15)
	departure := session(2, mustTime(t, "2026-03-01T17:00:00Z"), 15, 15)

	best, ok := entry.BestSession(
		[]entry.SessionDetails{departure, arrival},
		mustTime(t, "2026-03-01T09:20:00Z"),
	)
	require.True(t, ok)
	assert.Equal(t, int64(1), best.SessionID)
}

func TestBestSession_Deterministic(t *testing.T) {
	sessions := []entry.SessionDetails{
		session(3, mustTime(t, "2026-03-01T10:00:00Z"), 5, 5),
		session(1, mustTime(t, "2026-03-01T09:00:00Z"), 5, 5),
		session(2, mustTime(t, "2026-03-01T09:30:00Z"), 5, 5),
	}
	scan := mustTime(t, "2026-03-01T09:40:00Z")

	first, ok := entry.BestSession(sessions, scan)
	require.True(t, ok)
	for i := 0; i < 20; i++ {
		again, ok := entry.BestSession(sessions, scan)
		require.True(t, ok)
		assert.Equal(t, first.SessionID, again.SessionID)
	}
}

func TestBestSession_OuterToleranceBoundary(t *testing.T) {
	s := session(1, mustTime(t, "2026-03-01T09:00:00Z"), 15, 15)

	// 3:59:59 past the target still binds
	best, ok := entry.BestSession([]entry.SessionDetails{s}, mustTime(t, "2026-03-01T12:59:59Z"))
	require.True(t, ok)
	assert.Equal(t, int64(1), best.SessionID)

	// exactly 4:00:00 past is the inclusive edge
	_, ok = entry.BestSession([]entry.SessionDetails{s}, mustTime(t, "2026-03-01T13:00:00Z"))
	assert.True(t, ok)

	// 4:00:01 past lands unscheduled
	_, ok = entry.BestSession([]entry.SessionDetails{s}, mustTime(t, "2026-03-01T13:00:01Z"))
	assert.False(t, ok)
}

func TestBestSession_EarlyPenaltyTieBreak(t *testing.T) {
	// scan is exactly one hour late for session 1 and one hour early for
	// session 2; the session the scanner is late for must win
	late := session(1, mustTime(t, "2026-03-01T09:00:00Z"), 15, 15)
	early := session(2, mustTime(t, "2026-03-01T11:00:00Z"), 15, 15)

	best, ok := entry.BestSession(
		[]entry.SessionDetails{early, late},
		mustTime(t, "2026-03-01T10:00:00Z"),
	)
	require.True(t, ok)
	assert.Equal(t, int64(1), best.SessionID)
}

func TestBestSession_EarlyPenaltyCanFlipNearest(t *testing.T) {
	// 40 min early for session 2 weighs 60, 50 min late for session 1
	// weighs 50: the late session wins despite being further away
	late := session(1, mustTime(t, "2026-03-01T09:00:00Z"), 15, 15)
	early := session(2, mustTime(t, "2026-03-01T10:30:00Z"), 15, 15)

	best, ok := entry.BestSession(
		[]entry.SessionDetails{late, early},
		mustTime(t, "2026-03-01T09:50:00Z"),
	)
	require.True(t, ok)
	assert.Equal(t, int64(1), best.SessionID)
}

func TestBestSession_NoSessions(t *testing.T) {
	_, ok := entry.BestSession(nil, mustTime(t, "2026-03-01T09:00:00Z"))
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	s := session(1, mustTime(t, "2026-03-01T09:00:00Z"), 10, 5)

	cases := []struct {
		name string
		scan string
		want entry.Punctuality
	}{
		{"well before grace", "2026-03-01T08:30:00Z", entry.PunctualityEarly},
		{"just inside early grace", "2026-03-01T08:50:00Z", entry.PunctualityPunctual},
		{"on target", "2026-03-01T09:00:00Z", entry.PunctualityPunctual},
		{"at late grace edge", "2026-03-01T09:05:00Z", entry.PunctualityPunctual},
		{"past late grace", "2026-03-01T09:05:01Z", entry.PunctualityLate},
		{"well past grace", "2026-03-01T10:00:00Z", entry.PunctualityLate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, entry.Classify(mustTime(t, tc.scan), s))
		})
	}
}
