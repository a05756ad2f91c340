package entry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionLookup resolves a single session's current schedule. Used by the
// operator-triggered resync action; SessionByID returns (nil, nil) when the
// session does not exist.
type SessionLookup interface {
	SessionByID(ctx context.Context, sessionID int64) (*SessionDetails, error)
}

// Reconciler repairs already-ingested entries when the schedule they were
// matched against changes underneath them. Handlers run after the schedule
// edit has committed, each in its own transaction scope; failures are logged
// and left for the operator resync action rather than retried automatically.
type Reconciler struct {
	entries  EntryStore
	sessions SessionLookup
	logger   *zap.SugaredLogger
}

func NewReconciler(entries EntryStore, sessions SessionLookup, logger *zap.SugaredLogger) *Reconciler {
	return &Reconciler{entries: entries, sessions: sessions, logger: logger}
}

// HandleSessionUpdated recomputes punctuality for every entry bound to the
// session. No rematching: the session assignment itself is unchanged, only
// the target time or grace window moved.
func (r *Reconciler) HandleSessionUpdated(ctx context.Context, ev SessionUpdated) error {
	details := SessionDetails{
		SessionID:          ev.SessionID,
		TargetTime:         ev.TargetTime,
		GraceMinutesBefore: ev.GraceMinutesBefore,
		GraceMinutesAfter:  ev.GraceMinutesAfter,
	}

	rows, err := r.entries.ListBySession(ctx, ev.SessionID)
	if err != nil {
		return fmt.Errorf("list entries for session %d: %w", ev.SessionID, err)
	}

	updated := 0
	for _, e := range rows {
		p := Classify(e.ScannedAt, details)
		if p == e.Punctuality {
			continue
		}
		if err := r.entries.Reassign(ctx, e.ID, e.SessionID, p); err != nil {
			return fmt.Errorf("reclassify entry %d: %w", e.ID, err)
		}
		updated++
	}

	r.logger.Infow("session reclassified",
		"session_id", ev.SessionID, "entries", len(rows), "updated", updated)
	return nil
}

// HandleSessionDeleted rebinds every entry of the deleted session against
// the remaining schedule: a new match gets the session and a fresh
// classification, everything else drops to unscheduled.
func (r *Reconciler) HandleSessionDeleted(ctx context.Context, ev SessionDeleted) error {
	rows, err := r.entries.ListBySession(ctx, ev.SessionID)
	if err != nil {
		return fmt.Errorf("list entries for session %d: %w", ev.SessionID, err)
	}

	rebound, unscheduled := 0, 0
	for _, e := range rows {
		if best, ok := BestSession(ev.RemainingSessions, e.ScannedAt); ok {
			id := best.SessionID
			err := r.entries.Reassign(ctx, e.ID, &id, Classify(e.ScannedAt, best))
			if err == nil {
				rebound++
				continue
			}
			if !errors.Is(err, ErrDuplicateEntry) {
				return fmt.Errorf("rebind entry %d: %w", e.ID, err)
			}
			// the attendee already has an entry for the new best session;
			// fall through to unscheduled
		}
		if err := r.entries.Reassign(ctx, e.ID, nil, PunctualityUnscheduled); err != nil {
			if errors.Is(err, ErrDuplicateEntry) {
				r.logger.Warnw("entry unschedulable after session delete, skipping",
					"entry_id", e.ID, "session_id", ev.SessionID)
				continue
			}
			return fmt.Errorf("unschedule entry %d: %w", e.ID, err)
		}
		unscheduled++
	}

	r.logger.Infow("session entries rebound",
		"session_id", ev.SessionID, "entries", len(rows),
		"rebound", rebound, "unscheduled", unscheduled)
	return nil
}

// ResyncSession is the manual reprocessing hook: it re-runs the
// update-fallout path against the session's current schedule. Operators use
// it after a listener run failed mid-way.
func (r *Reconciler) ResyncSession(ctx context.Context, sessionID int64) error {
	s, err := r.sessions.SessionByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %d: %w", sessionID, err)
	}
	if s == nil {
		return ErrSessionNotFound
	}
	return r.HandleSessionUpdated(ctx, SessionUpdated{
		SessionID:          s.SessionID,
		TargetTime:         s.TargetTime,
		GraceMinutesBefore: s.GraceMinutesBefore,
		GraceMinutesAfter:  s.GraceMinutesAfter,
	})
}

// Subscriber is the minimal bus surface the reconciler needs.
type Subscriber interface {
	Subscribe(topic string, h func(ctx context.Context, msg any))
}

// Register wires the reconciler to schedule-change topics. Dispatch is
// asynchronous, so handlers observe only committed schedule state.
func (r *Reconciler) Register(b Subscriber) {
	b.Subscribe(TopicSessionUpdated, func(ctx context.Context, msg any) {
		ev, ok := msg.(SessionUpdated)
		if !ok {
			r.logger.Errorw("unexpected message on session.updated", "msg", msg)
			return
		}
		if err := r.HandleSessionUpdated(ctx, ev); err != nil {
			r.logger.Errorw("session update reconciliation failed",
				"session_id", ev.SessionID, "err", err)
		}
	})
	b.Subscribe(TopicSessionDeleted, func(ctx context.Context, msg any) {
		ev, ok := msg.(SessionDeleted)
		if !ok {
			r.logger.Errorw("unexpected message on session.deleted", "msg", msg)
			return
		}
		if err := r.HandleSessionDeleted(ctx, ev); err != nil {
			r.logger.Errorw("session delete reconciliation failed",
				"session_id", ev.SessionID, "err", err)
		}
	})
}
