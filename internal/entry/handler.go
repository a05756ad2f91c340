package entry

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// Identity extracts the authenticated scanner identity from a request.
// Injected by the router so this package stays decoupled from the token
// implementation.
type Identity func(r *http.Request) (organizationID int64, scannerEmail string, ok bool)

// Handler exposes HTTP endpoints for batch sync, read-side queries and the
// operator resync action.
type Handler struct {
	ingest     *IngestService
	query      *QueryService
	reconciler *Reconciler
	identity   Identity
	logger     *zap.SugaredLogger
}

func NewHandler(ingest *IngestService, query *QueryService, reconciler *Reconciler, identity Identity, logger *zap.SugaredLogger) *Handler {
	return &Handler{ingest: ingest, query: query, reconciler: reconciler, identity: identity, logger: logger}
}

// Sync handles POST /attendance-api/entries/sync. The request body is a
// JSON array of scan records. The call blocks until every record is
// processed; backpressure is implicit in batch size.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	organizationID, email, ok := h.identity(r)
	if !ok {
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var records []EntryRecord
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		h.logger.Debugw("invalid sync payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	res, err := h.ingest.SyncEntries(r.Context(), organizationID, email, records)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoRecords):
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, ErrScannerNotFound):
			h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "scanner not found"})
		default:
			h.logger.Errorw("batch sync failed", "err", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "sync failed"})
		}
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// Summary handles GET /attendance-api/events/{id}/summary.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	organizationID, eventID, ok := h.orgAndID(w, r)
	if !ok {
		return
	}
	sum, err := h.query.EventSummary(r.Context(), organizationID, eventID)
	if err != nil {
		h.logger.Errorw("event summary failed", "event_id", eventID, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, sum)
}

// AttendeeStatuses handles GET /attendance-api/events/{id}/attendees/status.
func (h *Handler) AttendeeStatuses(w http.ResponseWriter, r *http.Request) {
	organizationID, eventID, ok := h.orgAndID(w, r)
	if !ok {
		return
	}
	rows, err := h.query.AttendeeStatuses(r.Context(), organizationID, eventID)
	if err != nil {
		h.logger.Errorw("attendee statuses failed", "event_id", eventID, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	if rows == nil {
		rows = []AttendeeStatus{}
	}
	h.writeJSON(w, http.StatusOK, rows)
}

// Resync handles POST /attendance-api/sessions/{id}/resync, the manual
// reprocessing hook for failed reconciliation runs.
func (h *Handler) Resync(w http.ResponseWriter, r *http.Request) {
	sessionID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return
	}
	if err := h.reconciler.ResyncSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		h.logger.Errorw("session resync failed", "session_id", sessionID, "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "resync failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// orgAndID parses the organization_id query param and the {id} path value.
// Operator/dashboard authentication lives outside this service; the
// organization id scopes every query.
func (h *Handler) orgAndID(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	organizationID, err := strconv.ParseInt(r.URL.Query().Get("organization_id"), 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "organization_id required"})
		return 0, 0, false
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return 0, 0, false
	}
	return organizationID, id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
