package orphan

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/tallygate/service-attendance-go/internal/entry"
)

// Handler exposes the operator-facing quarantine endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// List handles GET /attendance-api/orphans.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	res, err := h.svc.List(r.Context(), organizationID, page, pageSize)
	if err != nil {
		h.logger.Errorw("orphan list failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list failed"})
		return
	}
	if res.Items == nil {
		res.Items = []Orphan{}
	}
	h.writeJSON(w, http.StatusOK, res)
}

// Delete handles DELETE /attendance-api/orphans/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := h.orgID(w, r)
	if !ok {
		return
	}
	err := h.svc.Delete(r.Context(), organizationID, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "orphan not found"})
			return
		}
		h.logger.Errorw("orphan delete failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "delete failed"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecoverRequest targets a corrected event for a quarantined scan.
type RecoverRequest struct {
	TargetEventID int64 `json:"target_event_id"`
	ActorID       int64 `json:"actor_id"`
}

// Recover handles POST /attendance-api/orphans/{id}/recover.
func (h *Handler) Recover(w http.ResponseWriter, r *http.Request) {
	organizationID, ok := h.orgID(w, r)
	if !ok {
		return
	}

	var req RecoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if req.TargetEventID == 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "target_event_id required"})
		return
	}

	e, err := h.svc.Recover(r.Context(), organizationID, r.PathValue("id"), req.TargetEventID, req.ActorID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "orphan not found"})
		case errors.Is(err, ErrRecoveryConflict):
			h.writeJSON(w, http.StatusConflict, map[string]string{"error": "entry already exists for target event"})
		case errors.Is(err, entry.ErrEventNotFound):
			h.writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "target event not found"})
		default:
			h.logger.Errorw("orphan recovery failed", "err", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "recovery failed"})
		}
		return
	}
	h.writeJSON(w, http.StatusOK, e)
}

func (h *Handler) orgID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	organizationID, err := strconv.ParseInt(r.URL.Query().Get("organization_id"), 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "organization_id required"})
		return 0, false
	}
	return organizationID, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
