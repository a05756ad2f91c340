package scanner

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Handler exposes the scanner device login endpoint.
type Handler struct {
	svc    *AuthService
	logger *zap.SugaredLogger
}

func NewHandler(svc *AuthService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// LoginRequest is the device credential payload.
type LoginRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
}

// LoginResponse carries the bearer token for subsequent sync calls.
type LoginResponse struct {
	Token string `json:"token"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	token, err := h.svc.Authenticate(r.Context(), req.Email, req.Secret)
	if err != nil {
		switch {
		case errors.Is(err, ErrBadCredentials):
			h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		case errors.Is(err, ErrDisabled):
			h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "scanner disabled"})
		default:
			h.logger.Warnw("scanner login failed", "err", err)
			h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		}
		return
	}
	h.writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
