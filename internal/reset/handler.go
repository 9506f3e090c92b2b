package reset

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
)

// Handler exposes the reset-request and reset endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, logger: logger}
}

type requestPayload struct {
	Email string `json:"email"`
}

// acceptedResponse is identical for known and unknown emails.
var acceptedResponse = map[string]string{"status": "accepted"}

// Request always answers 200 with the same body.
func (h *Handler) Request(w http.ResponseWriter, r *http.Request) {
	var req requestPayload
	if err := auth.DecodeJSON(w, r, &req); err != nil {
		h.logger.Debugw("invalid reset-request payload", "err", err)
	}
	if req.Email != "" {
		h.svc.RequestReset(r.Context(), req.Email)
	}
	h.writeJSON(w, http.StatusOK, acceptedResponse)
}

type redeemPayload struct {
	NewPassword string `json:"newPassword"`
}

// Redeem reads the token from the query string and the new password from the body.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemPayload
	if err := auth.DecodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.Redeem(r.Context(), r.URL.Query().Get("token"), req.NewPassword); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code, status, msg := apperr.Public(err)
	if status == http.StatusInternalServerError {
		h.logger.Errorw("reset request failed", "err", err)
	}
	h.writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
