package auth

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/principal/entity"
)

// Handler exposes HTTP endpoints for login, refresh, logout and password change.
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

// MaxRequestBodySize caps JSON request bodies.
const MaxRequestBodySize = 16 << 10

// DecodeJSON reads a size-capped JSON body into v. Oversized bodies map to
// apperr.ErrRequestTooLarge, anything else unreadable to apperr.ErrInvalidRequest.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.ErrRequestTooLarge
		}
		return apperr.ErrInvalidRequest
	}
	return nil
}

// loginPayload is the login body. Kind is optional; without it a loginId
// containing '@' is treated as an EXTERNAL email.
type loginPayload struct {
	LoginID  string `json:"loginId"`
	Password string `json:"password"`
	Kind     string `json:"kind,omitempty"`
}

type loginResponse struct {
	AccessToken  string               `json:"accessToken"`
	RefreshToken string               `json:"refreshToken"`
	ExpiresIn    int64                `json:"expiresIn"`
	Principal    entity.PrincipalView `json:"principal"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginPayload
	if err := DecodeJSON(w, r, &req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		h.writeError(w, err)
		return
	}
	kind, err := resolveKind(req.Kind, req.LoginID)
	if err != nil {
		h.writeError(w, apperr.ErrInvalidRequest)
		return
	}
	res, err := h.svc.Login(r.Context(), LoginRequest{
		Kind:      kind,
		LoginKey:  req.LoginID,
		Password:  req.Password,
		SourceIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
		ExpiresIn:    res.Tokens.ExpiresIn,
		Principal:    res.Principal,
	})
}

type refreshPayload struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh rotates a refresh token. Every failure is reported as 401.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshPayload
	if err := DecodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.RefreshToken == "" {
		h.writeError(w, apperr.ErrInvalidRequest)
		return
	}
	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if e, ok := apperr.As(err); ok {
			h.writeJSON(w, http.StatusUnauthorized, errorBody{Error: e.Code, Message: e.Message})
			return
		}
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, pair)
}

// Logout denylists the refresh token; always 204 for a well-formed request.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity.FromContext(r.Context()); !ok {
		h.writeError(w, apperr.ErrUnauthenticated)
		return
	}
	var req refreshPayload
	if err := DecodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.RefreshToken == "" {
		h.writeError(w, apperr.ErrInvalidRequest)
		return
	}
	if err := h.svc.Logout(r.Context(), req.RefreshToken); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordPayload struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeError(w, apperr.ErrUnauthenticated)
		return
	}
	var req changePasswordPayload
	if err := DecodeJSON(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.svc.ChangePassword(r.Context(), id.Kind, id.SubjectID, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Me echoes the identity attached by the identity middleware.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeError(w, apperr.ErrUnauthenticated)
		return
	}
	h.writeJSON(w, http.StatusOK, id)
}

func resolveKind(kind, loginID string) (entity.Kind, error) {
	if kind != "" {
		return entity.ParseKind(kind)
	}
	if strings.Contains(loginID, "@") {
		return entity.KindExternal, nil
	}
	return entity.KindMember, nil
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code, status, msg := apperr.Public(err)
	if status == http.StatusInternalServerError {
		h.logger.Errorw("request failed", "err", err)
	}
	h.writeJSON(w, status, errorBody{Error: code, Message: msg})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
