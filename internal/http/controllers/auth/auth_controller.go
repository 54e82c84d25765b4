package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	dto "github.com/dropDatabas3/souche/internal/http/dto/auth"
	httperrors "github.com/dropDatabas3/souche/internal/http/errors"
	"github.com/dropDatabas3/souche/internal/http/middlewares"
	svc "github.com/dropDatabas3/souche/internal/http/services/auth"
	"github.com/dropDatabas3/souche/internal/observability/logger"
)

const (
	maxBodySize     = 64 * 1024 // 64KB
	contentTypeJSON = "application/json; charset=utf-8"
)

// Controller maneja los endpoints de autenticación.
type Controller struct {
	service *svc.Service
}

func NewController(service *svc.Service) *Controller {
	return &Controller{service: service}
}

// Login maneja POST /v1/auth/login
func (c *Controller) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("Controller.Login"))

	var req dto.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := c.service.Login(ctx, req, clientInfo(r))
	if err != nil {
		log.Debug("login failed", logger.Err(err))
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Refresh maneja POST /v1/auth/refresh
func (c *Controller) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("Controller.Refresh"))

	var req dto.RefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := c.service.Refresh(ctx, req.RefreshToken, clientInfo(r))
	if err != nil {
		log.Debug("refresh failed", logger.Err(err))
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Logout maneja POST /v1/auth/logout (requiere auth)
func (c *Controller) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sub := middlewares.GetSubject(ctx)
	if sub == nil {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}

	var req dto.LogoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := c.service.Logout(ctx, req.RefreshToken, sub.RawToken, sub.UserID, clientInfo(r)); err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.MessageResponse{Message: "sesión cerrada"})
}

// LogoutAll maneja POST /v1/auth/logout-all (requiere auth)
func (c *Controller) LogoutAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sub := middlewares.GetSubject(ctx)
	if sub == nil {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}

	revoked, closed, err := c.service.LogoutAll(ctx, sub.UserID, clientInfo(r))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.LogoutAllResponse{
		Message:        "todas las sesiones cerradas",
		RevokedTokens:  revoked,
		ClosedSessions: closed,
	})
}

// ChangePassword maneja POST /v1/auth/password (requiere auth)
func (c *Controller) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sub := middlewares.GetSubject(ctx)
	if sub == nil {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}

	var req dto.ChangePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := c.service.ChangePassword(ctx, sub.UserID, req, clientInfo(r)); err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.MessageResponse{Message: "contraseña actualizada"})
}

// Me maneja GET /v1/auth/me (requiere auth + LoadContext)
func (c *Controller) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uc := middlewares.GetUserContext(ctx)
	if uc == nil {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, dto.MeResponse{
		UserID:      uc.UserID,
		Email:       uc.Email,
		ProfileID:   uc.ProfileID,
		Roles:       uc.Roles,
		Permissions: uc.Permissions,
		Attributes:  uc.Attributes,
	})
}

// ─── Helpers ───

func clientInfo(r *http.Request) svc.ClientInfo {
	return svc.ClientInfo{
		IP:        middlewares.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("unsupported content type"))
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httperrors.WriteError(w, httperrors.ErrInvalidJSON)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, svc.ErrMissingFields):
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("faltan campos obligatorios"))

	case errors.Is(err, svc.ErrInvalidCredentials):
		httperrors.WriteError(w, httperrors.ErrInvalidCredentials)

	case errors.Is(err, svc.ErrUserDisabled):
		httperrors.WriteError(w, httperrors.ErrAccountSuspended)

	case errors.Is(err, svc.ErrInvalidRefresh):
		httperrors.WriteError(w, httperrors.ErrTokenInvalid)

	case errors.Is(err, svc.ErrWeakPassword):
		httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("la contraseña nueva no cumple el mínimo"))

	case errors.Is(err, svc.ErrTokenIssueFailed):
		httperrors.WriteError(w, httperrors.ErrInternalServerError.WithDetail("error al emitir tokens"))

	default:
		httperrors.WriteError(w, httperrors.ErrInternalServerError)
	}
}
