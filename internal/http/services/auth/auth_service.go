package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/souche/internal/audit"
	"github.com/dropDatabas3/souche/internal/domain/repository"
	dto "github.com/dropDatabas3/souche/internal/http/dto/auth"
	jwtx "github.com/dropDatabas3/souche/internal/jwt"
	"github.com/dropDatabas3/souche/internal/observability/logger"
	"github.com/dropDatabas3/souche/internal/observability/metrics"
	"github.com/dropDatabas3/souche/internal/security/password"
	"github.com/dropDatabas3/souche/internal/session"
	"github.com/dropDatabas3/souche/internal/token"
)

// Errores del servicio de autenticación
var (
	ErrMissingFields      = fmt.Errorf("missing required fields")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrUserDisabled       = fmt.Errorf("user disabled")
	ErrInvalidRefresh     = fmt.Errorf("invalid refresh token")
	ErrTokenIssueFailed   = fmt.Errorf("failed to issue token")
	ErrWeakPassword       = fmt.Errorf("password too weak")
)

// Deps contiene las dependencias del servicio.
type Deps struct {
	Users    repository.UserRepository
	Tokens   *token.Manager
	Sessions *session.Tracker
	Codec    *jwtx.Codec
	Auditor  *audit.Logger
}

// Service implementa login, refresh, logout y cambio de contraseña.
type Service struct {
	deps Deps
}

func NewService(deps Deps) *Service {
	return &Service{deps: deps}
}

// ClientInfo es la metadata del cliente que acompaña cada operación.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// Login autentica email+password y emite el par de tokens, registrando la
// sesión del access token.
func (s *Service) Login(ctx context.Context, in dto.LoginRequest, client ClientInfo) (*dto.TokenPairResponse, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("auth"),
		logger.Op("Login"),
	)

	// Paso 0: Normalización
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	if in.Email == "" || in.Password == "" {
		return nil, ErrMissingFields
	}

	// Paso 1: Buscar usuario y verificar password
	user, err := s.deps.Users.GetByEmail(ctx, in.Email)
	if err != nil {
		log.Debug("user not found")
		s.auditLogin(ctx, nil, in.Email, client, false)
		return nil, ErrInvalidCredentials
	}

	log = log.With(logger.UserID(user.ID))

	if !user.IsActive {
		log.Info("user disabled")
		s.auditLogin(ctx, &user.ID, in.Email, client, false)
		return nil, ErrUserDisabled
	}

	if !password.Verify(in.Password, user.PasswordHash) {
		log.Debug("password check failed")
		s.auditLogin(ctx, &user.ID, in.Email, client, false)
		return nil, ErrInvalidCredentials
	}

	// Paso 2: Emitir access token
	var profileID int64
	if user.ProfileID != nil {
		profileID = *user.ProfileID
	}
	accessToken, accessExp, err := s.deps.Codec.SignAccess(user.ID, user.Email, profileID)
	if err != nil {
		log.Error("failed to sign access token", logger.Err(err))
		return nil, ErrTokenIssueFailed
	}

	// Paso 3: Refresh token persistente (dos fases, lo maneja el manager)
	issued, err := s.deps.Tokens.Issue(ctx, user.ID, client.IP, client.UserAgent, "")
	if err != nil {
		log.Error("failed to issue refresh token", logger.Err(err))
		return nil, ErrTokenIssueFailed
	}

	// Paso 4: Registrar la sesión del access token
	if _, err := s.deps.Sessions.Touch(ctx, user.ID, accessToken, client.IP, client.UserAgent); err != nil {
		log.Error("failed to create session", logger.Err(err))
		return nil, ErrTokenIssueFailed
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	metrics.TokensIssued.WithLabelValues("access").Inc()
	metrics.TokensIssued.WithLabelValues("refresh").Inc()
	s.auditLogin(ctx, &user.ID, in.Email, client, true)
	log.Info("login successful")

	return &dto.TokenPairResponse{
		AccessToken:      accessToken,
		RefreshToken:     issued.Token,
		AccessExpiresIn:  int64(time.Until(accessExp).Seconds()),
		RefreshExpiresIn: int64(time.Until(issued.ExpiresAt).Seconds()),
		TokenType:        "Bearer",
	}, nil
}

// Refresh intercambia un refresh token válido por un access token nuevo.
// El refresh no rota: el presentado sigue siendo válido hasta su expiración
// o revocación. MarkUsed corre solo si todo el exchange salió bien.
func (s *Service) Refresh(ctx context.Context, rawRefresh string, client ClientInfo) (*dto.RefreshResponse, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("auth"),
		logger.Op("Refresh"),
	)

	if strings.TrimSpace(rawRefresh) == "" {
		return nil, ErrMissingFields
	}

	// Paso 1: Verificación completa (firma + fila + validez)
	row, claims, err := s.deps.Tokens.Verify(ctx, rawRefresh)
	if err != nil {
		log.Debug("refresh verification failed", logger.Err(err))
		return nil, ErrInvalidRefresh
	}

	log = log.With(logger.UserID(row.UserID), logger.TokenID(row.ID))

	// Paso 2: El usuario tiene que seguir activo.
	user, err := s.deps.Users.GetByID(ctx, claims.UserID)
	if err != nil {
		log.Debug("user not found for refresh")
		return nil, ErrInvalidRefresh
	}
	if !user.IsActive {
		log.Info("user disabled, refresh rejected")
		return nil, ErrUserDisabled
	}

	// Paso 3: Access token nuevo + sesión nueva.
	var profileID int64
	if user.ProfileID != nil {
		profileID = *user.ProfileID
	}
	accessToken, accessExp, err := s.deps.Codec.SignAccess(user.ID, user.Email, profileID)
	if err != nil {
		log.Error("failed to sign access token", logger.Err(err))
		return nil, ErrTokenIssueFailed
	}
	if _, err := s.deps.Sessions.Touch(ctx, user.ID, accessToken, client.IP, client.UserAgent); err != nil {
		log.Error("failed to create session", logger.Err(err))
		return nil, ErrTokenIssueFailed
	}

	// Paso 4: Recién acá se registra el uso.
	if err := s.deps.Tokens.MarkUsed(ctx, row.ID); err != nil {
		log.Warn("failed to mark token used", logger.Err(err))
	}

	metrics.TokensIssued.WithLabelValues("access").Inc()
	if s.deps.Auditor != nil {
		s.deps.Auditor.Log(ctx, audit.Entry{
			UserID:    &user.ID,
			Action:    audit.ActionTokenRefresh,
			Resource:  "auth",
			Success:   true,
			IP:        client.IP,
			UserAgent: client.UserAgent,
		})
	}
	log.Debug("access token refreshed")

	return &dto.RefreshResponse{
		AccessToken:     accessToken,
		AccessExpiresIn: int64(time.Until(accessExp).Seconds()),
		TokenType:       "Bearer",
	}, nil
}

// Logout revoca el refresh token presentado y apaga la sesión del access
// token que autenticó el request.
func (s *Service) Logout(ctx context.Context, rawRefresh, rawAccess string, userID int64, client ClientInfo) error {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("auth"),
		logger.Op("Logout"),
		logger.UserID(userID),
	)

	if strings.TrimSpace(rawRefresh) != "" {
		row, _, err := s.deps.Tokens.Verify(ctx, rawRefresh)
		if err == nil && row.UserID == userID {
			if err := s.deps.Tokens.Revoke(ctx, row.ID, "logout"); err != nil {
				log.Warn("failed to revoke refresh token", logger.Err(err))
			} else {
				metrics.TokensRevoked.Inc()
			}
		}
	}

	if err := s.deps.Sessions.Deactivate(ctx, rawAccess); err != nil {
		log.Warn("failed to deactivate session", logger.Err(err))
	}

	if s.deps.Auditor != nil {
		s.deps.Auditor.Log(ctx, audit.Entry{
			UserID:    &userID,
			Action:    audit.ActionLogout,
			Resource:  "auth",
			Success:   true,
			IP:        client.IP,
			UserAgent: client.UserAgent,
		})
	}
	log.Info("logout completed")
	return nil
}

// LogoutAll revoca todos los refresh tokens del usuario y apaga todas sus
// sesiones. Retorna cuántos tokens y sesiones cerró.
func (s *Service) LogoutAll(ctx context.Context, userID int64, client ClientInfo) (revoked, closed int, err error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("auth"),
		logger.Op("LogoutAll"),
		logger.UserID(userID),
	)

	revoked, err = s.deps.Tokens.RevokeAll(ctx, userID, "logout_all")
	if err != nil {
		return 0, 0, err
	}
	for i := 0; i < revoked; i++ {
		metrics.TokensRevoked.Inc()
	}

	closed, err = s.deps.Sessions.DeactivateAllForUser(ctx, userID)
	if err != nil {
		return revoked, 0, err
	}

	if s.deps.Auditor != nil {
		s.deps.Auditor.Log(ctx, audit.Entry{
			UserID:    &userID,
			Action:    audit.ActionLogoutAll,
			Resource:  "auth",
			Success:   true,
			Details:   map[string]any{"revokedTokens": revoked, "closedSessions": closed},
			IP:        client.IP,
			UserAgent: client.UserAgent,
		})
	}
	log.Info("logout-all completed", logger.Count(revoked))
	return revoked, closed, nil
}

// ChangePassword verifica la contraseña actual, persiste el hash de la
// nueva y revoca todos los tokens y sesiones del usuario: un cambio de
// contraseña cierra todo lo abierto.
func (s *Service) ChangePassword(ctx context.Context, userID int64, in dto.ChangePasswordRequest, client ClientInfo) error {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("auth"),
		logger.Op("ChangePassword"),
		logger.UserID(userID),
	)

	if in.CurrentPassword == "" || in.NewPassword == "" {
		return ErrMissingFields
	}
	if len(in.NewPassword) < 8 {
		return ErrWeakPassword
	}

	user, err := s.deps.Users.GetByID(ctx, userID)
	if err != nil {
		return ErrInvalidCredentials
	}
	if !password.Verify(in.CurrentPassword, user.PasswordHash) {
		log.Debug("current password check failed")
		return ErrInvalidCredentials
	}

	hash, err := password.HashPassword(in.NewPassword)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}
	if err := s.deps.Users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("persist new password: %w", err)
	}

	// Cerrar todo lo abierto con la contraseña vieja.
	if n, err := s.deps.Tokens.RevokeAll(ctx, userID, "password_change"); err != nil {
		log.Warn("failed to revoke tokens after password change", logger.Err(err))
	} else {
		for i := 0; i < n; i++ {
			metrics.TokensRevoked.Inc()
		}
	}
	if _, err := s.deps.Sessions.DeactivateAllForUser(ctx, userID); err != nil {
		log.Warn("failed to close sessions after password change", logger.Err(err))
	}

	if s.deps.Auditor != nil {
		s.deps.Auditor.Log(ctx, audit.Entry{
			UserID:    &userID,
			Action:    audit.ActionPasswordChange,
			Resource:  "auth",
			Severity:  audit.SeverityWarning,
			Success:   true,
			IP:        client.IP,
			UserAgent: client.UserAgent,
		})
	}
	log.Info("password changed")
	return nil
}

func (s *Service) auditLogin(ctx context.Context, userID *int64, email string, client ClientInfo, success bool) {
	if s.deps.Auditor == nil {
		return
	}
	action := audit.ActionLoginSuccess
	severity := audit.SeverityInfo
	if !success {
		action = audit.ActionLoginFailed
		severity = audit.SeverityWarning
		metrics.LoginAttempts.WithLabelValues("failed").Inc()
	}
	s.deps.Auditor.Log(ctx, audit.Entry{
		UserID:    userID,
		Action:    action,
		Resource:  "auth",
		Severity:  severity,
		Success:   success,
		Details:   map[string]any{"email": email},
		IP:        client.IP,
		UserAgent: client.UserAgent,
	})
}
