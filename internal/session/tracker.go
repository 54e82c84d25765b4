// Package session mantiene el registro de sesiones activas con ventana
// deslizante de inactividad. Una sesión vive atada al access token que la
// abrió (por hash) y muere por logout o por inactividad.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/souche/internal/domain/repository"
	"github.com/dropDatabas3/souche/internal/observability/logger"
	tokens "github.com/dropDatabas3/souche/internal/security/token"
)

var (
	// ErrSessionNotFound indica que no hay sesión activa para el token.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired indica que la sesión superó el límite de inactividad.
	ErrSessionExpired = errors.New("session expired")
)

// Tracker administra sesiones sobre un SessionRepository.
type Tracker struct {
	repo            repository.SessionRepository
	inactivityLimit time.Duration
}

func NewTracker(repo repository.SessionRepository, inactivityLimit time.Duration) *Tracker {
	if inactivityLimit <= 0 {
		inactivityLimit = time.Hour
	}
	return &Tracker{repo: repo, inactivityLimit: inactivityLimit}
}

// Touch registra una sesión nueva para el access token recién emitido.
func (t *Tracker) Touch(ctx context.Context, userID int64, rawAccessToken, ip, userAgent string) (*repository.UserSession, error) {
	s, err := t.repo.Create(ctx, repository.CreateSessionInput{
		UserID:    userID,
		TokenHash: tokens.SHA256Hex(rawAccessToken),
		IPAddress: tokens.HashIP(ip),
		UserAgent: userAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// Validate valida la sesión del token y desliza la ventana de actividad.
//
//   - sin sesión activa → ErrSessionNotFound
//   - inactividad > límite → la sesión se marca inactiva y ErrSessionExpired
//   - caso feliz → last_activity se actualiza a ahora
func (t *Tracker) Validate(ctx context.Context, rawAccessToken string) (*repository.UserSession, error) {
	hash := tokens.SHA256Hex(rawAccessToken)

	s, err := t.repo.GetActiveByTokenHash(ctx, hash)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("lookup session: %w", err)
	}

	now := time.Now().UTC()
	if now.Sub(s.LastActivity) > t.inactivityLimit {
		// Vencida por inactividad: se apaga acá mismo, no se espera al sweep.
		if err := t.repo.Deactivate(ctx, hash); err != nil {
			logger.From(ctx).Warn("no se pudo desactivar sesión vencida",
				logger.Component("session"), logger.UserID(s.UserID), logger.Err(err))
		}
		return nil, ErrSessionExpired
	}

	if err := t.repo.UpdateActivity(ctx, s.ID, now); err != nil {
		return nil, fmt.Errorf("update activity: %w", err)
	}
	s.LastActivity = now
	return s, nil
}

// Deactivate apaga la sesión del token. Sin sesión activa no es error.
func (t *Tracker) Deactivate(ctx context.Context, rawAccessToken string) error {
	return t.repo.Deactivate(ctx, tokens.SHA256Hex(rawAccessToken))
}

// DeactivateAllForUser apaga todas las sesiones del usuario (logout-all,
// cambio de contraseña). Retorna cuántas apagó.
func (t *Tracker) DeactivateAllForUser(ctx context.Context, userID int64) (int, error) {
	n, err := t.repo.DeactivateAllByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	logger.From(ctx).Info("sesiones desactivadas en bloque",
		logger.Component("session"), logger.UserID(userID), logger.Count(n))
	return n, nil
}

// SweepInactive apaga en bloque las sesiones activas que superaron el
// límite de inactividad. Retorna cuántas apagó.
func (t *Tracker) SweepInactive(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-t.inactivityLimit)
	return t.repo.DeactivateIdleSince(ctx, cutoff)
}
