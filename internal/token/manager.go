// Package token implementa el ciclo de vida de refresh tokens: emisión en
// dos fases, verificación contra la fila persistida, revocación y barridos.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/souche/internal/domain/repository"
	"github.com/dropDatabas3/souche/internal/jwt"
	"github.com/dropDatabas3/souche/internal/observability/logger"
	tokens "github.com/dropDatabas3/souche/internal/security/token"
)

var (
	// ErrTokenNotFound indica que el hash presentado no referencia fila alguna.
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrTokenRevoked indica que la fila existe pero ya no es válida
	// (revocada o vencida en base, aunque la firma siga vigente).
	ErrTokenRevoked = errors.New("refresh token revoked")
)

// placeholder escrito en token_hash durante la fase 1 de Issue. El JWT
// embebe el id de la fila, así que la fila tiene que existir antes de firmar.
const pendingHash = "pending"

// Manager administra refresh tokens sobre un TokenRepository.
//
// El exchange de refresh emite solo un access token nuevo: el refresh no
// rota. Rotar-en-uso es un endurecimiento conocido que se decidió no aplicar
// para no invalidar sesiones largas de clientes existentes.
type Manager struct {
	repo  repository.TokenRepository
	codec *jwt.Codec
}

func NewManager(repo repository.TokenRepository, codec *jwt.Codec) *Manager {
	return &Manager{repo: repo, codec: codec}
}

// Issued es el resultado de una emisión.
type Issued struct {
	Token     string // JWT firmado
	ID        string // uuid de la fila
	ExpiresAt time.Time
}

// Issue emite un refresh token en dos fases:
//
//	Paso 1: insertar la fila con hash placeholder para obtener su uuid.
//	Paso 2: firmar el JWT embebiendo ese uuid (claim tid).
//	Paso 3: escribir el hash real (sha256 hex del JWT) sobre la fila.
//
// deviceType vacío se infiere del User-Agent.
func (m *Manager) Issue(ctx context.Context, userID int64, ip, userAgent, deviceType string) (*Issued, error) {
	log := logger.From(ctx).With(logger.Component("token"), logger.Op("issue"))

	if deviceType == "" {
		deviceType = tokens.DetectDeviceType(userAgent)
	}

	id := uuid.NewString()
	expiresAt := time.Now().UTC().Add(m.codec.RefreshTTL())

	// Paso 1: fila con placeholder.
	err := m.repo.Create(ctx, repository.CreateRefreshTokenInput{
		ID:         id,
		UserID:     userID,
		TokenHash:  pendingHash,
		DeviceType: deviceType,
		IPAddress:  tokens.HashIP(ip),
		UserAgent:  userAgent,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create refresh token row: %w", err)
	}

	// Paso 2: firmar con el id de fila adentro.
	raw, _, err := m.codec.SignRefresh(userID, id)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	// Paso 3: hash real.
	if err := m.repo.UpdateHash(ctx, id, tokens.SHA256Hex(raw)); err != nil {
		return nil, fmt.Errorf("persist token hash: %w", err)
	}

	log.Debug("refresh token emitido", logger.UserID(userID), logger.TokenID(id))
	return &Issued{Token: raw, ID: id, ExpiresAt: expiresAt}, nil
}

// Verify valida un refresh token de punta a punta: firma y claims vía codec,
// existencia por hash, y validez de la fila (no revocado, no vencido).
// No marca uso: MarkUsed es del caller, después de que el exchange completo
// haya salido bien.
func (m *Manager) Verify(ctx context.Context, raw string) (*repository.RefreshToken, *jwt.RefreshClaims, error) {
	claims, err := m.codec.VerifyRefresh(raw)
	if err != nil {
		return nil, nil, err
	}

	row, err := m.repo.GetByHash(ctx, tokens.SHA256Hex(raw))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil, ErrTokenNotFound
		}
		return nil, nil, fmt.Errorf("lookup refresh token: %w", err)
	}

	if !row.IsValid(time.Now().UTC()) {
		return nil, nil, ErrTokenRevoked
	}
	return row, claims, nil
}

// MarkUsed registra un uso exitoso del token.
func (m *Manager) MarkUsed(ctx context.Context, id string) error {
	return m.repo.MarkUsed(ctx, id, time.Now().UTC())
}

// Revoke revoca un token. Idempotente.
func (m *Manager) Revoke(ctx context.Context, id, reason string) error {
	log := logger.From(ctx).With(logger.Component("token"), logger.Op("revoke"))
	if err := m.repo.Revoke(ctx, id, reason); err != nil {
		return err
	}
	log.Info("refresh token revocado", logger.TokenID(id), logger.Reason(reason))
	return nil
}

// RevokeAll revoca todos los tokens activos del usuario. Retorna cuántos
// revocó; cero no es error.
func (m *Manager) RevokeAll(ctx context.Context, userID int64, reason string) (int, error) {
	log := logger.From(ctx).With(logger.Component("token"), logger.Op("revoke_all"))
	n, err := m.repo.RevokeAllByUser(ctx, userID, reason)
	if err != nil {
		return 0, err
	}
	log.Info("tokens revocados en bloque", logger.UserID(userID), logger.Reason(reason), logger.Count(n))
	return n, nil
}

// SweepExpired elimina tokens vencidos. Retorna filas eliminadas.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	return m.repo.DeleteExpired(ctx, time.Now().UTC())
}

// SweepOldRevoked elimina tokens revocados hace más de retention.
func (m *Manager) SweepOldRevoked(ctx context.Context, retention time.Duration) (int, error) {
	return m.repo.DeleteRevokedBefore(ctx, time.Now().UTC().Add(-retention))
}
