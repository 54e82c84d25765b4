package repository

import (
	"context"
	"time"
)

// RefreshToken representa un refresh token persistido. Nunca se guarda el
// JWT en claro: TokenHash es sha256 hex del token firmado.
type RefreshToken struct {
	ID            string // uuid
	UserID        int64
	TokenHash     string
	DeviceType    string
	IPAddress     string // hasheada: "sha256:<hex>"
	UserAgent     string
	IsRevoked     bool
	RevokedAt     *time.Time
	RevokedReason *string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	LastUsedAt    *time.Time
	UsageCount    int
}

// IsValid reporta si el token sigue siendo usable: no revocado y no vencido.
func (t *RefreshToken) IsValid(now time.Time) bool {
	return !t.IsRevoked && now.Before(t.ExpiresAt)
}

// CreateRefreshTokenInput contiene los datos para crear un refresh token.
// TokenHash puede ser un placeholder: el flujo de emisión escribe el hash
// real con UpdateHash una vez firmado el JWT que embebe el ID de la fila.
type CreateRefreshTokenInput struct {
	ID         string
	UserID     int64
	TokenHash  string
	DeviceType string
	IPAddress  string
	UserAgent  string
	ExpiresAt  time.Time
}

// TokenRepository define operaciones sobre refresh tokens.
type TokenRepository interface {
	// Create inserta un nuevo refresh token.
	Create(ctx context.Context, input CreateRefreshTokenInput) error

	// UpdateHash reemplaza el token_hash de una fila existente.
	UpdateHash(ctx context.Context, id, tokenHash string) error

	// GetByHash busca un token por su hash. Retorna ErrNotFound si no existe.
	GetByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// GetByID busca un token por su ID. Retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id string) (*RefreshToken, error)

	// MarkUsed incrementa usage_count y actualiza last_used_at.
	MarkUsed(ctx context.Context, id string, usedAt time.Time) error

	// Revoke revoca un token. Idempotente: revocar un token ya revocado
	// no es error y no pisa revoked_at/revoked_reason originales.
	Revoke(ctx context.Context, id, reason string) error

	// RevokeAllByUser revoca todos los tokens activos de un usuario.
	// Retorna el número de tokens revocados.
	RevokeAllByUser(ctx context.Context, userID int64, reason string) (int, error)

	// DeleteExpired elimina tokens cuyo expires_at ya pasó.
	// Retorna el número de filas eliminadas.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// DeleteRevokedBefore elimina tokens revocados antes del corte.
	// Retorna el número de filas eliminadas.
	DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
