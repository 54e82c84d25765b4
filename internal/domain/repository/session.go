package repository

import (
	"context"
	"time"
)

// UserSession representa una sesión activa ligada a un access token.
// TokenHash es sha256 hex del access token, no el token en claro.
type UserSession struct {
	ID           int64
	UserID       int64
	TokenHash    string
	IPAddress    string // hasheada: "sha256:<hex>"
	UserAgent    string
	IsActive     bool
	LastActivity time.Time
	CreatedAt    time.Time
}

// CreateSessionInput contiene los datos para registrar una sesión.
type CreateSessionInput struct {
	UserID    int64
	TokenHash string
	IPAddress string
	UserAgent string
}

// SessionRepository define operaciones sobre sesiones de usuario.
type SessionRepository interface {
	// Create registra una nueva sesión activa.
	Create(ctx context.Context, input CreateSessionInput) (*UserSession, error)

	// GetActiveByTokenHash busca la sesión activa de un token.
	// Retorna ErrNotFound si no hay sesión activa con ese hash.
	GetActiveByTokenHash(ctx context.Context, tokenHash string) (*UserSession, error)

	// UpdateActivity actualiza last_activity.
	UpdateActivity(ctx context.Context, id int64, at time.Time) error

	// Deactivate marca una sesión como inactiva por hash de token.
	Deactivate(ctx context.Context, tokenHash string) error

	// DeactivateAllByUser marca inactivas todas las sesiones de un usuario.
	// Retorna el número de sesiones afectadas.
	DeactivateAllByUser(ctx context.Context, userID int64) (int, error)

	// DeactivateIdleSince marca inactivas las sesiones activas sin
	// actividad desde el corte. Retorna el número de sesiones afectadas.
	DeactivateIdleSince(ctx context.Context, cutoff time.Time) (int, error)
}
