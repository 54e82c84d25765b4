// Package repository define interfaces de acceso a datos.
package repository

import (
	"context"
	"time"
)

// User representa un usuario persistido.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	ProfileID    *int64
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserRepository define operaciones sobre usuarios.
type UserRepository interface {
	// GetByEmail busca un usuario por email. Retorna ErrNotFound si no existe.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetByID busca un usuario por ID. Retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id int64) (*User, error)

	// UpdatePasswordHash persiste un nuevo hash de contraseña.
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
}
