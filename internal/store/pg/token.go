package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/souche/internal/domain/repository"
)

// tokenRepo implementa repository.TokenRepository.
type tokenRepo struct {
	pool *pgxpool.Pool
}

// NewTokenRepo crea un nuevo repositorio de refresh tokens.
func NewTokenRepo(pool *pgxpool.Pool) repository.TokenRepository {
	return &tokenRepo{pool: pool}
}

const tokenColumns = `
	id, user_id, token_hash, device_type, ip_address, user_agent,
	is_revoked, revoked_at, revoked_reason, expires_at, created_at,
	last_used_at, usage_count
`

func (r *tokenRepo) Create(ctx context.Context, input repository.CreateRefreshTokenInput) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, device_type, ip_address, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, input.ID, input.UserID, input.TokenHash, input.DeviceType,
		nullIfEmpty(input.IPAddress), nullIfEmpty(input.UserAgent), input.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

func (r *tokenRepo) UpdateHash(ctx context.Context, id, tokenHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET token_hash = $2 WHERE id = $1
	`, id, tokenHash)
	if err != nil {
		return fmt.Errorf("update token hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *tokenRepo) GetByHash(ctx context.Context, tokenHash string) (*repository.RefreshToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, tokenHash))
}

func (r *tokenRepo) GetByID(ctx context.Context, id string) (*repository.RefreshToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *tokenRepo) MarkUsed(ctx context.Context, id string, usedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET usage_count = usage_count + 1, last_used_at = $2
		WHERE id = $1
	`, id, usedAt)
	if err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *tokenRepo) Revoke(ctx context.Context, id, reason string) error {
	// El filtro is_revoked = FALSE hace la operación idempotente sin pisar
	// revoked_at/revoked_reason de la primera revocación.
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET is_revoked = TRUE, revoked_at = NOW(), revoked_reason = $2
		WHERE id = $1 AND is_revoked = FALSE
	`, id, reason)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Puede ser que no exista o que ya estuviera revocado.
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("revoke token: %w", err)
		}
		if !exists {
			return repository.ErrNotFound
		}
	}
	return nil
}

func (r *tokenRepo) RevokeAllByUser(ctx context.Context, userID int64, reason string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET is_revoked = TRUE, revoked_at = NOW(), revoked_reason = $2
		WHERE user_id = $1 AND is_revoked = FALSE
	`, userID, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke all tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *tokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *tokenRepo) DeleteRevokedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE is_revoked = TRUE AND revoked_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete revoked tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *tokenRepo) scanOne(row pgx.Row) (*repository.RefreshToken, error) {
	var (
		t      repository.RefreshToken
		ip, ua *string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.DeviceType, &ip, &ua,
		&t.IsRevoked, &t.RevokedAt, &t.RevokedReason, &t.ExpiresAt, &t.CreatedAt,
		&t.LastUsedAt, &t.UsageCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	t.IPAddress = orEmpty(ip)
	t.UserAgent = orEmpty(ua)
	return &t, nil
}
