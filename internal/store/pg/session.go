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

// sessionRepo implementa repository.SessionRepository.
type sessionRepo struct {
	pool *pgxpool.Pool
}

// NewSessionRepo crea un nuevo repositorio de sesiones.
func NewSessionRepo(pool *pgxpool.Pool) repository.SessionRepository {
	return &sessionRepo{pool: pool}
}

func (r *sessionRepo) Create(ctx context.Context, input repository.CreateSessionInput) (*repository.UserSession, error) {
	query := `
		INSERT INTO user_sessions (user_id, token_hash, ip_address, user_agent)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, token_hash, ip_address, user_agent, is_active, last_activity, created_at
	`
	return r.scanOne(r.pool.QueryRow(ctx, query,
		input.UserID, input.TokenHash, nullIfEmpty(input.IPAddress), nullIfEmpty(input.UserAgent)))
}

func (r *sessionRepo) GetActiveByTokenHash(ctx context.Context, tokenHash string) (*repository.UserSession, error) {
	query := `
		SELECT id, user_id, token_hash, ip_address, user_agent, is_active, last_activity, created_at
		FROM user_sessions
		WHERE token_hash = $1 AND is_active = TRUE
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, tokenHash))
}

func (r *sessionRepo) UpdateActivity(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_sessions SET last_activity = $2 WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("update session activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *sessionRepo) Deactivate(ctx context.Context, tokenHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE user_sessions SET is_active = FALSE WHERE token_hash = $1 AND is_active = TRUE
	`, tokenHash)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return nil
}

func (r *sessionRepo) DeactivateAllByUser(ctx context.Context, userID int64) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_sessions SET is_active = FALSE WHERE user_id = $1 AND is_active = TRUE
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("deactivate user sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *sessionRepo) DeactivateIdleSince(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_sessions SET is_active = FALSE WHERE is_active = TRUE AND last_activity < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deactivate idle sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *sessionRepo) scanOne(row pgx.Row) (*repository.UserSession, error) {
	var (
		s      repository.UserSession
		ip, ua *string
	)
	err := row.Scan(&s.ID, &s.UserID, &s.TokenHash, &ip, &ua, &s.IsActive, &s.LastActivity, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.IPAddress = orEmpty(ip)
	s.UserAgent = orEmpty(ua)
	return &s, nil
}
