package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/souche/internal/domain/repository"
)

// auditRepo implementa repository.AuditRepository.
type auditRepo struct {
	pool *pgxpool.Pool
}

// NewAuditRepo crea un nuevo repositorio de auditoría.
func NewAuditRepo(pool *pgxpool.Pool) repository.AuditRepository {
	return &auditRepo{pool: pool}
}

func (r *auditRepo) Insert(ctx context.Context, entry repository.AuditEntry) error {
	var details []byte
	if len(entry.Details) > 0 {
		b, err := json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		details = b
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs (user_id, action, resource, resource_id, severity, success, details, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.UserID, entry.Action, nullIfEmpty(entry.Resource), nullIfEmpty(entry.ResourceID),
		entry.Severity, entry.Success, details, nullIfEmpty(entry.IPAddress), nullIfEmpty(entry.UserAgent))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
