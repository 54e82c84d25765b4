package repository

import (
	"context"
	"time"
)

// AuditEntry representa un evento de auditoría persistido.
type AuditEntry struct {
	ID         int64
	UserID     *int64
	Action     string
	Resource   string
	ResourceID string
	Severity   string // info | warning | critical
	Success    bool
	Details    map[string]any
	IPAddress  string // hasheada: "sha256:<hex>"
	UserAgent  string
	CreatedAt  time.Time
}

// AuditRepository define la inserción de eventos de auditoría.
type AuditRepository interface {
	Insert(ctx context.Context, entry AuditEntry) error
}
