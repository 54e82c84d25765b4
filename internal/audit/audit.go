// Package audit emite eventos de auditoría hacia el almacenamiento.
// La emisión es fire-and-forget: auditar nunca puede voltear la operación
// auditada, así que los errores se loguean y se tragan.
package audit

import (
	"context"
	"time"

	"github.com/dropDatabas3/souche/internal/domain/repository"
	"github.com/dropDatabas3/souche/internal/observability/logger"
	tokens "github.com/dropDatabas3/souche/internal/security/token"
)

// Acciones de auditoría conocidas.
const (
	ActionLoginSuccess       = "login_success"
	ActionLoginFailed        = "login_failed"
	ActionLogout             = "logout"
	ActionLogoutAll          = "logout_all"
	ActionTokenRefresh       = "token_refresh"
	ActionPasswordChange     = "password_change"
	ActionAccessGranted      = "access_granted"
	ActionAccessGrantedOwner = "access_granted_owner"
	ActionAccessDenied       = "access_denied"
)

// Severidades.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Entry es un evento de auditoría a registrar. IP se recibe en claro y se
// hashea acá: nada aguas abajo ve la IP original.
type Entry struct {
	UserID     *int64
	Action     string
	Resource   string
	ResourceID string
	Severity   string
	Success    bool
	Details    map[string]any
	IP         string
	UserAgent  string
}

// Logger persiste eventos vía un AuditRepository.
type Logger struct {
	repo repository.AuditRepository
}

func NewLogger(repo repository.AuditRepository) *Logger {
	return &Logger{repo: repo}
}

// Log registra el evento. No retorna error: una falla de auditoría se
// loguea con zap y la operación original sigue.
func (l *Logger) Log(ctx context.Context, e Entry) {
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}

	entry := repository.AuditEntry{
		UserID:     e.UserID,
		Action:     e.Action,
		Resource:   e.Resource,
		ResourceID: e.ResourceID,
		Severity:   e.Severity,
		Success:    e.Success,
		Details:    e.Details,
		IPAddress:  tokens.HashIP(e.IP),
		UserAgent:  e.UserAgent,
		CreatedAt:  time.Now().UTC(),
	}

	if err := l.repo.Insert(ctx, entry); err != nil {
		logger.From(ctx).Error("no se pudo registrar evento de auditoría",
			logger.Component("audit"), logger.String("action", e.Action), logger.Err(err))
	}
}
