package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/souche/internal/authz"
	"github.com/dropDatabas3/souche/internal/domain/repository"
)

// rbacLoader implementa authz.ContextLoader contra PostgreSQL.
// La carga es siempre fresca: sin cache, los cambios de rol aplican en el
// próximo request.
type rbacLoader struct {
	pool *pgxpool.Pool
}

// NewContextLoader crea el loader de contexto de autorización.
func NewContextLoader(pool *pgxpool.Pool) authz.ContextLoader {
	return &rbacLoader{pool: pool}
}

func (l *rbacLoader) LoadUserContext(ctx context.Context, userID int64) (*authz.UserContext, error) {
	// Paso 1: usuario + perfil + estado laboral (atributos ABAC).
	var (
		uc         authz.UserContext
		department *string
		employment *string
	)
	err := l.pool.QueryRow(ctx, `
		SELECT u.id, u.email, u.profile_id, p.description, es.label
		FROM users u
		JOIN profiles p ON p.id = u.profile_id
		LEFT JOIN employment_statuses es ON es.id = u.employment_status_id
		WHERE u.id = $1
	`, userID).Scan(&uc.UserID, &uc.Email, &uc.ProfileID, &department, &employment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Usuario inexistente o sin perfil: el JOIN no devuelve fila.
			return nil, fmt.Errorf("load user context: %w", repository.ErrNotFound)
		}
		return nil, fmt.Errorf("load user context: %w", err)
	}

	uc.Attributes = map[string]any{}
	if department != nil {
		uc.Attributes["department"] = *department
	}
	if employment != nil {
		uc.Attributes["employmentStatus"] = *employment
	}

	// Paso 2: roles del perfil con sus permisos, en una sola consulta.
	// Las condiciones de la asignación (override) pisan las del permiso.
	rows, err := l.pool.Query(ctx, `
		SELECT r.id, r.label, perm.id, perm.name, perm.resource, perm.action,
		       COALESCE(rp.override_conditions, perm.conditions)
		FROM profile_roles pr
		JOIN roles r ON r.id = pr.role_id
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions perm ON perm.id = rp.permission_id
		WHERE pr.profile_id = $1
		ORDER BY pr.role_id, rp.permission_id
	`, *uc.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	defer rows.Close()

	var roles []authz.Role
	index := make(map[int64]int)
	for rows.Next() {
		var (
			roleID    int64
			roleName  string
			permID    *int64
			permName  *string
			resource  *string
			action    *string
			condsJSON []byte
		)
		if err := rows.Scan(&roleID, &roleName, &permID, &permName, &resource, &action, &condsJSON); err != nil {
			return nil, fmt.Errorf("scan role row: %w", err)
		}
		i, ok := index[roleID]
		if !ok {
			roles = append(roles, authz.Role{ID: roleID, Name: roleName})
			i = len(roles) - 1
			index[roleID] = i
		}
		if permID != nil {
			var conds authz.Conditions
			if len(condsJSON) > 0 {
				if err := json.Unmarshal(condsJSON, &conds); err != nil {
					return nil, fmt.Errorf("decode permission conditions: %w", err)
				}
			}
			roles[i].Permissions = append(roles[i].Permissions, authz.Permission{
				ID:         *permID,
				Name:       orEmpty(permName),
				Resource:   orEmpty(resource),
				Action:     orEmpty(action),
				Conditions: conds,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}

	for _, role := range roles {
		uc.Roles = append(uc.Roles, role.Name)
	}
	uc.Permissions = authz.ExtractPermissions(roles)

	return &uc, nil
}
