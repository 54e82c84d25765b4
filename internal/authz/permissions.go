package authz

// Permission es un permiso cargado desde el almacenamiento. Priority es
// informativo (orden en interfaces de administración); la evaluación no lo
// consulta. Conditions viaja con el permiso para chequeos ABAC explícitos.
type Permission struct {
	ID          int64
	Name        string // "recurso:acción"
	Resource    string
	Action      string
	Description string
	Category    string
	Priority    int
	IsSystem    bool
	Conditions  Conditions
}

// Role es un rol con sus permisos ya resueltos.
type Role struct {
	ID          int64
	Name        string
	Description string
	Permissions []Permission
}

// ExtractPermissions aplana los roles en una lista única de nombres de
// permiso, preservando el orden de primera aparición.
func ExtractPermissions(roles []Role) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, role := range roles {
		for _, p := range role.Permissions {
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			out = append(out, p.Name)
		}
	}
	return out
}

// Catálogo semilla de permisos por rol del sistema. Lo usan el seed de la
// base y los tests; la fuente de verdad en runtime es el almacenamiento.
var SystemRolePermissions = map[string][]string{
	"super_admin": {
		"system:*",
		"users:*",
		"profiles:*",
		"roles:*",
		"permissions:*",
		"audit:*",
		"employment_status:*",
		"sessions:*",
	},
	"admin": {
		"users:read",
		"users:create",
		"users:update",
		"users:delete",
		"profiles:read",
		"profiles:create",
		"profiles:update",
		"roles:read",
		"audit:read",
		"employment_status:read",
		"sessions:read",
	},
	"manager": {
		"users:read",
		"users:update",
		"profiles:read",
		"roles:read",
		"audit:read",
		"employment_status:read",
	},
	"user": {
		"users:read",
		"profiles:read",
	},
	"guest": {
		"profiles:read",
	},
}
