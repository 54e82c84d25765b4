package authz

import "context"

// UserContext es la identidad resuelta contra la que se decide autorización:
// roles, permisos aplanados y atributos para condiciones ABAC.
type UserContext struct {
	UserID      int64
	Email       string
	ProfileID   *int64
	Roles       []string
	Permissions []string
	Attributes  map[string]any
}

// ContextLoader resuelve el UserContext fresco desde el almacenamiento.
// Las decisiones de autorización nunca se toman sobre claims viejos del
// token: cambios de rol aplican en el próximo request.
type ContextLoader interface {
	// LoadUserContext carga perfil → roles → permisos del usuario.
	// Retorna repository.ErrNotFound (envuelto) si el usuario o su perfil
	// no existen.
	LoadUserContext(ctx context.Context, userID int64) (*UserContext, error)
}
