// Package authz implementa el chequeo de permisos RBAC + ABAC. Es un
// paquete puro: evalúa sobre un UserContext ya cargado, sin tocar red ni
// base de datos, para poder testearlo exhaustivamente en memoria.
package authz

import (
	"fmt"
	"strings"
)

// SuperPermission concede cualquier permiso del sistema.
const SuperPermission = "system:*"

// CheckOptions controla la agregación y el contexto ABAC de un chequeo.
type CheckOptions struct {
	// RequireAll: true = AND (todos los permisos), false = OR (al menos uno).
	RequireAll bool
	// Context: atributos adicionales del request para condiciones ABAC.
	Context map[string]any
}

// CheckResult es el veredicto de un chequeo de permisos.
type CheckResult struct {
	Allowed           bool
	Reason            string
	MatchedPermission string
	MatchedRole       string
}

// Check verifica si el usuario tiene los permisos requeridos.
//
// Resolución por permiso, en orden: match exacto, wildcard del recurso
// ("users:read" matchea "users:*"), y por último el super permiso
// "system:*". Un set de permisos vacío deniega siempre.
func Check(uc *UserContext, required []string, opts CheckOptions) CheckResult {
	if len(uc.Permissions) == 0 {
		return CheckResult{Allowed: false, Reason: "no permissions assigned"}
	}

	results := make([]CheckResult, 0, len(required))
	for _, perm := range required {
		results = append(results, checkSingle(uc, perm))
	}

	if opts.RequireAll {
		for _, r := range results {
			if !r.Allowed {
				return CheckResult{Allowed: false, Reason: "missing required permissions"}
			}
		}
		res := CheckResult{Allowed: true, Reason: "all required permissions present"}
		if len(results) > 0 {
			res.MatchedPermission = results[0].MatchedPermission
		}
		return res
	}

	for _, r := range results {
		if r.Allowed {
			return CheckResult{
				Allowed:           true,
				Reason:            "at least one required permission present",
				MatchedPermission: r.MatchedPermission,
				MatchedRole:       r.MatchedRole,
			}
		}
	}
	return CheckResult{Allowed: false, Reason: "none of the required permissions present"}
}

func checkSingle(uc *UserContext, required string) CheckResult {
	if contains(uc.Permissions, required) {
		return CheckResult{Allowed: true, MatchedPermission: required, Reason: "exact permission match"}
	}

	// Wildcard del recurso: "users:read" → "users:*"
	resource, _, _ := strings.Cut(required, ":")
	wildcard := resource + ":*"
	if contains(uc.Permissions, wildcard) {
		return CheckResult{Allowed: true, MatchedPermission: wildcard, Reason: "wildcard permission match"}
	}

	if contains(uc.Permissions, SuperPermission) {
		return CheckResult{Allowed: true, MatchedPermission: SuperPermission, Reason: "super admin access"}
	}

	return CheckResult{Allowed: false, Reason: fmt.Sprintf("permission %q not found", required)}
}

// HasRole reporta si el usuario tiene el rol.
func HasRole(uc *UserContext, role string) bool {
	return contains(uc.Roles, role)
}

// HasAnyRole reporta si el usuario tiene al menos uno de los roles.
func HasAnyRole(uc *UserContext, roles []string) bool {
	for _, r := range roles {
		if contains(uc.Roles, r) {
			return true
		}
	}
	return false
}

// HasAllRoles reporta si el usuario tiene todos los roles.
func HasAllRoles(uc *UserContext, roles []string) bool {
	for _, r := range roles {
		if !contains(uc.Roles, r) {
			return false
		}
	}
	return true
}

// IsResourceOwner reporta si el usuario es dueño del recurso.
func IsResourceOwner(uc *UserContext, resourceOwnerID int64) bool {
	return uc.UserID == resourceOwnerID
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
