package middlewares

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/souche/internal/audit"
	"github.com/dropDatabas3/souche/internal/authz"
	"github.com/dropDatabas3/souche/internal/domain/repository"
	httperr "github.com/dropDatabas3/souche/internal/http/errors"
	"github.com/dropDatabas3/souche/internal/observability/logger"
	"github.com/dropDatabas3/souche/internal/observability/metrics"
)

// =================================================================================
// AUTHORIZATION MIDDLEWARES
// =================================================================================

// AuthorizeOptions controla un chequeo de autorización.
type AuthorizeOptions struct {
	// RequireAll: true = AND sobre los permisos, false = OR (default).
	RequireAll bool
	// Context: atributos adicionales del request para condiciones ABAC.
	Context map[string]any
	// AllowOwner: si está seteada y el sujeto es dueño del recurso, se
	// concede acceso sin chequear permisos.
	AllowOwner func(r *http.Request) (int64, error)
	// ErrorMessage: mensaje custom para el 403.
	ErrorMessage string
	// Audit: emite access_granted / access_granted_owner / access_denied.
	Audit bool
}

// Authorizer agrupa las dependencias de los middlewares de autorización.
type Authorizer struct {
	Loader  authz.ContextLoader
	Auditor *audit.Logger
}

func NewAuthorizer(loader authz.ContextLoader, auditor *audit.Logger) *Authorizer {
	return &Authorizer{Loader: loader, Auditor: auditor}
}

// Authorize exige los permisos dados sobre un request ya autenticado.
//
// El UserContext se carga fresco del almacenamiento en cada request: un
// cambio de roles aplica acá, no cuando venza el token. El contexto cargado
// queda disponible para el handler vía GetUserContext.
func (a *Authorizer) Authorize(requiredPermissions []string, opts AuthorizeOptions) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sub := GetSubject(r.Context())
			if sub == nil {
				httperr.WriteError(w, httperr.ErrUnauthorized)
				return
			}

			uc, err := a.loadContext(w, r, sub.UserID)
			if err != nil {
				return // ya respondió
			}
			ctx := WithUserContext(r.Context(), uc)
			r = r.WithContext(ctx)

			// Cortocircuito de dueño: el dueño entra sin mirar permisos.
			if opts.AllowOwner != nil {
				ownerID, err := opts.AllowOwner(r)
				if err == nil && authz.IsResourceOwner(uc, ownerID) {
					metrics.AuthzDecisions.WithLabelValues("granted_owner").Inc()
					if opts.Audit {
						a.auditDecision(r, uc, audit.ActionAccessGrantedOwner, true, map[string]any{
							"reason": "resource owner",
						})
					}
					next.ServeHTTP(w, r)
					return
				}
			}

			result := authz.Check(uc, requiredPermissions, authz.CheckOptions{
				RequireAll: opts.RequireAll,
				Context:    opts.Context,
			})

			if !result.Allowed {
				metrics.AuthzDecisions.WithLabelValues("denied").Inc()
				logger.From(r.Context()).Warn("acceso denegado",
					logger.Component("authorize"),
					logger.UserID(uc.UserID),
					logger.Reason(result.Reason),
					logger.Permission(strings.Join(requiredPermissions, ",")),
				)
				if opts.Audit {
					a.auditDecision(r, uc, audit.ActionAccessDenied, false, map[string]any{
						"requiredPermissions": requiredPermissions,
						"reason":              result.Reason,
					})
				}
				forbidden := httperr.ErrForbidden
				if opts.ErrorMessage != "" {
					forbidden = forbidden.WithDetail(opts.ErrorMessage)
				} else {
					forbidden = forbidden.WithDetail(result.Reason)
				}
				httperr.WriteError(w, forbidden)
				return
			}

			metrics.AuthzDecisions.WithLabelValues("granted").Inc()
			if opts.Audit {
				a.auditDecision(r, uc, audit.ActionAccessGranted, true, map[string]any{
					"matchedPermission":   result.MatchedPermission,
					"requiredPermissions": requiredPermissions,
				})
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole exige al menos uno de los roles dados.
func (a *Authorizer) RequireRole(roles []string, opts AuthorizeOptions) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sub := GetSubject(r.Context())
			if sub == nil {
				httperr.WriteError(w, httperr.ErrUnauthorized)
				return
			}

			uc, err := a.loadContext(w, r, sub.UserID)
			if err != nil {
				return
			}
			r = r.WithContext(WithUserContext(r.Context(), uc))

			if !authz.HasAnyRole(uc, roles) {
				metrics.AuthzDecisions.WithLabelValues("denied").Inc()
				if opts.Audit {
					a.auditDecision(r, uc, audit.ActionAccessDenied, false, map[string]any{
						"requiredRoles": roles,
						"userRoles":     uc.Roles,
					})
				}
				forbidden := httperr.ErrForbidden
				if opts.ErrorMessage != "" {
					forbidden = forbidden.WithDetail(opts.ErrorMessage)
				}
				httperr.WriteError(w, forbidden)
				return
			}

			metrics.AuthzDecisions.WithLabelValues("granted").Inc()
			if opts.Audit {
				a.auditDecision(r, uc, audit.ActionAccessGranted, true, map[string]any{
					"requiredRoles": roles,
				})
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAllRoles exige todos los roles dados.
func (a *Authorizer) RequireAllRoles(roles []string, opts AuthorizeOptions) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sub := GetSubject(r.Context())
			if sub == nil {
				httperr.WriteError(w, httperr.ErrUnauthorized)
				return
			}

			uc, err := a.loadContext(w, r, sub.UserID)
			if err != nil {
				return
			}
			r = r.WithContext(WithUserContext(r.Context(), uc))

			if !authz.HasAllRoles(uc, roles) {
				metrics.AuthzDecisions.WithLabelValues("denied").Inc()
				forbidden := httperr.ErrForbidden
				if opts.ErrorMessage != "" {
					forbidden = forbidden.WithDetail(opts.ErrorMessage)
				}
				httperr.WriteError(w, forbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOwnership solo deja pasar al dueño del recurso.
func (a *Authorizer) RequireOwnership(getOwnerID func(r *http.Request) (int64, error), opts AuthorizeOptions) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sub := GetSubject(r.Context())
			if sub == nil {
				httperr.WriteError(w, httperr.ErrUnauthorized)
				return
			}

			uc, err := a.loadContext(w, r, sub.UserID)
			if err != nil {
				return
			}
			r = r.WithContext(WithUserContext(r.Context(), uc))

			ownerID, err := getOwnerID(r)
			if err != nil {
				httperr.WriteError(w, httperr.ErrBadRequest.WithCause(err))
				return
			}
			if !authz.IsResourceOwner(uc, ownerID) {
				metrics.AuthzDecisions.WithLabelValues("denied").Inc()
				forbidden := httperr.ErrForbidden.WithDetail("solo puede acceder a sus propios recursos")
				if opts.ErrorMessage != "" {
					forbidden = httperr.ErrForbidden.WithDetail(opts.ErrorMessage)
				}
				httperr.WriteError(w, forbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LoadContext carga el UserContext sin exigir nada. Para endpoints que lo
// necesitan pero deciden solos (ej: /me).
func (a *Authorizer) LoadContext() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sub := GetSubject(r.Context()); sub != nil {
				uc, err := a.loadContext(w, r, sub.UserID)
				if err != nil {
					return
				}
				r = r.WithContext(WithUserContext(r.Context(), uc))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loadContext resuelve el UserContext y mapea fallas: usuario o perfil
// inexistente es 404, el resto 500. Si retorna error ya escribió respuesta.
func (a *Authorizer) loadContext(w http.ResponseWriter, r *http.Request, userID int64) (*authz.UserContext, error) {
	uc, err := a.Loader.LoadUserContext(r.Context(), userID)
	if err != nil {
		if repository.IsNotFound(err) {
			httperr.WriteError(w, httperr.ErrUserNotFound)
		} else {
			logger.From(r.Context()).Error("no se pudo cargar el contexto de usuario",
				logger.Component("authorize"), logger.UserID(userID), logger.Err(err))
			httperr.WriteError(w, httperr.ErrInternalServerError.WithCause(err))
		}
		return nil, err
	}
	return uc, nil
}

func (a *Authorizer) auditDecision(r *http.Request, uc *authz.UserContext, action string, success bool, details map[string]any) {
	if a.Auditor == nil {
		return
	}
	uid := uc.UserID
	severity := audit.SeverityInfo
	if !success {
		severity = audit.SeverityWarning
	}
	a.Auditor.Log(r.Context(), audit.Entry{
		UserID:    &uid,
		Action:    action,
		Resource:  r.URL.Path,
		Severity:  severity,
		Success:   success,
		Details:   details,
		IP:        ClientIP(r),
		UserAgent: r.UserAgent(),
	})
}
