package middlewares

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/dropDatabas3/souche/internal/authz"
)

// =================================================================================
// CONTEXT KEYS
// =================================================================================

type ctxKey string

const (
	// ctxSubjectKey guarda el sujeto autenticado (claims ya validadas)
	ctxSubjectKey ctxKey = "subject"
	// ctxUserContextKey guarda el UserContext cargado por autorización
	ctxUserContextKey ctxKey = "user_context"
	// ctxRequestIDKey guarda el request ID
	ctxRequestIDKey ctxKey = "request_id"
)

// Subject es la identidad mínima del request autenticado: lo que dice el
// access token más el token crudo (que necesita la capa de sesión).
type Subject struct {
	UserID    int64
	Email     string
	ProfileID int64
	RawToken  string
}

// WithSubject inyecta el sujeto autenticado en el contexto
func WithSubject(ctx context.Context, s *Subject) context.Context {
	return context.WithValue(ctx, ctxSubjectKey, s)
}

// GetSubject obtiene el sujeto autenticado del contexto.
// Retorna nil si no hay (middleware de auth no aplicado).
func GetSubject(ctx context.Context) *Subject {
	if v := ctx.Value(ctxSubjectKey); v != nil {
		if s, ok := v.(*Subject); ok {
			return s
		}
	}
	return nil
}

// WithUserContext inyecta el UserContext resuelto en el contexto
func WithUserContext(ctx context.Context, uc *authz.UserContext) context.Context {
	return context.WithValue(ctx, ctxUserContextKey, uc)
}

// GetUserContext obtiene el UserContext del contexto.
// Retorna nil si ningún middleware de autorización lo cargó.
func GetUserContext(ctx context.Context) *authz.UserContext {
	if v := ctx.Value(ctxUserContextKey); v != nil {
		if uc, ok := v.(*authz.UserContext); ok {
			return uc
		}
	}
	return nil
}

// setRequestID inyecta el request ID en el contexto (interno)
func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// GetRequestID obtiene el request ID del contexto.
// Retorna cadena vacía si no hay request ID.
func GetRequestID(ctx context.Context) string {
	if v := ctx.Value(ctxRequestIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ClientIP extrae la IP del cliente, considerando proxies.
func ClientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
