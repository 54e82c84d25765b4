package middlewares

import (
	"errors"
	"net/http"
	"strings"

	httperr "github.com/dropDatabas3/souche/internal/http/errors"
	jwtx "github.com/dropDatabas3/souche/internal/jwt"
	"github.com/dropDatabas3/souche/internal/session"
)

// =================================================================================
// AUTHENTICATION MIDDLEWARE
// =================================================================================

// RequireAuth valida Authorization: Bearer <JWT> en dos pasos: la firma y
// claims del access token contra el codec, y la sesión viva contra el
// tracker. Los dos tienen que pasar: un token con firma válida cuya sesión
// fue cerrada o venció por inactividad responde 401 igual.
func RequireAuth(codec *jwtx.Codec, sessions *session.Tracker) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ah := strings.TrimSpace(r.Header.Get("Authorization"))
			if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token", error_description="missing bearer token"`)
				httperr.WriteError(w, httperr.ErrTokenMissing)
				return
			}
			raw := strings.TrimSpace(ah[len("Bearer "):])

			claims, err := codec.VerifyAccess(raw)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
				if errors.Is(err, jwtx.ErrTokenExpired) {
					httperr.WriteError(w, httperr.ErrTokenExpired)
					return
				}
				httperr.WriteError(w, httperr.ErrTokenInvalid)
				return
			}

			// Paso 2: la sesión tiene que seguir viva.
			if _, err := sessions.Validate(r.Context(), raw); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
				if errors.Is(err, session.ErrSessionExpired) {
					httperr.WriteError(w, httperr.ErrSessionExpired)
					return
				}
				httperr.WriteError(w, httperr.ErrTokenInvalid)
				return
			}

			ctx := WithSubject(r.Context(), &Subject{
				UserID:    claims.UserID,
				Email:     claims.Email,
				ProfileID: claims.ProfileID,
				RawToken:  raw,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
