// Package router arma el árbol de rutas del servicio.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authctrl "github.com/dropDatabas3/souche/internal/http/controllers/auth"
	healthctrl "github.com/dropDatabas3/souche/internal/http/controllers/health"
	httperrors "github.com/dropDatabas3/souche/internal/http/errors"
	mw "github.com/dropDatabas3/souche/internal/http/middlewares"
	jwtx "github.com/dropDatabas3/souche/internal/jwt"
	"github.com/dropDatabas3/souche/internal/rate"
	"github.com/dropDatabas3/souche/internal/session"
)

// Deps agrupa todo lo que el router necesita para montar los endpoints.
type Deps struct {
	Auth         *authctrl.Controller
	Health       *healthctrl.Controller
	Authorizer   *mw.Authorizer
	Codec        *jwtx.Codec
	Sessions     *session.Tracker
	LoginLimiter rate.Limiter // nil = sin rate limit
}

// New construye el router chi con toda la cadena de middlewares.
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	requireAuth := mw.RequireAuth(d.Codec, d.Sessions)

	r.Route("/v1/auth", func(r chi.Router) {
		// Públicos
		r.With(mw.WithLoginRateLimit(d.LoginLimiter)).Post("/login", d.Auth.Login)
		r.Post("/refresh", d.Auth.Refresh)

		// Autenticados
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/logout", d.Auth.Logout)
			r.Post("/logout-all", d.Auth.LogoutAll)
			r.Post("/password", d.Auth.ChangePassword)
			r.With(d.Authorizer.LoadContext()).Get("/me", d.Auth.Me)
		})
	})

	r.Get("/healthz", d.Health.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	// Cadena externa: request id y logging envuelven todo.
	return mw.Chain(r, mw.WithRequestID(), mw.WithLogging())
}
