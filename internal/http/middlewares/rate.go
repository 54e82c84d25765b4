package middlewares

import (
	"fmt"
	"net/http"

	httperr "github.com/dropDatabas3/souche/internal/http/errors"
	"github.com/dropDatabas3/souche/internal/observability/logger"
	"github.com/dropDatabas3/souche/internal/observability/metrics"
	"github.com/dropDatabas3/souche/internal/rate"
)

// WithLoginRateLimit limita intentos de login por IP de cliente. Si el
// limiter falla (redis caído), el request pasa: preferimos degradar el
// rate limit antes que voltear el login.
func WithLoginRateLimit(limiter rate.Limiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := "login:" + ClientIP(r)
			res, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.From(r.Context()).Warn("rate limiter no disponible",
					logger.Component("rate"), logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
			if !res.Allowed {
				metrics.LoginAttempts.WithLabelValues("rate_limited").Inc()
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(res.RetryAfter.Seconds())))
				httperr.WriteError(w, httperr.ErrRateLimitExceeded)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
