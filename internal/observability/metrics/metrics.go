// Package metrics define las métricas Prometheus del servicio. Viven en un
// paquete propio para que services, middlewares y scheduler las incrementen
// sin ciclos de import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	LoginAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_login_attempts_total",
		Help: "Intentos de login por resultado",
	}, []string{"outcome"}) // success | failed | rate_limited

	AuthzDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_decisions_total",
		Help: "Decisiones de autorización por veredicto",
	}, []string{"decision"}) // granted | granted_owner | denied

	TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_tokens_issued_total",
		Help: "Tokens emitidos por tipo",
	}, []string{"type"}) // access | refresh

	TokensRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_tokens_revoked_total",
		Help: "Refresh tokens revocados",
	})

	SweepDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cleanup_rows_total",
		Help: "Filas tocadas por las tareas de limpieza",
	}, []string{"task"})
)

// Register registra las métricas en el registry dado (o el default si nil).
// Tolera doble registro para poder llamarse desde tests y main.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		LoginAttempts, AuthzDecisions, TokensIssued, TokensRevoked, SweepDeleted,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
