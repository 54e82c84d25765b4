// Package health expone el endpoint de liveness/readiness.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger chequea la conectividad del almacenamiento (pgxpool.Ping).
type Pinger interface {
	Ping(ctx context.Context) error
}

type Controller struct {
	db Pinger
}

func NewController(db Pinger) *Controller {
	return &Controller{db: db}
}

// Health maneja GET /healthz. Con la base caída responde 503: el servicio
// no puede autenticar a nadie sin almacenamiento.
func (c *Controller) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok"}

	if c.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := c.db.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["storage"] = "unreachable"
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
