package controllers

import (
	"context"
	"net/http"

	"github.com/examdesk/examdesk-backend/api/responses"
	"github.com/examdesk/examdesk-backend/pkg/config"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ExamDesk-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the datastores so load balancers only route to instances
// that can actually serve.
func HealthReady(cfg *config.Config, db, cache, catalog pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-ExamDesk-Env", cfg.App.Env)

		checks := map[string]string{}
		healthy := true
		if db != nil {
			checks["db"] = pingStatus(r.Context(), db, &healthy)
		}
		if cache != nil {
			checks["redis"] = pingStatus(r.Context(), cache, &healthy)
		}
		if catalog != nil {
			checks["catalog"] = pingStatus(r.Context(), catalog, &healthy)
		}

		status := http.StatusOK
		state := "ready"
		if !healthy {
			status = http.StatusServiceUnavailable
			state = "degraded"
		}
		responses.WriteSuccessStatus(w, status, map[string]any{
			"status": state,
			"checks": checks,
		})
	}
}

func pingStatus(ctx context.Context, p pinger, healthy *bool) string {
	if err := p.Ping(ctx); err != nil {
		*healthy = false
		return "down"
	}
	return "up"
}
