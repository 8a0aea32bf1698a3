package http

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/jashmhtaaa/theatre-scheduler/internal/metrics"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	Bookings  *BookingHandler
	Resources *ResourceHandler
	// Metrics serves /metrics and records per-route HTTP metrics when set.
	Metrics *metrics.Collector
	Health  HealthCheck
	// Middleware wraps the whole router, outermost first.
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	r.Use(Metrics(cfg.Metrics))

	r.HandleFunc("/healthz", healthHandler(cfg.Health)).Methods(http.MethodGet)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)
	}

	if b := cfg.Bookings; b != nil {
		r.HandleFunc("/bookings", b.Submit).Methods(http.MethodPost)
		r.HandleFunc("/bookings/holds", b.Hold).Methods(http.MethodPost)
		r.HandleFunc("/bookings/{id}", b.Get).Methods(http.MethodGet)
		r.HandleFunc("/bookings/{id}/window", b.Reschedule).Methods(http.MethodPut)
		r.HandleFunc("/bookings/{id}/checklist", b.ChecklistStatus).Methods(http.MethodGet)
		r.HandleFunc("/bookings/{id}/checklist/{phase}", b.SignChecklist).Methods(http.MethodPost)
		r.HandleFunc("/bookings/{id}/{action:confirm|start|complete|cancel}", b.Transition).Methods(http.MethodPost)
		r.HandleFunc("/slots", b.Slots).Methods(http.MethodGet)
	}

	if res := cfg.Resources; res != nil {
		r.HandleFunc("/resources", res.List).Methods(http.MethodGet)
		r.HandleFunc("/resources", res.Create).Methods(http.MethodPost)
		r.HandleFunc("/resources/{id}", res.Get).Methods(http.MethodGet)
		r.HandleFunc("/resources/{id}", res.Update).Methods(http.MethodPut)
		r.HandleFunc("/resources/{id}/deactivate", res.Deactivate).Methods(http.MethodPost)
		r.HandleFunc("/resources/{id}/bookings", res.Calendar).Methods(http.MethodGet)
	}

	var handler http.Handler = r
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}

func healthHandler(check HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := healthResponse{Status: "ok"}
		if check != nil {
			if err := check(r.Context()); err != nil {
				status = http.StatusServiceUnavailable
				body = healthResponse{Status: "unavailable", Error: err.Error()}
			}
		}
		newResponder(LoggerFromContext(r.Context())).writeJSON(r.Context(), w, status, body)
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
