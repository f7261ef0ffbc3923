package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-scheduling/internal/appointment"
	"github.com/hackgods/slot-scheduling/internal/metrics"
)

type RouterConfig struct {
	Service *appointment.Service
	Health  *HealthHandler
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Metrics))
	r.Use(RecoveryMiddleware)

	// Health endpoints
	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	svc := cfg.Service

	// Shift webhook and slot queries
	r.Post("/shifts", createShiftHandler(svc))
	r.Get("/slots", listSlotsHandler(svc))
	r.Get("/slots/{id}", getSlotHandler(svc))

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(svc))
		r.Get("/", listAppointmentsHandler(svc))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", getAppointmentHandler(svc))
			r.Patch("/", updateAppointmentHandler(svc))
			r.Post("/confirm", transitionHandler(svc, confirm))
			r.Post("/complete", transitionHandler(svc, complete))
			r.Post("/no-show", transitionHandler(svc, noShow))
			r.Post("/cancel", cancelAppointmentHandler(svc))
			r.Post("/reschedule", rescheduleAppointmentHandler(svc))
		})
	})

	return r
}
