package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

type RouterConfig struct {
	Service      *appointment.Service
	Logger       zerolog.Logger
	JWTSecret    []byte
	CORSOrigins  []string
	RateLimiter  *RateLimiter // nil disables booking rate limiting
	Dependencies []Dependency
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	svc, log := cfg.Service, cfg.Logger

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))

	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/api", func(r chi.Router) {
		// Public catalog and advisory availability
		r.Get("/doctors", listDoctorsHandler(svc, log))
		r.Get("/doctors/appointment-types", listAppointmentTypesHandler(svc, log))
		r.Get("/doctors/availability", availabilityHandler(svc, log))
		r.Get("/doctors/{id}/slots", slotsHandler(svc, log))

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.JWTSecret))

			r.Get("/auth/me", meHandler(svc, log))

			book := r.With(RequireRole(appointment.RolePatient))
			if cfg.RateLimiter != nil {
				book = book.With(cfg.RateLimiter.Limit)
			}
			book.Post("/appointments", createAppointmentHandler(svc, log))

			r.Get("/appointments/my", myAppointmentsHandler(svc, log))
			r.Patch("/appointments/{id}/status", updateStatusHandler(svc, log))

			r.With(RequireRole(appointment.RoleDoctor)).Get("/doctor/settings", getDoctorSettingsHandler(svc, log))
			r.With(RequireRole(appointment.RoleDoctor)).Put("/doctor/settings", putDoctorSettingsHandler(svc, log))

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireRole(appointment.RoleAdmin))
				r.Get("/stats", statsHandler(svc, log))
				r.Get("/users", listUsersHandler(svc, log))
				r.Post("/make-doctor", makeDoctorHandler(svc, log))
			})
		})
	})

	return cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	}).Handler(r)
}
