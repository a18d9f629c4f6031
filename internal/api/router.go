package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/vaxsched/vaccine-scheduler/internal/account"
	"github.com/vaxsched/vaccine-scheduler/internal/scheduling"
)

type RouterConfig struct {
	Scheduling *scheduling.Service
	Accounts   *account.Service
	PgPool     *pgxpool.Pool // nil in memory mode
	Redis      *redis.Client // nil in memory mode
	Env        string
	Version    string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Public auth endpoints
	r.Post("/auth/register", registerHandler(cfg.Accounts))
	r.Post("/auth/login", loginHandler(cfg.Accounts))

	// Everything else needs a session token
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Accounts))

		r.Post("/reservations", reserveHandler(cfg.Scheduling))
		r.Delete("/appointments/{id}", cancelHandler(cfg.Scheduling))
		r.Get("/appointments", listAppointmentsHandler(cfg.Scheduling))
		r.Post("/availability", uploadAvailabilityHandler(cfg.Scheduling))
		r.Post("/vaccines/{name}/doses", addDosesHandler(cfg.Scheduling))
		r.Get("/schedule", scheduleHandler(cfg.Scheduling))
	})

	return r
}
