package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Service  *scheduling.Service
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Breaker  BreakerState
	Logger   *zap.Logger
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
	Location *time.Location

	RateLimitRPS   float64
	RateLimitBurst int

	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware(cfg.Metrics))
	r.Use(LoggingMiddleware(log))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version).WithBreaker(cfg.Breaker)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(cfg.Gatherer))

	h := NewHandlers(cfg.Service, log, cfg.Location)

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)
		r.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.Metrics))

		// Appointment endpoints
		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", h.BookAppointment)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetAppointment)
				r.Get("/next-states", h.ValidNextStates)
				r.Post("/move", h.MoveAppointment)
				r.Post("/decision", h.Decide(""))
				r.Post("/confirm", h.Decide(scheduling.ActionConfirm))
				r.Post("/reject", h.Decide(scheduling.ActionReject))
				r.Post("/check-in", h.Lifecycle((*scheduling.Service).CheckInPatient))
				r.Post("/ready", h.Lifecycle((*scheduling.Service).MarkReadyForConsultation))
				r.Post("/start", h.Lifecycle((*scheduling.Service).StartConsultation))
				r.Post("/complete", h.Lifecycle((*scheduling.Service).CompleteAppointment))
				r.Post("/cancel", h.Lifecycle((*scheduling.Service).CancelAppointment))
				r.Post("/no-show", h.Lifecycle((*scheduling.Service).MarkNoShow))
			})
		})

		// Doctor calendar endpoints
		r.Route("/doctors/{doctorID}", func(r chi.Router) {
			r.Get("/schedule", h.GetSchedule)
			r.Get("/slots", h.FindSlots)
			r.Get("/next-slot", h.NextSlot)
			r.Get("/utilization", h.Utilization)
			r.Post("/blocks", h.CreateBlock)
			r.Post("/overrides", h.CreateOverride)
			r.Put("/availability", h.UpdateAvailability)
		})
	})

	return r
}
