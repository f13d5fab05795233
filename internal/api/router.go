package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking-gateway/internal/booking"
	"github.com/hackgods/clinic-booking-gateway/internal/logging"
	"github.com/hackgods/clinic-booking-gateway/internal/observability/metrics"
	"github.com/hackgods/clinic-booking-gateway/internal/session"
	"github.com/hackgods/clinic-booking-gateway/internal/slots"
)

type RouterConfig struct {
	Sessions *session.Sessions
	Workflow *booking.Workflow
	Picker   *slots.Picker
	Metrics  *metrics.BookingMetrics
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	Checks   []DependencyCheck
	Env      string
	Version  string

	CookieSecure   bool
	SessionTTL     time.Duration
	MaxUploadBytes int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := logging.OrNop(cfg.Logger)
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}

	h := &Handlers{
		sessions:       cfg.Sessions,
		workflow:       cfg.Workflow,
		picker:         cfg.Picker,
		metrics:        cfg.Metrics,
		logger:         logger,
		maxUploadBytes: maxUpload,
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(RecoverMiddleware(logger))

	// Health endpoints
	health := NewHealthHandler(cfg.Env, cfg.Version, cfg.Checks...)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(SessionMiddleware(cfg.CookieSecure, cfg.SessionTTL))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.register)
			r.Post("/login", h.login)
			r.Post("/logout", h.logout)
			r.With(h.requireRole("me")).Get("/me", h.me)
		})

		// Booking wizard, patients only
		r.Route("/booking", func(r chi.Router) {
			r.Use(h.requireRole("booking", session.RolePatient))
			r.Get("/", h.bookingStart)
			r.Get("/steps/{step}", h.bookingView)
			r.Get("/slots", h.freeSlots)
			r.Post("/doctor", h.selectDoctor)
			r.Post("/slot", h.selectSlot)
			r.Post("/attachments", h.attachDocuments)
			r.Post("/submit", h.submit)
		})

		r.With(h.requireRole("dashboard", session.RoleDoctor)).Get(session.DashboardPath, h.landing("dashboard"))
		r.With(h.requireRole("admin", session.RoleAdmin)).Get(session.AdminPath, h.landing("admin"))
	})

	return r
}
