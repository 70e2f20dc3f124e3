package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/polyclinic-scheduler/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/polyclinic-scheduler/internal/http/middleware"
	"github.com/wolfman30/polyclinic-scheduler/internal/identity"
	"github.com/wolfman30/polyclinic-scheduler/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger    *logging.Logger
	Tokens    *identity.Tokens
	RateLimit *httpmiddleware.RateLimiter

	Doctors *handlers.DoctorsHandler
	Visits  *handlers.VisitsHandler
	Crowd   *handlers.CrowdHandler
	OTP     *handlers.OTPHandler
	Admin   *handlers.AdminHandler
	Stats   *handlers.StatsHandler
	Health  *handlers.HealthHandler

	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
}

var (
	accounts   = []identity.Kind{identity.KindAdmin, identity.KindStaff, identity.KindDoctor, identity.KindPatient}
	everyone   = append(append([]identity.Kind{}, accounts...), identity.KindGuest)
	frontDesk  = []identity.Kind{identity.KindAdmin, identity.KindStaff}
	canBook    = []identity.Kind{identity.KindAdmin, identity.KindStaff, identity.KindPatient}
	scheduleRO = []identity.Kind{identity.KindAdmin, identity.KindStaff, identity.KindDoctor}
)

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Live)
		r.Get("/readyz", cfg.Health.Ready)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1", func(v1 chi.Router) {
		if cfg.RateLimit != nil {
			v1.Use(cfg.RateLimit.Middleware)
		}
		v1.Use(httpmiddleware.Identity(cfg.Tokens))

		// Public: browsing, codes, guest flows.
		v1.Group(func(public chi.Router) {
			public.Get("/doctors", cfg.Doctors.ListDoctors)
			public.Get("/doctors/{id}/availability", cfg.Doctors.Availability)
			public.Get("/doctors/{id}/public-slots", cfg.Doctors.PublicSlots)
			public.Post("/otp", cfg.OTP.Issue)
			public.Post("/otp/verify", cfg.OTP.Verify)
			public.Post("/guest-visits", cfg.Visits.BookGuest)
			public.Post("/guest-visits/cancel-code", cfg.Visits.RequestCancelCode)
			public.Post("/guest-visits/cancel", cfg.Visits.CancelGuest)
		})

		v1.With(httpmiddleware.RequireKinds(frontDesk...)).Get("/crowd", cfg.Crowd.Crowd)
		v1.With(httpmiddleware.RequireKinds(frontDesk...)).Get("/suggestions", cfg.Crowd.Suggestions)

		v1.With(httpmiddleware.RequireKinds(canBook...)).Post("/visits", cfg.Visits.Book)
		v1.With(httpmiddleware.RequireKinds(everyone...)).Delete("/visits/{id}", cfg.Visits.Cancel)
		v1.With(httpmiddleware.RequireKinds(scheduleRO...)).Get("/schedule", cfg.Visits.Schedule)
		v1.With(httpmiddleware.RequireKinds(canBook...)).Get("/me/visits", cfg.Visits.MyVisits)
		v1.With(httpmiddleware.RequireKinds(accounts...)).Get("/stats/dashboard", cfg.Stats.Dashboard)

		v1.Route("/doctor/me", func(me chi.Router) {
			me.Use(httpmiddleware.RequireKinds(identity.KindDoctor))
			me.Get("/schedule", cfg.Visits.DoctorSchedule)
			me.Get("/availability", cfg.Doctors.MyAvailability)
			me.Put("/availability", cfg.Doctors.ReplaceRules)
			me.Delete("/availability/{ruleID}", cfg.Doctors.DeleteRule)
			me.Put("/exceptions", cfg.Doctors.UpsertException)
		})

		v1.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.RequireKinds(identity.KindAdmin))
			admin.Post("/users", cfg.Admin.CreateUser)
			admin.Post("/doctors", cfg.Doctors.CreateDoctor)
			admin.Delete("/doctors/{id}", cfg.Admin.RemoveDoctor)
			admin.Get("/doctors/{id}/availability", cfg.Doctors.MyAvailability)
			admin.Put("/doctors/{id}/availability", cfg.Doctors.ReplaceRules)
			admin.Delete("/doctors/{id}/availability/{ruleID}", cfg.Doctors.DeleteRule)
			admin.Put("/doctors/{id}/exceptions", cfg.Doctors.UpsertException)
			admin.Delete("/staff/{id}", cfg.Admin.RemoveStaff)
		})
	})

	return r
}
