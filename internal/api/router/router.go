package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/lumen-clinic/internal/appointments"
	"github.com/wolfman30/lumen-clinic/internal/audit"
	"github.com/wolfman30/lumen-clinic/internal/billing"
	"github.com/wolfman30/lumen-clinic/internal/finance"
	httpmiddleware "github.com/wolfman30/lumen-clinic/internal/http/middleware"
	"github.com/wolfman30/lumen-clinic/internal/patients"
	"github.com/wolfman30/lumen-clinic/internal/payments"
	"github.com/wolfman30/lumen-clinic/internal/staff"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// Config holds router configuration. Nil handlers leave their routes unmounted.
type Config struct {
	Logger             *logging.Logger
	Patients           *patients.Handler
	Appointments       *appointments.Handler
	Payments           *payments.Handler
	Billing            *billing.Handler
	Finance            *finance.Handler
	Staff              *staff.Handler
	Audit              *audit.Handler
	Turnstile          http.Handler
	Realtime           http.Handler
	MetricsHandler     http.Handler
	HealthCheck        func(context.Context) error
	StaffJWTSecret     string
	CORSAllowedOrigins []string
	TrustedProxies     httpmiddleware.TrustedProxies
	RateLimiter        *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(httpmiddleware.RealIP(cfg.TrustedProxies))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (health, metrics, bot check, invoicing callback)
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthCheck))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Turnstile != nil {
			public.Method(http.MethodPost, "/auth/turnstile", cfg.Turnstile)
		}
		if cfg.Billing != nil {
			public.Route("/webhooks/billing", func(r chi.Router) {
				r.Post("/", cfg.Billing.Complete)
				r.Post("/{requestID}", cfg.Billing.Complete)
			})
		}
	})

	// Staff routes (protected by the staff JWT)
	r.Group(func(protected chi.Router) {
		protected.Use(httpmiddleware.StaffJWT(cfg.StaffJWTSecret))
		if cfg.RateLimiter != nil {
			protected.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}

		// Live subscriptions hijack the connection, so they skip compression.
		if cfg.Realtime != nil {
			protected.Handle("/realtime", cfg.Realtime)
		}

		protected.Group(func(api chi.Router) {
			api.Use(middleware.Compress(5))
			if cfg.Patients != nil {
				api.Mount("/patients", cfg.Patients.Routes())
			}
			if cfg.Appointments != nil {
				api.Mount("/appointments", cfg.Appointments.Routes())
			}
			if cfg.Payments != nil {
				api.Mount("/payments", cfg.Payments.Routes())
			}
			if cfg.Billing != nil {
				api.Mount("/billing", cfg.Billing.Routes())
			}
			if cfg.Finance != nil {
				api.Mount("/finance", cfg.Finance.Routes())
			}
			if cfg.Staff != nil {
				api.Mount("/staff", cfg.Staff.Routes())
			}
			if cfg.Audit != nil {
				api.Mount("/audit", cfg.Audit.Routes())
			}
		})
	})

	return r
}

func healthHandler(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, map[string]string{"status": "ok"}
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				status, body = http.StatusServiceUnavailable, map[string]string{"status": "unavailable"}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
