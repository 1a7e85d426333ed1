package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/lumen-clinic/cmd/mainconfig"
	"github.com/wolfman30/lumen-clinic/internal/api/router"
	"github.com/wolfman30/lumen-clinic/internal/app/bootstrap"
	"github.com/wolfman30/lumen-clinic/internal/appointments"
	"github.com/wolfman30/lumen-clinic/internal/audit"
	"github.com/wolfman30/lumen-clinic/internal/billing"
	appconfig "github.com/wolfman30/lumen-clinic/internal/config"
	"github.com/wolfman30/lumen-clinic/internal/finance"
	httpmiddleware "github.com/wolfman30/lumen-clinic/internal/http/middleware"
	"github.com/wolfman30/lumen-clinic/internal/observability/metrics"
	"github.com/wolfman30/lumen-clinic/internal/patients"
	"github.com/wolfman30/lumen-clinic/internal/payments"
	"github.com/wolfman30/lumen-clinic/internal/realtime"
	"github.com/wolfman30/lumen-clinic/internal/staff"
	"github.com/wolfman30/lumen-clinic/internal/turnstile"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

type appMetrics struct {
	billing   *metrics.BillingMetrics
	turnstile *metrics.TurnstileMetrics
	realtime  *metrics.RealtimeMetrics
}

func main() {
	appconfig.LoadDotEnv()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting lumen API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"clinic_id", cfg.ClinicID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer pool.Close()
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	metricsHandler, m := setupMetrics()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}
	broker, brokerKind := bootstrap.BuildBroker(redisClient, cfg.ClinicID, logger)
	recorder := audit.NewService(sqlDB, cfg.ClinicID)

	sender, emailProvider := bootstrap.BuildEmailSender(cfg, sesv2.NewFromConfig(awsCfg), logger)
	notifier := bootstrap.BuildNotifier(cfg, sender, logger)

	dispatcher := bootstrap.BuildDispatcher(cfg, pool, broker, notifier, m.billing, logger)
	queue, err := bootstrap.BuildBillingQueue(cfg, sqsClientFor(cfg, awsCfg), dispatcher, logger)
	if err != nil {
		logger.Error("failed to configure billing queue", "error", err)
		os.Exit(1)
	}

	// Repositories and services
	clinicLoc := cfg.Location()
	patientRepo := patients.NewRepository(pool, cfg.ClinicID)
	apptRepo := appointments.NewRepository(pool, cfg.ClinicID)
	paymentRepo := payments.NewRepository(pool, cfg.ClinicID).WithLocation(clinicLoc)
	staffRepo := staff.NewRepository(pool, cfg.ClinicID, broker, logger)
	settlementRepo := finance.NewSettlementRepository(pool, cfg.ClinicID)

	patientSvc := patients.NewService(patientRepo, broker, recorder, logger)
	apptSvc := appointments.NewService(apptRepo, broker, recorder, logger)
	paymentSvc := payments.NewService(paymentRepo, broker, recorder, logger)
	billingSvc := billing.NewService(pool, cfg.ClinicID, queue.Publisher, logger,
		billing.WithChanges(broker),
		billing.WithAudit(recorder),
		billing.WithInvoiceNotifier(notifier),
		billing.WithMetrics(m.billing),
	)
	financeSvc := finance.NewService(apptRepo, patientRepo, paymentRepo, settlementRepo, logger,
		finance.WithChanges(broker),
		finance.WithAudit(recorder),
		finance.WithLocation(clinicLoc),
		finance.WithReports(bootstrap.BuildReportStore(cfg, awsCfg), cfg.ClinicName),
	)

	// Live subscriptions
	registry := realtime.NewRegistry()
	bootstrap.RegisterTopics(registry, bootstrap.TopicSources{
		Patients:     patientRepo,
		Appointments: apptRepo,
		Payments:     paymentRepo,
		Billing:      billingSvc.Store(),
		Finance:      financeSvc,
		Staff:        staffRepo,
		Now:          func() time.Time { return time.Now().In(clinicLoc) },
	})
	hub := realtime.NewHub(registry, broker, logger,
		realtime.WithAllowedOrigins(cfg.CORSAllowedOrigins),
		realtime.WithMetrics(m.realtime),
	)
	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("realtime hub stopped", "error", err)
		}
	}()

	turnstileSvc := turnstile.NewService(turnstile.Config{
		Secret:    cfg.TurnstileSecret,
		VerifyURL: cfg.TurnstileVerifyURL,
		Limiter:   turnstile.NewMemoryLimiter(cfg.TurnstileMaxRequests, cfg.TurnstileWindow),
		Metrics:   m.turnstile,
		Logger:    logger.Component("turnstile"),
	})

	trustedProxies, err := httpmiddleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Error("invalid TRUSTED_PROXIES", "error", err)
		os.Exit(1)
	}

	rateLimiter := httpmiddleware.NewRateLimiter(cfg.APIRateLimit, cfg.APIRateBurst)
	defer rateLimiter.Stop()

	r := router.New(&router.Config{
		Logger:             logger,
		Patients:           patients.NewHandler(patientSvc, patients.NewStatementBuilder(patientRepo, apptRepo, paymentRepo), logger),
		Appointments:       appointments.NewHandler(apptSvc, logger),
		Payments:           payments.NewHandler(paymentSvc, logger),
		Billing:            billing.NewHandler(billingSvc, cfg.BillingSecret, logger),
		Finance:            finance.NewHandler(financeSvc, logger),
		Staff:              staff.NewHandler(staffRepo, logger),
		Audit:              audit.NewHandler(recorder, logger),
		Turnstile:          turnstile.NewHandler(turnstileSvc),
		Realtime:           hub,
		MetricsHandler:     metricsHandler,
		HealthCheck:        pool.Ping,
		StaffJWTSecret:     cfg.StaffJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		TrustedProxies:     trustedProxies,
		RateLimiter:        rateLimiter,
	})

	if queue.Kind == "memory" && queue.Worker != nil {
		queue.Worker.Start(ctx)
		logger.Info("inline billing worker started", "workers", cfg.WorkerCount)
	}

	logger.Info("runtime wiring complete",
		"broker", brokerKind,
		"billing_queue", queue.Kind,
		"email_provider", emailProvider,
		"billing_webhook", cfg.BillingWebhookConfigured(),
	)

	// WriteTimeout stays unset: /realtime connections are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if queue.Kind == "memory" && queue.Worker != nil {
		queue.Worker.Wait()
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// connectPostgresPool returns nil for an empty URL or an unreachable database.
func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if databaseURL == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// setupMetrics registers collectors on a dedicated registry and returns the
// /metrics handler.
func setupMetrics() (http.Handler, appMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := appMetrics{
		billing:   metrics.NewBillingMetrics(reg),
		turnstile: metrics.NewTurnstileMetrics(reg),
		realtime:  metrics.NewRealtimeMetrics(reg),
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

// sqsClientFor returns nil in memory-queue mode so no SQS client is built.
func sqsClientFor(cfg *appconfig.Config, awsCfg aws.Config) billing.SQSAPI {
	if cfg.UseMemoryQueue {
		return nil
	}
	return sqs.NewFromConfig(awsCfg)
}
