package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/lumen-clinic/cmd/mainconfig"
	"github.com/wolfman30/lumen-clinic/internal/app/bootstrap"
	appconfig "github.com/wolfman30/lumen-clinic/internal/config"
	"github.com/wolfman30/lumen-clinic/internal/observability/metrics"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

func main() {
	appconfig.LoadDotEnv()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).Component("billing-worker")

	if cfg.UseMemoryQueue {
		logger.Error("USE_MEMORY_QUEUE is set; the API runs the billing worker inline")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}
	broker, _ := bootstrap.BuildBroker(redisClient, cfg.ClinicID, logger)

	sender, provider := bootstrap.BuildEmailSender(cfg, sesv2.NewFromConfig(awsConfig), logger)
	notifier := bootstrap.BuildNotifier(cfg, sender, logger)

	reg := prometheus.NewRegistry()
	billingMetrics := metrics.NewBillingMetrics(reg)

	dispatcher := bootstrap.BuildDispatcher(cfg, pool, broker, notifier, billingMetrics, logger)
	queue, err := bootstrap.BuildBillingQueue(cfg, sqs.NewFromConfig(awsConfig), dispatcher, logger)
	if err != nil {
		logger.Error("failed to configure billing queue", "error", err)
		os.Exit(1)
	}

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	queue.Worker.Start(ctx)
	logger.Info("billing worker started", "workers", cfg.WorkerCount, "email_provider", provider)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down billing worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()
	_ = metricsSrv.Shutdown(doneCtx)

	waitCh := make(chan struct{})
	go func() {
		queue.Worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("billing worker stopped")
	case <-doneCtx.Done():
		logger.Error("billing worker shutdown timed out", "error", doneCtx.Err())
	}
}
