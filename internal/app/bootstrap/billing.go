package bootstrap

import (
	"fmt"
	"strings"

	"github.com/wolfman30/lumen-clinic/internal/billing"
	"github.com/wolfman30/lumen-clinic/internal/changes"
	appconfig "github.com/wolfman30/lumen-clinic/internal/config"
	"github.com/wolfman30/lumen-clinic/internal/dbutil"
	"github.com/wolfman30/lumen-clinic/internal/observability/metrics"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// BillingQueue pairs the producer and consumer sides of one queue.
type BillingQueue struct {
	Kind      string
	Publisher *billing.Publisher
	Worker    *billing.Worker
}

// BuildDispatcher wires the invoicing webhook client. A missing webhook URL or
// secret is reported per request as error_config.
func BuildDispatcher(cfg *appconfig.Config, db dbutil.DB, publisher changes.Publisher, notifier billing.FailureNotifier, m *metrics.BillingMetrics, logger *logging.Logger) *billing.Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	if !cfg.BillingWebhookConfigured() {
		logger.Warn("billing webhook not configured; invoice requests will fail with error_config")
	}
	return billing.NewDispatcher(
		billing.NewStore(db, cfg.ClinicID),
		billing.DispatcherConfig{
			WebhookURL: cfg.BillingWebhookURL,
			Secret:     cfg.BillingSecret,
			Timeout:    cfg.BillingHTTPTimeout,
		},
		nil,
		publisher,
		notifier,
		m,
		logger,
	)
}

// BuildBillingQueue returns an SQS-backed queue, or an in-memory one when
// USE_MEMORY_QUEUE is set. The in-memory worker must run in the same process
// as the publisher.
func BuildBillingQueue(cfg *appconfig.Config, sqsClient billing.SQSAPI, dispatcher billing.RequestDispatcher, logger *logging.Logger) (*BillingQueue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	workers := billing.WithWorkerCount(cfg.WorkerCount)

	if cfg.UseMemoryQueue {
		queue := billing.NewMemoryQueue(256)
		out := &BillingQueue{Kind: "memory", Publisher: billing.NewPublisher(queue, logger)}
		if dispatcher != nil {
			out.Worker = billing.NewWorker(dispatcher, queue, logger, workers)
		}
		return out, nil
	}

	if sqsClient == nil || strings.TrimSpace(cfg.BillingQueueURL) == "" {
		return nil, fmt.Errorf("bootstrap: BILLING_QUEUE_URL is required unless USE_MEMORY_QUEUE is set")
	}
	queue := billing.NewSQSQueue(sqsClient, cfg.BillingQueueURL)
	out := &BillingQueue{Kind: "sqs", Publisher: billing.NewPublisher(queue, logger)}
	if dispatcher != nil {
		out.Worker = billing.NewWorker(dispatcher, queue, logger, workers)
	}
	return out, nil
}
