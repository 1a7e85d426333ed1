package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/lumen-clinic/internal/changes"
	"github.com/wolfman30/lumen-clinic/internal/notify"
	"github.com/wolfman30/lumen-clinic/internal/observability/metrics"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// SecretHeader carries the shared secret on webhook calls in both directions.
const SecretHeader = "x-lumen-secret"

var billingTracer = otel.Tracer("lumen.internal.billing")

// FailureNotifier is told when a request ends in an error state.
type FailureNotifier interface {
	NotifyDispatchFailure(ctx context.Context, f notify.DispatchFailure) error
}

// DispatcherConfig configures the outbound invoicing webhook.
type DispatcherConfig struct {
	WebhookURL string
	Secret     string
	Timeout    time.Duration
}

// Dispatcher forwards pending requests to the invoicing workflow.
type Dispatcher struct {
	store    *Store
	client   *http.Client
	cfg      DispatcherConfig
	changes  changes.Publisher
	notifier FailureNotifier
	metrics  *metrics.BillingMetrics
	logger   *logging.Logger
}

// NewDispatcher wires a dispatcher. client may be nil.
func NewDispatcher(store *Store, cfg DispatcherConfig, client *http.Client, publisher changes.Publisher, notifier FailureNotifier, m *metrics.BillingMetrics, logger *logging.Logger) *Dispatcher {
	if store == nil {
		panic("billing: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Dispatcher{
		store:    store,
		client:   client,
		cfg:      cfg,
		changes:  changes.OrNop(publisher),
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// webhookPayload is the sanitized body sent to the workflow. Only these
// fields leave the system.
type webhookPayload struct {
	QueueDocID     string        `json:"queueDocId"`
	Type           Type          `json:"type"`
	AppointmentIDs []string      `json:"appointmentIds"`
	PatientID      string        `json:"patientId"`
	PatientName    string        `json:"patientName"`
	PatientDNI     string        `json:"patientDni"`
	PatientEmail   string        `json:"patientEmail"`
	TotalPrice     float64       `json:"totalPrice"`
	LineItems      []webhookLine `json:"lineItems"`
	RequestedAt    time.Time     `json:"requestedAt"`
	RequestedBy    string        `json:"requestedBy"`
	Status         Status        `json:"status"`
}

type webhookLine struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

func newWebhookPayload(req *Request) webhookPayload {
	lines := make([]webhookLine, 0, len(req.LineItems))
	for _, li := range req.LineItems {
		lines = append(lines, webhookLine{Description: li.Description, Amount: centsToUnits(li.AmountCents)})
	}
	return webhookPayload{
		QueueDocID:     req.ID,
		Type:           req.Type,
		AppointmentIDs: req.AppointmentIDs,
		PatientID:      req.PatientID,
		PatientName:    req.PatientName,
		PatientDNI:     req.PatientDNI,
		PatientEmail:   req.PatientEmail,
		TotalPrice:     centsToUnits(req.TotalPriceCents),
		LineItems:      lines,
		RequestedAt:    req.RequestedAt,
		RequestedBy:    req.RequestedBy,
		Status:         req.Status,
	}
}

func centsToUnits(c int64) float64 { return float64(c) / 100 }

// Dispatch forwards requestID to the workflow. Requests that are not pending
// are skipped. Configuration and transport failures are recorded on the
// request and are not returned; only storage errors are.
func (d *Dispatcher) Dispatch(ctx context.Context, requestID string) error {
	ctx, span := billingTracer.Start(ctx, "billing.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("lumen.billing_request_id", requestID))

	req, err := d.store.Get(ctx, requestID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if req.Status != StatusPending {
		d.logger.Info("billing request not pending, skipping", "request_id", requestID, "status", req.Status)
		return nil
	}

	if strings.TrimSpace(d.cfg.WebhookURL) == "" || d.cfg.Secret == "" {
		d.logger.Error("billing webhook url or secret not configured", "request_id", requestID)
		return d.fail(ctx, req, StatusErrorConfig, "billing webhook url or secret not configured", 0)
	}

	// Snapshot before claiming; the workflow receives the request as queued.
	payload := newWebhookPayload(req)

	claimed, err := d.store.Claim(ctx, requestID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !claimed {
		d.logger.Info("billing request claimed elsewhere, skipping", "request_id", requestID)
		return nil
	}
	d.publish(ctx, requestID)

	started := time.Now()
	if err := d.post(ctx, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook failed")
		d.logger.Error("failed to send billing request to invoicing workflow", "error", err, "request_id", requestID)
		return d.fail(ctx, req, StatusErrorSending, err.Error(), time.Since(started))
	}
	d.metrics.ObserveDispatch(string(StatusProcessing), time.Since(started).Seconds())
	d.logger.Info("billing request sent to invoicing workflow", "request_id", requestID, "appointments", len(req.AppointmentIDs))
	return nil
}

func (d *Dispatcher) post(ctx context.Context, payload webhookPayload) error {
	ctx, span := billingTracer.Start(ctx, "billing.webhook", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(SecretHeader, d.cfg.Secret)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request failed with status code %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, req *Request, status Status, detail string, elapsed time.Duration) error {
	// The dispatch outcome must be stored even if the job context is ending.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.store.MarkFailed(storeCtx, req.ID, status, detail); err != nil {
		return err
	}
	d.metrics.ObserveDispatch(string(status), elapsed.Seconds())
	d.publish(storeCtx, req.ID)
	if d.notifier != nil {
		if err := d.notifier.NotifyDispatchFailure(storeCtx, notify.DispatchFailure{
			RequestID:   req.ID,
			PatientName: req.PatientName,
			Status:      string(status),
			Detail:      detail,
		}); err != nil {
			d.logger.Warn("failed to send billing failure alert", "error", err, "request_id", req.ID)
		}
	}
	return nil
}

func (d *Dispatcher) publish(ctx context.Context, requestID string) {
	if err := d.changes.Publish(ctx, changes.New(changes.BillingRequests, changes.OpUpdate, requestID)); err != nil {
		d.logger.Warn("failed to publish billing change", "error", err, "request_id", requestID)
	}
}
