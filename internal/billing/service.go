package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/lumen-clinic/internal/appointments"
	"github.com/wolfman30/lumen-clinic/internal/audit"
	"github.com/wolfman30/lumen-clinic/internal/changes"
	"github.com/wolfman30/lumen-clinic/internal/dbutil"
	"github.com/wolfman30/lumen-clinic/internal/notify"
	"github.com/wolfman30/lumen-clinic/internal/observability/metrics"
	"github.com/wolfman30/lumen-clinic/internal/patients"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// InvoiceNotifier is told when an invoice is ready for a patient.
type InvoiceNotifier interface {
	NotifyInvoiceReady(ctx context.Context, inv notify.InvoiceReady) error
}

// DefaultStaleProcessing is how long a request may sit in processing before
// staff can retry it.
const DefaultStaleProcessing = 15 * time.Minute

// Service owns the invoice request lifecycle.
type Service struct {
	db           dbutil.TxDB
	store        *Store
	appointments *appointments.Repository
	patients     *patients.Repository
	jobs         JobPublisher
	changes      changes.Publisher
	audit        audit.Recorder
	notifier     InvoiceNotifier
	metrics      *metrics.BillingMetrics
	logger       *logging.Logger
	staleAfter   time.Duration
	now          func() time.Time
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

func WithChanges(p changes.Publisher) ServiceOption {
	return func(s *Service) { s.changes = changes.OrNop(p) }
}

func WithAudit(r audit.Recorder) ServiceOption {
	return func(s *Service) { s.audit = r }
}

func WithInvoiceNotifier(n InvoiceNotifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

func WithMetrics(m *metrics.BillingMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithStaleProcessingAfter overrides DefaultStaleProcessing.
func WithStaleProcessingAfter(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// NewService wires the billing service over one database.
func NewService(db dbutil.TxDB, clinicID string, jobs JobPublisher, logger *logging.Logger, opts ...ServiceOption) *Service {
	if db == nil {
		panic("billing: database required")
	}
	if jobs == nil {
		panic("billing: job publisher required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		db:           db,
		store:        NewStore(db, clinicID),
		appointments: appointments.NewRepositoryWithDB(db, clinicID),
		patients:     patients.NewRepositoryWithDB(db, clinicID),
		jobs:         jobs,
		changes:      changes.Nop{},
		logger:       logger,
		staleAfter:   DefaultStaleProcessing,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the request store for the dispatcher and subscriptions.
func (s *Service) Store() *Store { return s.store }

// RequestBatchInvoice queues one invoice covering appointmentIDs for patientID.
func (s *Service) RequestBatchInvoice(ctx context.Context, patientID string, appointmentIDs []string, uid string) (*Request, error) {
	ctx, span := billingTracer.Start(ctx, "billing.request_batch")
	defer span.End()
	span.SetAttributes(attribute.String("lumen.patient_id", patientID), attribute.Int("lumen.appointments", len(appointmentIDs)))

	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, ErrMissingPatient
	}
	ids := dedupe(appointmentIDs)
	if len(ids) == 0 {
		return nil, ErrNoAppointments
	}
	p, err := s.patients.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	appts, err := s.appointments.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(appts) != len(ids) {
		return nil, ErrMissingAppts
	}
	req, err := BuildRequest(TypeBatch, p, appts, uid)
	if err != nil {
		return nil, err
	}
	if err := s.submit(ctx, req); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return req, nil
}

// RequestInvoice queues an invoice for a single appointment.
func (s *Service) RequestInvoice(ctx context.Context, appointmentID, uid string) (*Request, error) {
	ctx, span := billingTracer.Start(ctx, "billing.request_single")
	defer span.End()
	span.SetAttributes(attribute.String("lumen.appointment_id", appointmentID))

	a, err := s.appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	p, err := s.patients.Get(ctx, a.PatientID)
	if err != nil {
		return nil, err
	}
	req, err := BuildRequest(TypeSingle, p, []*appointments.Appointment{a}, uid)
	if err != nil {
		return nil, err
	}
	if err := s.submit(ctx, req); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return req, nil
}

// submit stores req and flags its appointments in one transaction, then
// enqueues the dispatch job.
func (s *Service) submit(ctx context.Context, req *Request) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("billing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.WithDB(tx).Insert(ctx, req); err != nil {
		return err
	}
	if _, err := s.appointments.WithDB(tx).SetBillingStatus(ctx, req.AppointmentIDs, appointments.BillingRequested, "", ""); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("billing: commit request: %w", err)
	}

	s.metrics.ObserveRequest(string(req.Type))
	s.logger.Info("invoice requested", "request_id", req.ID, "type", req.Type, "patient_id", req.PatientID,
		"appointments", len(req.AppointmentIDs), "total_cents", req.TotalPriceCents)
	s.publish(ctx, changes.New(changes.BillingRequests, changes.OpCreate, req.ID))
	s.publish(ctx, changes.New(changes.Appointments, changes.OpUpdate, req.AppointmentIDs...))
	s.record(ctx, audit.EventInvoiceRequested, req.RequestedBy, req, map[string]any{"type": req.Type, "total_cents": req.TotalPriceCents})

	s.enqueue(ctx, req)
	return nil
}

// enqueue publishes the dispatch job. A failed publish leaves the request in
// error_sending so staff can retry it.
func (s *Service) enqueue(ctx context.Context, req *Request) {
	if err := s.jobs.EnqueueDispatch(ctx, req.ID, req.RetryCount); err != nil {
		s.logger.Error("failed to enqueue invoice dispatch", "error", err, "request_id", req.ID)
		if markErr := s.store.MarkFailed(ctx, req.ID, StatusErrorSending, err.Error()); markErr != nil {
			s.logger.Error("failed to mark invoice request", "error", markErr, "request_id", req.ID)
			return
		}
		req.Status = StatusErrorSending
		req.DebugError = err.Error()
		s.publish(ctx, changes.New(changes.BillingRequests, changes.OpUpdate, req.ID))
	}
}

// Complete applies the invoicing workflow's callback. On success the
// request's appointments are marked invoiced in the same transaction and the
// patient is emailed. A repeated completed callback is acknowledged without
// side effects.
func (s *Service) Complete(ctx context.Context, c Completion) (*Request, error) {
	ctx, span := billingTracer.Start(ctx, "billing.complete")
	defer span.End()
	span.SetAttributes(attribute.String("lumen.billing_request_id", c.QueueDocID), attribute.String("lumen.status", string(c.Status)))

	if err := c.validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("billing: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	req, err := s.store.WithDB(tx).Complete(ctx, c)
	if errors.Is(err, ErrAlreadyComplete) {
		s.logger.Info("duplicate invoice callback ignored", "request_id", req.ID,
			"invoice_number", req.InvoiceNumber, "callback_invoice_number", c.InvoiceNumber)
		return req, nil
	}
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrNotAwaiting) {
			s.logger.Warn("rejected out-of-order invoice callback", "request_id", c.QueueDocID, "status", c.Status, "error", err)
		}
		return nil, err
	}

	var n int64
	if c.Status == StatusCompleted {
		n, err = s.appointments.WithDB(tx).SetBillingStatus(ctx, req.AppointmentIDs, appointments.BillingInvoiced, c.InvoiceNumber, c.InvoiceURL)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("billing: commit completion: %w", err)
	}

	s.metrics.ObserveCompletion(string(c.Status))
	s.publish(ctx, changes.New(changes.BillingRequests, changes.OpUpdate, req.ID))

	if c.Status != StatusCompleted {
		s.logger.Warn("invoicing workflow reported an error", "request_id", req.ID, "error", c.Error)
		return req, nil
	}

	s.publish(ctx, changes.New(changes.Appointments, changes.OpUpdate, req.AppointmentIDs...))
	s.record(ctx, audit.EventInvoiceCompleted, "", req, map[string]any{"invoice_number": c.InvoiceNumber, "appointments": n})
	s.logger.Info("invoice completed", "request_id", req.ID, "invoice_number", c.InvoiceNumber, "appointments", n)

	if s.notifier != nil {
		if err := s.notifier.NotifyInvoiceReady(ctx, notify.InvoiceReady{
			RequestID:     req.ID,
			PatientName:   req.PatientName,
			PatientEmail:  req.PatientEmail,
			InvoiceNumber: c.InvoiceNumber,
			InvoiceURL:    c.InvoiceURL,
			TotalCents:    req.TotalPriceCents,
			Sessions:      len(req.AppointmentIDs),
		}); err != nil {
			s.logger.Warn("failed to email invoice", "error", err, "request_id", req.ID)
		}
	}
	return req, nil
}

// Retry re-queues a request that failed to reach the workflow, or one that has
// been processing for longer than the stale threshold.
func (s *Service) Retry(ctx context.Context, id, uid string) (*Request, error) {
	ctx, span := billingTracer.Start(ctx, "billing.retry")
	defer span.End()
	span.SetAttributes(attribute.String("lumen.billing_request_id", id))

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.retryable(current) {
		return nil, ErrNotRetryable
	}
	req, err := s.store.Retry(ctx, id, s.staleAfter)
	if err != nil {
		return nil, err
	}
	s.logger.Info("invoice request retried", "request_id", id, "retry_count", req.RetryCount, "previous_status", current.Status)
	s.publish(ctx, changes.New(changes.BillingRequests, changes.OpUpdate, id))
	s.record(ctx, audit.EventInvoiceRetried, uid, req, map[string]any{"retry_count": req.RetryCount, "previous_status": current.Status})
	s.enqueue(ctx, req)
	return req, nil
}

func (s *Service) retryable(req *Request) bool {
	if req.Status.Retryable() {
		return true
	}
	return req.Status == StatusProcessing && s.now().Sub(req.UpdatedAt) >= s.staleAfter
}

// Status returns the current state of a request.
func (s *Service) Status(ctx context.Context, id string) (*Request, error) {
	return s.store.Get(ctx, id)
}

// List returns recent requests, optionally filtered by status.
func (s *Service) List(ctx context.Context, status Status, limit int) ([]*Request, error) {
	return s.store.List(ctx, status, limit)
}

// Candidates lists paid, uninvoiced sessions grouped per patient.
func (s *Service) Candidates(ctx context.Context) ([]*PatientSummary, error) {
	appts, err := s.appointments.ListBillable(ctx)
	if err != nil {
		return nil, err
	}
	return GroupByPatient(appts), nil
}

// MonthlySummary groups a month's non-cancelled sessions per patient with
// their invoicing progress.
func (s *Service) MonthlySummary(ctx context.Context, month string) ([]*PatientSummary, error) {
	start, end, err := appointments.MonthRange(month)
	if err != nil {
		return nil, err
	}
	appts, err := s.appointments.ListRange(ctx, start, end, "")
	if err != nil {
		return nil, err
	}
	kept := appts[:0]
	for _, a := range appts {
		if a.Status != appointments.StatusCancelled {
			kept = append(kept, a)
		}
	}
	return GroupByPatient(kept), nil
}

func (s *Service) publish(ctx context.Context, c changes.Change) {
	if err := s.changes.Publish(ctx, c); err != nil {
		s.logger.Warn("failed to publish billing change", "error", err, "collection", c.Collection)
	}
}

func (s *Service) record(ctx context.Context, event audit.EventType, uid string, req *Request, details map[string]any) {
	if s.audit == nil {
		return
	}
	ids := append([]string{req.ID}, req.AppointmentIDs...)
	if err := s.audit.Record(ctx, audit.Event{
		Type:       event,
		ActorUID:   uid,
		EntityType: "billing_request",
		EntityIDs:  ids,
		Details:    audit.Details(details),
	}); err != nil {
		s.logger.Warn("failed to audit billing write", "error", err, "event", event)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
