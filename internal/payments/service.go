package payments

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/lumen-clinic/internal/audit"
	"github.com/wolfman30/lumen-clinic/internal/changes"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

var paymentsTracer = otel.Tracer("lumen.internal.payments")

// Service records payments and notifies subscribers.
type Service struct {
	repo    *Repository
	changes changes.Publisher
	audit   audit.Recorder
	logger  *logging.Logger
}

// NewService wires the payment service.
func NewService(repo *Repository, publisher changes.Publisher, recorder audit.Recorder, logger *logging.Logger) *Service {
	if repo == nil {
		panic("payments: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, changes: changes.OrNop(publisher), audit: recorder, logger: logger}
}

// Repository exposes read access for other services.
func (s *Service) Repository() *Repository { return s.repo }

// Record stores a payment and, when linked, marks its appointment paid.
func (s *Service) Record(ctx context.Context, p *Payment, uid string) error {
	ctx, span := paymentsTracer.Start(ctx, "payments.record")
	defer span.End()
	span.SetAttributes(
		attribute.String("lumen.patient_id", p.PatientID),
		attribute.String("lumen.appointment_id", p.AppointmentID),
		attribute.Int64("lumen.amount_cents", p.AmountCents),
	)

	p.CreatedByUID = uid
	if err := s.repo.Record(ctx, p); err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Info("payment recorded", "payment_id", p.ID, "patient_id", p.PatientID, "appointment_id", p.AppointmentID, "amount_cents", p.AmountCents)
	s.publish(ctx, changes.New(changes.Payments, changes.OpCreate, p.ID))
	if p.AppointmentID != "" {
		s.publish(ctx, changes.New(changes.Appointments, changes.OpUpdate, p.AppointmentID))
	}
	s.record(ctx, audit.EventPaymentRecorded, uid, map[string]any{"amount_cents": p.AmountCents, "appointment_id": p.AppointmentID}, p.ID)
	return nil
}

// Update edits a payment.
func (s *Service) Update(ctx context.Context, id string, u Update, uid string) (*Payment, error) {
	ctx, span := paymentsTracer.Start(ctx, "payments.update")
	defer span.End()
	span.SetAttributes(attribute.String("lumen.payment_id", id))

	p, err := s.repo.Update(ctx, id, u)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.publish(ctx, changes.New(changes.Payments, changes.OpUpdate, id))
	s.record(ctx, audit.EventPaymentUpdated, uid, u, id)
	return p, nil
}

// Delete removes a payment.
func (s *Service) Delete(ctx context.Context, id, uid string) error {
	ctx, span := paymentsTracer.Start(ctx, "payments.delete")
	defer span.End()
	span.SetAttributes(attribute.String("lumen.payment_id", id))

	if err := s.repo.Delete(ctx, id); err != nil {
		span.RecordError(err)
		return err
	}
	s.publish(ctx, changes.New(changes.Payments, changes.OpDelete, id))
	s.record(ctx, audit.EventPaymentDeleted, uid, nil, id)
	return nil
}

func (s *Service) publish(ctx context.Context, c changes.Change) {
	if err := s.changes.Publish(ctx, c); err != nil {
		s.logger.Warn("failed to publish payment change", "error", err, "collection", c.Collection)
	}
}

func (s *Service) record(ctx context.Context, event audit.EventType, uid string, details any, id string) {
	if s.audit == nil {
		return
	}
	evt := audit.Event{Type: event, ActorUID: uid, EntityType: "payment", EntityIDs: []string{id}}
	if details != nil {
		evt.Details = audit.Details(details)
	}
	if err := s.audit.Record(ctx, evt); err != nil {
		s.logger.Warn("failed to audit payment write", "error", err, "event", event)
	}
}
