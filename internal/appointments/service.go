package appointments

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/lumen-clinic/internal/audit"
	"github.com/wolfman30/lumen-clinic/internal/changes"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

var appointmentsTracer = otel.Tracer("lumen.internal.appointments")

// Service wraps the repository with change notification and auditing.
type Service struct {
	repo    *Repository
	changes changes.Publisher
	audit   audit.Recorder
	logger  *logging.Logger
}

// NewService constructs an appointments service. recorder may be nil.
func NewService(repo *Repository, publisher changes.Publisher, recorder audit.Recorder, logger *logging.Logger) *Service {
	if repo == nil {
		panic("appointments: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, changes: changes.OrNop(publisher), audit: recorder, logger: logger}
}

// Repository exposes read access for other services.
func (s *Service) Repository() *Repository { return s.repo }

// Create schedules one appointment.
func (s *Service) Create(ctx context.Context, a *Appointment, uid string) error {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.create")
	defer span.End()

	a.CreatedByUID = uid
	if err := s.repo.Create(ctx, a); err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.String("lumen.appointment_id", a.ID), attribute.String("lumen.date", a.Date))
	s.after(ctx, changes.OpCreate, audit.EventAppointmentCreated, uid, nil, a.ID)
	return nil
}

// CreateRecurring schedules base on each date as one series.
func (s *Service) CreateRecurring(ctx context.Context, base Appointment, dates []string, rule Rule, uid string) ([]*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.create_recurring")
	defer span.End()
	span.SetAttributes(attribute.Int("lumen.occurrences", len(dates)), attribute.String("lumen.rule", string(rule)))

	base.CreatedByUID = uid
	created, err := s.repo.CreateSeries(ctx, base, dates, rule)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	ids := make([]string, 0, len(created))
	for _, a := range created {
		ids = append(ids, a.ID)
	}
	seriesID := ""
	if len(created) > 0 {
		seriesID = created[0].RecurrenceID
	}
	s.logger.Info("recurring appointments created", "series_id", seriesID, "count", len(created), "rule", rule)
	s.after(ctx, changes.OpCreate, audit.EventAppointmentCreated, uid, map[string]any{"series_id": seriesID, "rule": rule}, ids...)
	return created, nil
}

// Update edits one appointment.
func (s *Service) Update(ctx context.Context, id string, u Update, uid string) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.update")
	defer span.End()
	span.SetAttributes(attribute.String("lumen.appointment_id", id))

	a, err := s.repo.Update(ctx, id, u)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.after(ctx, changes.OpUpdate, audit.EventAppointmentUpdated, uid, u, id)
	return a, nil
}

// Delete removes one appointment.
func (s *Service) Delete(ctx context.Context, id, uid string) error {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.delete")
	defer span.End()

	if err := s.repo.Delete(ctx, id); err != nil {
		span.RecordError(err)
		return err
	}
	s.after(ctx, changes.OpDelete, audit.EventAppointmentDeleted, uid, nil, id)
	return nil
}

// DeleteSeries removes a whole series and returns how many appointments were deleted.
func (s *Service) DeleteSeries(ctx context.Context, seriesID, uid string) (int, error) {
	return s.deleteSeries(ctx, seriesID, "", uid)
}

// DeleteSeriesFromDate removes series appointments on or after fromDate.
func (s *Service) DeleteSeriesFromDate(ctx context.Context, seriesID, fromDate, uid string) (int, error) {
	if err := ValidateDate(fromDate); err != nil {
		return 0, err
	}
	return s.deleteSeries(ctx, seriesID, fromDate, uid)
}

func (s *Service) deleteSeries(ctx context.Context, seriesID, fromDate, uid string) (int, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.delete_series")
	defer span.End()
	span.SetAttributes(attribute.String("lumen.series_id", seriesID), attribute.String("lumen.from_date", fromDate))

	var (
		ids []string
		err error
	)
	if fromDate == "" {
		ids, err = s.repo.DeleteSeries(ctx, seriesID)
	} else {
		ids, err = s.repo.DeleteSeriesFromDate(ctx, seriesID, fromDate)
	}
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if len(ids) > 0 {
		s.after(ctx, changes.OpDelete, audit.EventSeriesDeleted, uid, map[string]any{"series_id": seriesID, "from_date": fromDate}, ids...)
	}
	s.logger.Info("recurring series deleted", "series_id", seriesID, "from_date", fromDate, "count", len(ids))
	return len(ids), nil
}

func (s *Service) after(ctx context.Context, op changes.Op, event audit.EventType, uid string, details any, ids ...string) {
	if err := s.changes.Publish(ctx, changes.New(changes.Appointments, op, ids...)); err != nil {
		s.logger.Warn("failed to publish appointment change", "error", err, "op", op)
	}
	if s.audit == nil {
		return
	}
	evt := audit.Event{Type: event, ActorUID: uid, EntityType: "appointment", EntityIDs: ids}
	if details != nil {
		evt.Details = audit.Details(details)
	}
	if err := s.audit.Record(ctx, evt); err != nil {
		s.logger.Warn("failed to audit appointment write", "error", err, "event", event)
	}
}
