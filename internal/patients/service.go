package patients

import (
	"context"

	"github.com/wolfman30/lumen-clinic/internal/audit"
	"github.com/wolfman30/lumen-clinic/internal/changes"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// Service wraps the repository with change notification and auditing.
type Service struct {
	repo    *Repository
	changes changes.Publisher
	audit   audit.Recorder
	logger  *logging.Logger
}

// NewService constructs a patient service. publisher and recorder may be nil.
func NewService(repo *Repository, publisher changes.Publisher, recorder audit.Recorder, logger *logging.Logger) *Service {
	if repo == nil {
		panic("patients: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, changes: changes.OrNop(publisher), audit: recorder, logger: logger}
}

// Repository exposes read access for other services.
func (s *Service) Repository() *Repository { return s.repo }

// Create stores a new patient on behalf of uid.
func (s *Service) Create(ctx context.Context, p *Patient, uid string) error {
	p.CreatedByUID = uid
	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}
	s.after(ctx, changes.OpCreate, audit.EventPatientCreated, uid, nil, p.ID)
	return nil
}

// Update edits a patient.
func (s *Service) Update(ctx context.Context, id string, u Update, uid string) (*Patient, error) {
	p, err := s.repo.Update(ctx, id, u)
	if err != nil {
		return nil, err
	}
	s.after(ctx, changes.OpUpdate, audit.EventPatientUpdated, uid, u, id)
	return p, nil
}

// Delete removes a patient.
func (s *Service) Delete(ctx context.Context, id, uid string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.after(ctx, changes.OpDelete, audit.EventPatientDeleted, uid, nil, id)
	return nil
}

func (s *Service) after(ctx context.Context, op changes.Op, event audit.EventType, uid string, details any, id string) {
	if err := s.changes.Publish(ctx, changes.New(changes.Patients, op, id)); err != nil {
		s.logger.Warn("failed to publish patient change", "error", err, "patient_id", id)
	}
	if s.audit == nil {
		return
	}
	evt := audit.Event{Type: event, ActorUID: uid, EntityType: "patient", EntityIDs: []string{id}}
	if details != nil {
		evt.Details = audit.Details(details)
	}
	if err := s.audit.Record(ctx, evt); err != nil {
		s.logger.Warn("failed to audit patient write", "error", err, "event", event)
	}
}
