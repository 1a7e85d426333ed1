// Package audit keeps an append-only trail of staff writes.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// EventType names an audited action.
type EventType string

const (
	EventPatientCreated     EventType = "patient.created"
	EventPatientUpdated     EventType = "patient.updated"
	EventPatientDeleted     EventType = "patient.deleted"
	EventAppointmentCreated EventType = "appointment.created"
	EventAppointmentUpdated EventType = "appointment.updated"
	EventAppointmentDeleted EventType = "appointment.deleted"
	EventSeriesDeleted      EventType = "appointment.series_deleted"
	EventPaymentRecorded    EventType = "payment.recorded"
	EventPaymentUpdated     EventType = "payment.updated"
	EventPaymentDeleted     EventType = "payment.deleted"
	EventInvoiceRequested   EventType = "billing.invoice_requested"
	EventInvoiceCompleted   EventType = "billing.invoice_completed"
	EventInvoiceRetried     EventType = "billing.invoice_retried"
	EventSettlementMarked   EventType = "finance.psique_settlement_marked"
)

// Event is an immutable audit record.
type Event struct {
	ID         string          `json:"id"`
	ClinicID   string          `json:"clinic_id"`
	Type       EventType       `json:"event_type"`
	ActorUID   string          `json:"actor_uid,omitempty"`
	EntityType string          `json:"entity_type"`
	EntityIDs  []string        `json:"entity_ids"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Recorder is implemented by Service. Callers treat a nil Recorder as disabled.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Service writes audit events through database/sql.
type Service struct {
	db       *sql.DB
	clinicID string
}

// NewService creates an audit service scoped to one clinic.
func NewService(db *sql.DB, clinicID string) *Service {
	return &Service{db: db, clinicID: clinicID}
}

// Record inserts an event, filling id, clinic and timestamp when unset.
func (s *Service) Record(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ClinicID == "" {
		event.ClinicID = s.clinicID
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.EntityIDs == nil {
		event.EntityIDs = []string{}
	}

	query := `
		INSERT INTO audit_events (
			id, clinic_id, event_type, actor_uid, entity_type, entity_ids, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.ClinicID,
		event.Type,
		nullString(event.ActorUID),
		event.EntityType,
		pq.Array(event.EntityIDs),
		nullJSON(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to record event: %w", err)
	}
	return nil
}

// Filter narrows QueryEvents.
type Filter struct {
	Type     EventType
	EntityID string
	Since    *time.Time
	Limit    int
}

// QueryEvents lists events newest first.
func (s *Service) QueryEvents(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, clinic_id, event_type, COALESCE(actor_uid, ''), entity_type, entity_ids, details, created_at
		FROM audit_events
		WHERE clinic_id = $1
	`
	args := []any{s.clinicID}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND event_type = $%d", len(args))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		query += fmt.Sprintf(" AND $%d = ANY(entity_ids)", len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event   Event
			ids     pq.StringArray
			details []byte
		)
		if err := rows.Scan(
			&event.ID,
			&event.ClinicID,
			&event.Type,
			&event.ActorUID,
			&event.EntityType,
			&ids,
			&details,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit: failed to scan event: %w", err)
		}
		event.EntityIDs = []string(ids)
		if len(details) > 0 {
			event.Details = json.RawMessage(details)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: failed to iterate events: %w", err)
	}
	return events, nil
}

// Details marshals v for Event.Details, dropping it on error.
func Details(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
