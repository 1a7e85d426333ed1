package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewService(db, "clinic-1")

	tests := []struct {
		name  string
		event Event
	}{
		{
			name: "patient created with actor",
			event: Event{
				Type:       EventPatientCreated,
				ActorUID:   "staff-1",
				EntityType: "patient",
				EntityIDs:  []string{"p-1"},
			},
		},
		{
			name: "invoice completed without actor",
			event: Event{
				Type:       EventInvoiceCompleted,
				EntityType: "billing_request",
				EntityIDs:  []string{"req-1"},
				Details:    json.RawMessage(`{"invoice_number":"A-0001"}`),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock.ExpectExec("INSERT INTO audit_events").
				WithArgs(sqlmock.AnyArg(), "clinic-1", tt.event.Type, sqlmock.AnyArg(), tt.event.EntityType, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))

			assert.NoError(t, service.Record(context.Background(), tt.event))
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_RecordError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_events").WillReturnError(errors.New("connection reset"))

	err = NewService(db, "clinic-1").Record(context.Background(), Event{Type: EventPaymentDeleted, EntityType: "payment"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit: failed to record event")
}

func TestService_QueryEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "clinic_id", "event_type", "actor_uid", "entity_type", "entity_ids", "details", "created_at"}).
		AddRow("evt-1", "clinic-1", string(EventSeriesDeleted), "staff-1", "appointment", "{a-1,a-2}", []byte(`{"count":2}`), created)

	mock.ExpectQuery(`SELECT id, clinic_id, event_type`).
		WithArgs("clinic-1", EventSeriesDeleted, "a-1", 10).
		WillReturnRows(rows)

	events, err := NewService(db, "clinic-1").QueryEvents(context.Background(), Filter{
		Type:     EventSeriesDeleted,
		EntityID: "a-1",
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"a-1", "a-2"}, events[0].EntityIDs)
	assert.Equal(t, "staff-1", events[0].ActorUID)
	assert.JSONEq(t, `{"count":2}`, string(events[0].Details))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDetailsMarshals(t *testing.T) {
	raw := Details(map[string]int{"count": 3})
	assert.JSONEq(t, `{"count":3}`, string(raw))
	assert.Nil(t, Details(make(chan int)))
}
