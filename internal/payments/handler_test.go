package payments

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/lumen-clinic/internal/changes"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

type capturePublisher struct {
	got []changes.Change
}

func (c *capturePublisher) Publish(_ context.Context, change changes.Change) error {
	c.got = append(c.got, change)
	return nil
}

func TestHandler_RecordPublishesPaymentAndAppointment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO payments`).
		WillReturnRows(pgxmock.NewRows([]string{"paid_at"}).AddRow(time.Now()))
	mock.ExpectExec(`UPDATE appointments SET is_paid = TRUE`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	pub := &capturePublisher{}
	logger := logging.New("error")
	h := NewHandler(NewService(NewRepositoryWithDB(mock, "clinic-1"), pub, nil, logger), logger)

	body := `{"appointment_id":"appt-1","patient_id":"p-1","patient_name":"Ana","amount_cents":1000000,"method":"efectivo"}`
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(pub.got) != 2 {
		t.Fatalf("expected payment and appointment changes, got %+v", pub.got)
	}
	if pub.got[0].Collection != changes.Payments || pub.got[1].Collection != changes.Appointments {
		t.Fatalf("unexpected collections %+v", pub.got)
	}
}

func TestHandler_RecordRejectsZeroAmount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	h := NewHandler(NewService(NewRepositoryWithDB(mock, "clinic-1"), nil, nil, logging.New("error")), nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"patient_id":"p-1","amount_cents":0}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_RecordMissingAppointment(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO payments`).
		WillReturnRows(pgxmock.NewRows([]string{"paid_at"}).AddRow(time.Now()))
	mock.ExpectExec(`UPDATE appointments`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	h := NewHandler(NewService(NewRepositoryWithDB(mock, "clinic-1"), nil, nil, logging.New("error")), nil)
	rec := httptest.NewRecorder()
	body := `{"appointment_id":"gone","patient_id":"p-1","amount_cents":100}`
	h.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
