package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
)

func TestStore_InsertEncodesLineItems(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO billing_requests`).
		WithArgs(pgxmock.AnyArg(), "clinic-1", "batch", []string{"a-1"}, "p-1", "Ana Perez", "", "ana@example.com",
			int64(1000000), `[{"description":"Consulta - 2026-03-03","amount_cents":1000000}]`, "pending", 0, "staff-1").
		WillReturnRows(pgxmock.NewRows([]string{"requested_at", "updated_at"}).AddRow(at, at))

	req := &Request{
		Type:            TypeBatch,
		AppointmentIDs:  []string{"a-1"},
		PatientID:       "p-1",
		PatientName:     "Ana Perez",
		PatientEmail:    "ana@example.com",
		TotalPriceCents: 1000000,
		LineItems:       []LineItem{{Description: "Consulta - 2026-03-03", AmountCents: 1000000}},
		Status:          StatusPending,
		RequestedBy:     "staff-1",
	}
	if err := NewStore(mock, "clinic-1").Insert(context.Background(), req); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if req.ID == "" || !req.RequestedAt.Equal(at) {
		t.Fatalf("expected id and timestamps, got %+v", req)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_GetDecodesRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`FROM billing_requests WHERE id`).
		WithArgs("req-1", "clinic-1").
		WillReturnRows(pgxmock.NewRows(requestCols).AddRow(requestRow("req-1", StatusPending, 0)...))

	req, err := NewStore(mock, "clinic-1").Get(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(req.LineItems) != 2 || req.LineItems[1].AmountCents != 1500050 {
		t.Fatalf("unexpected line items: %+v", req.LineItems)
	}
	if req.Type != TypeBatch || req.Status != StatusPending {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`FROM billing_requests WHERE id`).WillReturnError(pgx.ErrNoRows)

	if _, err := NewStore(mock, "clinic-1").Get(context.Background(), "missing"); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestStore_ClaimOnlyPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`SET status = 'processing'`).
		WithArgs("req-1", "clinic-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`SET status = 'processing'`).
		WithArgs("req-1", "clinic-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	store := NewStore(mock, "clinic-1")
	claimed, err := store.Claim(context.Background(), "req-1")
	if err != nil || !claimed {
		t.Fatalf("expected first claim to win, got %v %v", claimed, err)
	}
	claimed, err = store.Claim(context.Background(), "req-1")
	if err != nil || claimed {
		t.Fatalf("expected second claim to lose, got %v %v", claimed, err)
	}
}

func TestStore_ListFiltersByStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`AND status = \$2 ORDER BY requested_at DESC LIMIT \$3`).
		WithArgs("clinic-1", "error_sending", 50).
		WillReturnRows(pgxmock.NewRows(requestCols).AddRow(requestRow("req-1", StatusErrorSending, 1)...))

	items, err := NewStore(mock, "clinic-1").List(context.Background(), StatusErrorSending, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].RetryCount != 1 {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestStore_RetryRequiresFailedStatus(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`status IN \('error_config', 'error_sending'\)`).
		WithArgs("req-1", "clinic-1", float64(900)).
		WillReturnError(pgx.ErrNoRows)

	if _, err := NewStore(mock, "clinic-1").Retry(context.Background(), "req-1", 15*time.Minute); !errors.Is(err, ErrNotRetryable) {
		t.Fatalf("expected ErrNotRetryable, got %v", err)
	}
}

func TestStore_CompleteOnlyFromAwaitingStates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`WHERE id = \$1 AND clinic_id = \$2 AND status IN \('processing', 'error_sending'\)`).
		WithArgs("req-1", "clinic-1", "completed", "A-1", "", "").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`FROM billing_requests WHERE id`).
		WithArgs("req-1", "clinic-1").
		WillReturnRows(pgxmock.NewRows(requestCols).AddRow(requestRow("req-1", StatusPending, 0)...))

	_, err = NewStore(mock, "clinic-1").Complete(context.Background(), Completion{QueueDocID: "req-1", Status: StatusCompleted, InvoiceNumber: "A-1"})
	if !errors.Is(err, ErrNotAwaiting) {
		t.Fatalf("expected ErrNotAwaiting, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_CompleteUnknownRequest(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`UPDATE billing_requests`).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`FROM billing_requests WHERE id`).WillReturnError(pgx.ErrNoRows)

	_, err = NewStore(mock, "clinic-1").Complete(context.Background(), Completion{QueueDocID: "req-9", Status: StatusError})
	if !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestStore_MarkFailedLeavesSettledRequests(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`AND status IN \('pending', 'processing'\)`).
		WithArgs("req-1", "clinic-1", "error_sending", "timeout").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := NewStore(mock, "clinic-1").MarkFailed(context.Background(), "req-1", StatusErrorSending, "timeout"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
