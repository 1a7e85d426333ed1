package billing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/lumen-clinic/internal/appointments"
	"github.com/wolfman30/lumen-clinic/internal/changes"
	"github.com/wolfman30/lumen-clinic/internal/notify"
)

var requestCols = []string{
	"id", "type", "appointment_ids", "patient_id", "patient_name", "patient_dni", "patient_email",
	"total_price_cents", "line_items", "status", "retry_count", "requested_by", "invoice_number", "invoice_url",
	"debug_error", "requested_at", "updated_at",
}

func requestRow(id string, status Status, retries int) []any {
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	items := []byte(`[{"description":"Consulta - 2026-03-03","amount_cents":1000000},{"description":"Consulta - 2026-03-10","amount_cents":1500050}]`)
	return []any{
		id, "batch", []string{"a-1", "a-2"}, "p-1", "Ana Perez", "30111222", "ana@example.com",
		int64(2500050), items, string(status), retries, "staff-1", "", "",
		"", at, at,
	}
}

var apptCols = []string{
	"id", "patient_id", "patient_name", "patient_email", "professional", "date", "time", "duration",
	"type", "consultation_type", "status", "is_paid", "price_cents", "billing_status", "invoice_number", "invoice_url",
	"exclude_from_psique", "charge_on_cancellation", "recurrence_id", "recurrence_index", "recurrence_rule",
	"created_by_uid", "created_at", "updated_at",
}

func apptRow(id, patientID, date, billing string, price int64) []any {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return []any{
		id, patientID, "Ana Perez", "ana@example.com", "Dra. Ruiz", date, "10:00", 50,
		"presencial", "", "completado", true, price, billing, "", "",
		false, false, "", 0, "",
		"staff-1", at, at,
	}
}

var patientCols = []string{"id", "name", "first_name", "last_name", "email", "phone", "dni", "professional",
	"fee_cents", "patient_source", "preference", "is_active", "created_by_uid", "created_at", "updated_at"}

func patientRow(id string) []any {
	at := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	return []any{id, "Ana Perez", "Ana", "Perez", "ana@example.com", "", "", "Dra. Ruiz", int64(1000000), "particular", "", true, "staff-1", at, at}
}

type recordingChanges struct {
	mu      sync.Mutex
	changes []changes.Change
}

func (r *recordingChanges) Publish(_ context.Context, c changes.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return nil
}

func (r *recordingChanges) collections() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, string(c.Collection))
	}
	return out
}

type fakeJobs struct {
	err      error
	requests []string
	attempts []int
}

func (f *fakeJobs) EnqueueDispatch(_ context.Context, requestID string, attempt int) error {
	f.requests = append(f.requests, requestID)
	f.attempts = append(f.attempts, attempt)
	return f.err
}

type fakeNotifier struct {
	ready    []notify.InvoiceReady
	failures []notify.DispatchFailure
}

func (f *fakeNotifier) NotifyInvoiceReady(_ context.Context, inv notify.InvoiceReady) error {
	f.ready = append(f.ready, inv)
	return nil
}

func (f *fakeNotifier) NotifyDispatchFailure(_ context.Context, d notify.DispatchFailure) error {
	f.failures = append(f.failures, d)
	return nil
}

// containsArg matches string arguments holding substr.
type containsArg string

func (c containsArg) Match(v any) bool {
	s, ok := v.(string)
	return ok && strings.Contains(s, string(c))
}

var _ pgxmock.Argument = containsArg("")

func testAppointment(id, patientID, date string, price int64) *appointments.Appointment {
	return &appointments.Appointment{ID: id, PatientID: patientID, PatientName: "Ana Perez", Date: date, PriceCents: price}
}

func fixedTime() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
