package patients

import (
	"testing"
	"time"

	"github.com/wolfman30/lumen-clinic/internal/appointments"
	"github.com/wolfman30/lumen-clinic/internal/payments"
)

func TestBuildStatement(t *testing.T) {
	appts := []*appointments.Appointment{
		{ID: "a-3", Date: "2026-03-17", Time: "10:00", Status: appointments.StatusScheduled, PriceCents: 1000000},
		{ID: "a-2", Date: "2026-03-10", Time: "10:00", Status: appointments.StatusCancelled, PriceCents: 1000000},
		{ID: "a-1", Date: "2026-03-03", Time: "10:00", Status: appointments.StatusCompleted, PriceCents: 1000000, IsPaid: true, ConsultationType: "Evaluacion"},
		{ID: "a-0", Date: "2026-02-24", Time: "10:00", Status: appointments.StatusCancelled, PriceCents: 500000, ChargeOnCancellation: true},
	}
	pays := []*payments.Payment{
		{ID: "pay-1", AppointmentID: "a-1", AmountCents: 1000000, Date: time.Date(2026, 3, 3, 18, 30, 0, 0, time.UTC)},
	}

	st := BuildStatement(appts, pays)

	if st.ChargedCents != 2500000 {
		t.Errorf("charged = %d, want 2500000", st.ChargedCents)
	}
	if st.PaidCents != 1000000 {
		t.Errorf("paid = %d, want 1000000", st.PaidCents)
	}
	if st.BalanceCents != 1500000 {
		t.Errorf("balance = %d, want 1500000", st.BalanceCents)
	}
	if st.UnpaidSessions != 2 {
		t.Errorf("unpaid sessions = %d, want 2", st.UnpaidSessions)
	}
	if len(st.Entries) != 4 {
		t.Fatalf("expected 4 entries (cancelled without charge skipped), got %d", len(st.Entries))
	}
	wantOrder := []string{"a-3", "pay-1", "a-1", "a-0"}
	for i, e := range st.Entries {
		id := e.AppointmentID
		if e.Kind == EntryPayment {
			id = e.PaymentID
		}
		if id != wantOrder[i] {
			t.Fatalf("entry %d = %s, want %s", i, id, wantOrder[i])
		}
	}
	if st.Entries[2].Description != "Evaluacion" || st.Entries[0].Description != "Consulta" {
		t.Fatalf("unexpected descriptions %+v", st.Entries)
	}
}

func TestBuildStatementEmpty(t *testing.T) {
	st := BuildStatement(nil, nil)
	if st.Entries == nil || len(st.Entries) != 0 || st.BalanceCents != 0 {
		t.Fatalf("unexpected empty statement %+v", st)
	}
}
