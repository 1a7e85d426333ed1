package finance

import (
	"testing"

	"github.com/wolfman30/lumen-clinic/internal/appointments"
)

func appt(id, patientID, name, date string, price int64, mods ...func(*appointments.Appointment)) *appointments.Appointment {
	a := &appointments.Appointment{
		ID: id, PatientID: patientID, PatientName: name, Professional: "Dra. Ruiz",
		Date: date, Status: appointments.StatusCompleted, IsPaid: true, PriceCents: price,
	}
	for _, m := range mods {
		m(a)
	}
	return a
}

func TestPsiqueAmount(t *testing.T) {
	cases := map[int64]int64{10000: 2500, 333: 83, 10: 3, 2: 1, 0: 0, -100: 0}
	for in, want := range cases {
		if got := PsiqueAmount(in); got != want {
			t.Errorf("PsiqueAmount(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestCalculatePsiqueMonth(t *testing.T) {
	psique := map[string]bool{"p-1": true, "p-2": true}
	appts := []*appointments.Appointment{
		appt("a-1", "p-1", "Zara", "2026-02-05", 10000),
		appt("a-2", "p-1", "Zara", "2026-02-12", 10000),
		appt("a-3", "p-2", "Ana", "2026-02-19", 5000),
		appt("a-4", "p-2", "Ana", "2026-03-01", 8000),
		appt("a-5", "p-3", "Bruno", "2026-02-10", 10000),
		appt("a-6", "p-1", "Zara", "2026-02-20", 10000, func(a *appointments.Appointment) { a.IsPaid = false }),
		appt("a-7", "p-1", "Zara", "2026-02-21", 10000, func(a *appointments.Appointment) { a.Status = appointments.StatusCancelled }),
		appt("a-8", "p-1", "Zara", "2026-02-22", 10000, func(a *appointments.Appointment) { a.ExcludeFromPsique = true }),
	}

	res := CalculatePsiqueMonth(appts, psique, "2026-02", nil, "")
	if res.TotalCents != 6250 {
		t.Fatalf("expected total 6250, got %d", res.TotalCents)
	}
	if len(res.Patients) != 2 {
		t.Fatalf("expected 2 patients, got %+v", res.Patients)
	}
	if res.Patients[0].PatientName != "Ana" || res.Patients[1].PatientName != "Zara" {
		t.Fatalf("expected alphabetical order, got %+v", res.Patients)
	}
	if res.Patients[1].SessionCount != 2 || res.Patients[1].TotalCents != 20000 || res.Patients[1].PsiqueCents != 5000 {
		t.Fatalf("unexpected breakdown for Zara: %+v", res.Patients[1])
	}
}

func TestCalculatePsiqueMonth_NoPsiquePatients(t *testing.T) {
	res := CalculatePsiqueMonth([]*appointments.Appointment{appt("a-1", "p-1", "Ana", "2026-02-10", 10000)}, map[string]bool{}, "2026-02", nil, "")
	if res.TotalCents != 0 || len(res.Patients) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestCalculatePsiqueMonth_ProfessionalAndSettlement(t *testing.T) {
	psique := map[string]bool{"p-1": true}
	appts := []*appointments.Appointment{
		appt("a-1", "p-1", "Ana", "2026-02-10", 10000),
		appt("a-2", "p-1", "Ana", "2026-02-11", 10000, func(a *appointments.Appointment) { a.Professional = "Lic. Gomez" }),
	}
	settlements := map[string]*Settlement{
		"2026-02_Dra_ Ruiz": {Key: "2026-02_Dra_ Ruiz", IsPaid: true, PaidDate: "2026-03-02"},
	}

	res := CalculatePsiqueMonth(appts, psique, "2026-02", settlements, "Dra. Ruiz")
	if res.TotalCents != 2500 {
		t.Fatalf("expected 2500, got %d", res.TotalCents)
	}
	if !res.IsPaid || res.PaidDate != "2026-03-02" {
		t.Fatalf("expected settlement carried, got %+v", res)
	}
}

func TestSettlementKey(t *testing.T) {
	cases := []struct{ month, professional, want string }{
		{"2026-02", "", "2026-02"},
		{"2026-02", "  ", "2026-02"},
		{"2026-02", "Dra. Ruiz", "2026-02_Dra_ Ruiz"},
		{"2026-02", "a/b#c$d[e]", "2026-02_a_b_c_d_e_"},
	}
	for _, tc := range cases {
		if got := SettlementKey(tc.month, tc.professional); got != tc.want {
			t.Errorf("SettlementKey(%q, %q) = %q, want %q", tc.month, tc.professional, got, tc.want)
		}
	}
}

func TestBuildDebts(t *testing.T) {
	unpaid := []*appointments.Appointment{
		appt("a-3", "p-1", "Ana", "2026-03-20", 3000, func(a *appointments.Appointment) { a.IsPaid = false }),
		appt("a-2", "p-1", "Ana", "2026-03-10", 2000, func(a *appointments.Appointment) { a.IsPaid = false }),
		appt("a-1", "p-1", "Ana", "2026-03-01", 1000, func(a *appointments.Appointment) {
			a.IsPaid = false
			a.Status = appointments.StatusCancelled
			a.ChargeOnCancellation = true
		}),
	}
	rep := buildDebts(unpaid, "2026-03-15")
	if rep.Count != 1 || rep.TotalCents != 2000 || rep.Appointments[0].ID != "a-2" {
		t.Fatalf("unexpected debts: %+v", rep)
	}
}
