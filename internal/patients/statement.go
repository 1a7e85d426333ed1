package patients

import (
	"context"
	"sort"

	"github.com/wolfman30/lumen-clinic/internal/appointments"
	"github.com/wolfman30/lumen-clinic/internal/payments"
)

// EntryKind distinguishes statement lines.
type EntryKind string

const (
	EntryCharge  EntryKind = "charge"
	EntryPayment EntryKind = "payment"
)

// Entry is one line of a patient statement.
type Entry struct {
	Kind          EntryKind `json:"kind"`
	Date          string    `json:"date"`
	Time          string    `json:"time,omitempty"`
	Description   string    `json:"description"`
	AmountCents   int64     `json:"amount_cents"`
	AppointmentID string    `json:"appointment_id,omitempty"`
	PaymentID     string    `json:"payment_id,omitempty"`
	IsPaid        bool      `json:"is_paid,omitempty"`
	Status        string    `json:"status,omitempty"`
}

// Statement is a patient's running account: sessions charged and payments received.
type Statement struct {
	Patient        *Patient `json:"patient"`
	Entries        []Entry  `json:"entries"`
	ChargedCents   int64    `json:"charged_cents"`
	PaidCents      int64    `json:"paid_cents"`
	BalanceCents   int64    `json:"balance_cents"`
	UnpaidSessions int      `json:"unpaid_sessions"`
}

// AppointmentLister and PaymentLister are the reads a statement needs.
type AppointmentLister interface {
	ListByPatient(ctx context.Context, patientID string) ([]*appointments.Appointment, error)
}

type PaymentLister interface {
	ListByPatient(ctx context.Context, patientID string) ([]*payments.Payment, error)
}

// StatementBuilder assembles statements from the three repositories.
type StatementBuilder struct {
	patients     *Repository
	appointments AppointmentLister
	payments     PaymentLister
}

func NewStatementBuilder(patients *Repository, appts AppointmentLister, pays PaymentLister) *StatementBuilder {
	return &StatementBuilder{patients: patients, appointments: appts, payments: pays}
}

// Statement builds the account for patientID.
func (b *StatementBuilder) Statement(ctx context.Context, patientID string) (*Statement, error) {
	p, err := b.patients.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	appts, err := b.appointments.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	pays, err := b.payments.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	st := BuildStatement(appts, pays)
	st.Patient = p
	return st, nil
}

// BuildStatement merges charges and payments, newest first. Cancelled sessions
// are charged only when flagged charge_on_cancellation.
func BuildStatement(appts []*appointments.Appointment, pays []*payments.Payment) *Statement {
	st := &Statement{Entries: make([]Entry, 0, len(appts)+len(pays))}
	for _, a := range appts {
		if !a.Billable() {
			continue
		}
		desc := a.ConsultationType
		if desc == "" {
			desc = "Consulta"
		}
		st.Entries = append(st.Entries, Entry{
			Kind:          EntryCharge,
			Date:          a.Date,
			Time:          a.Time,
			Description:   desc,
			AmountCents:   a.PriceCents,
			AppointmentID: a.ID,
			IsPaid:        a.IsPaid,
			Status:        string(a.Status),
		})
		st.ChargedCents += a.PriceCents
		if !a.IsPaid {
			st.UnpaidSessions++
		}
	}
	for _, pay := range pays {
		desc := pay.Concept
		if desc == "" {
			desc = "Pago"
		}
		st.Entries = append(st.Entries, Entry{
			Kind:          EntryPayment,
			Date:          pay.Date.Format(appointments.DateLayout),
			Time:          pay.Date.Format(appointments.TimeLayout),
			Description:   desc,
			AmountCents:   pay.AmountCents,
			AppointmentID: pay.AppointmentID,
			PaymentID:     pay.ID,
		})
		st.PaidCents += pay.AmountCents
	}
	sort.SliceStable(st.Entries, func(i, j int) bool {
		if st.Entries[i].Date != st.Entries[j].Date {
			return st.Entries[i].Date > st.Entries[j].Date
		}
		return st.Entries[i].Time > st.Entries[j].Time
	})
	st.BalanceCents = st.ChargedCents - st.PaidCents
	return st
}
