package billing

import (
	"sort"

	"github.com/wolfman30/lumen-clinic/internal/appointments"
	"github.com/wolfman30/lumen-clinic/internal/patients"
)

// BuildRequest assembles a pending request for appts. Every appointment must
// belong to p and none may be invoiced already.
func BuildRequest(kind Type, p *patients.Patient, appts []*appointments.Appointment, uid string) (*Request, error) {
	if len(appts) == 0 {
		return nil, ErrNoAppointments
	}
	req := &Request{
		Type:           kind,
		AppointmentIDs: make([]string, 0, len(appts)),
		PatientID:      p.ID,
		PatientName:    p.Name,
		PatientDNI:     p.DNI,
		PatientEmail:   p.Email,
		LineItems:      make([]LineItem, 0, len(appts)),
		Status:         StatusPending,
		RequestedBy:    uid,
	}
	for _, a := range appts {
		if a.PatientID != p.ID {
			return nil, ErrForeignPatient
		}
		if a.BillingStatus == appointments.BillingInvoiced {
			return nil, ErrAlreadyInvoiced
		}
		req.AppointmentIDs = append(req.AppointmentIDs, a.ID)
		req.LineItems = append(req.LineItems, LineItem{Description: lineDescription(a), AmountCents: a.PriceCents})
		req.TotalPriceCents += a.PriceCents
	}
	return req, nil
}

func lineDescription(a *appointments.Appointment) string {
	kind := a.ConsultationType
	if kind == "" {
		kind = "Consulta"
	}
	return kind + " - " + a.Date
}

// SummaryStatus is a patient's invoicing progress for a set of sessions.
type SummaryStatus string

const (
	SummaryCompleted   SummaryStatus = "completed"
	SummaryPartial     SummaryStatus = "partial"
	SummaryReadyToBill SummaryStatus = "ready_to_bill"
)

// PatientSummary groups a patient's sessions for invoicing.
type PatientSummary struct {
	PatientID      string                      `json:"patient_id"`
	PatientName    string                      `json:"patient_name"`
	PatientEmail   string                      `json:"patient_email,omitempty"`
	SessionCount   int                         `json:"session_count"`
	TotalCents     int64                       `json:"total_cents"`
	Status         SummaryStatus               `json:"status"`
	AppointmentIDs []string                    `json:"appointment_ids"`
	Appointments   []*appointments.Appointment `json:"appointments"`
}

// GroupByPatient groups appts per patient, ordered by patient name, and
// derives each group's invoicing status.
func GroupByPatient(appts []*appointments.Appointment) []*PatientSummary {
	groups := map[string]*PatientSummary{}
	for _, a := range appts {
		g, ok := groups[a.PatientID]
		if !ok {
			g = &PatientSummary{
				PatientID:      a.PatientID,
				PatientName:    a.PatientName,
				PatientEmail:   a.PatientEmail,
				AppointmentIDs: []string{},
				Appointments:   []*appointments.Appointment{},
			}
			groups[a.PatientID] = g
		}
		g.SessionCount++
		g.TotalCents += a.PriceCents
		g.AppointmentIDs = append(g.AppointmentIDs, a.ID)
		g.Appointments = append(g.Appointments, a)
	}

	out := make([]*PatientSummary, 0, len(groups))
	for _, g := range groups {
		invoiced := 0
		for _, a := range g.Appointments {
			if a.BillingStatus == appointments.BillingInvoiced {
				invoiced++
			}
		}
		switch {
		case invoiced == len(g.Appointments):
			g.Status = SummaryCompleted
		case invoiced > 0:
			g.Status = SummaryPartial
		default:
			g.Status = SummaryReadyToBill
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PatientName != out[j].PatientName {
			return out[i].PatientName < out[j].PatientName
		}
		return out[i].PatientID < out[j].PatientID
	})
	return out
}
