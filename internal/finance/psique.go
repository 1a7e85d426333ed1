// Package finance computes the Psique referral fee, outstanding debt and
// income overviews, and keeps monthly Psique settlements.
package finance

import (
	"sort"
	"strings"

	"github.com/wolfman30/lumen-clinic/internal/appointments"
)

// PsiqueRate is the share of a session fee owed to Psique for referred patients.
const PsiqueRate = 0.25

// psiqueRateBasisPoints is PsiqueRate in hundredths of a percent, for integer math.
const psiqueRateBasisPoints = 2500

// PsiqueAmount returns PsiqueRate of cents, rounded half up.
func PsiqueAmount(cents int64) int64 {
	if cents <= 0 {
		return 0
	}
	return (cents*psiqueRateBasisPoints + 5000) / 10000
}

// PatientBreakdown is one patient's share of a Psique month.
type PatientBreakdown struct {
	PatientID    string `json:"patient_id"`
	PatientName  string `json:"patient_name"`
	SessionCount int    `json:"session_count"`
	TotalCents   int64  `json:"total_cents"`
	PsiqueCents  int64  `json:"psique_cents"`
}

// MonthResult is the Psique fee owed for one month.
type MonthResult struct {
	Month        string             `json:"month"`
	Professional string             `json:"professional,omitempty"`
	Patients     []PatientBreakdown `json:"patients"`
	TotalCents   int64              `json:"total_cents"`
	IsPaid       bool               `json:"is_paid"`
	PaidDate     string             `json:"paid_date,omitempty"`
}

// CalculatePsiqueMonth totals the Psique fee for month (YYYY-MM). Only paid,
// non-cancelled appointments of psique patients count, minus those flagged
// exclude_from_psique. When professional is set only their sessions count.
// The settlement for the month, if any, is looked up in settlements by key.
func CalculatePsiqueMonth(appts []*appointments.Appointment, psiquePatients map[string]bool, month string, settlements map[string]*Settlement, professional string) MonthResult {
	professional = strings.TrimSpace(professional)
	byPatient := map[string]*PatientBreakdown{}
	for _, a := range appts {
		if !strings.HasPrefix(a.Date, month+"-") {
			continue
		}
		if !a.IsPaid || a.Status == appointments.StatusCancelled || a.ExcludeFromPsique {
			continue
		}
		if !psiquePatients[a.PatientID] {
			continue
		}
		if professional != "" && a.Professional != professional {
			continue
		}
		b, ok := byPatient[a.PatientID]
		if !ok {
			b = &PatientBreakdown{PatientID: a.PatientID, PatientName: a.PatientName}
			byPatient[a.PatientID] = b
		}
		b.SessionCount++
		b.TotalCents += a.PriceCents
	}

	res := MonthResult{Month: month, Professional: professional, Patients: make([]PatientBreakdown, 0, len(byPatient))}
	for _, b := range byPatient {
		b.PsiqueCents = PsiqueAmount(b.TotalCents)
		res.TotalCents += b.PsiqueCents
		res.Patients = append(res.Patients, *b)
	}
	sort.Slice(res.Patients, func(i, j int) bool {
		if res.Patients[i].PatientName != res.Patients[j].PatientName {
			return res.Patients[i].PatientName < res.Patients[j].PatientName
		}
		return res.Patients[i].PatientID < res.Patients[j].PatientID
	})
	if s, ok := settlements[SettlementKey(month, professional)]; ok && s != nil {
		res.IsPaid = s.IsPaid
		res.PaidDate = s.PaidDate
	}
	return res
}

var keyReplacer = strings.NewReplacer("/", "_", ".", "_", "#", "_", "$", "_", "[", "_", "]", "_")

// SettlementKey identifies a month's settlement, per professional when given.
func SettlementKey(month, professional string) string {
	professional = strings.TrimSpace(professional)
	if professional == "" {
		return month
	}
	return month + "_" + keyReplacer.Replace(professional)
}
