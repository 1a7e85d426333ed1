package appointments

import (
	"strings"
	"time"
)

// DateLayout is the stored calendar date format.
const DateLayout = "2006-01-02"

// TimeLayout is the stored wall-clock format.
const TimeLayout = "15:04"

// Status is the appointment lifecycle state.
type Status string

const (
	StatusScheduled Status = "programado"
	StatusCompleted Status = "completado"
	StatusCancelled Status = "cancelado"
)

func (s Status) Valid() bool {
	return s == StatusScheduled || s == StatusCompleted || s == StatusCancelled
}

// Kind is where the session takes place.
type Kind string

const (
	KindInPerson Kind = "presencial"
	KindOnline   Kind = "online"
)

func (k Kind) Valid() bool { return k == KindInPerson || k == KindOnline }

// BillingStatus tracks invoicing of a single appointment.
type BillingStatus string

const (
	BillingNone      BillingStatus = ""
	BillingRequested BillingStatus = "requested"
	BillingInvoiced  BillingStatus = "invoiced"
)

// Appointment is one scheduled session.
type Appointment struct {
	ID                   string        `json:"id"`
	PatientID            string        `json:"patient_id"`
	PatientName          string        `json:"patient_name"`
	PatientEmail         string        `json:"patient_email,omitempty"`
	Professional         string        `json:"professional,omitempty"`
	Date                 string        `json:"date"`
	Time                 string        `json:"time"`
	Duration             int           `json:"duration"`
	Type                 Kind          `json:"type"`
	ConsultationType     string        `json:"consultation_type,omitempty"`
	Status               Status        `json:"status"`
	IsPaid               bool          `json:"is_paid"`
	PriceCents           int64         `json:"price_cents"`
	BillingStatus        BillingStatus `json:"billing_status,omitempty"`
	InvoiceNumber        string        `json:"invoice_number,omitempty"`
	InvoiceURL           string        `json:"invoice_url,omitempty"`
	ExcludeFromPsique    bool          `json:"exclude_from_psique"`
	ChargeOnCancellation bool          `json:"charge_on_cancellation"`
	RecurrenceID         string        `json:"recurrence_id,omitempty"`
	RecurrenceIndex      int           `json:"recurrence_index,omitempty"`
	RecurrenceRule       string        `json:"recurrence_rule,omitempty"`
	CreatedByUID         string        `json:"created_by_uid,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// Billable reports whether the session counts as owed: not cancelled, or
// cancelled with a cancellation charge.
func (a *Appointment) Billable() bool {
	return a.Status != StatusCancelled || a.ChargeOnCancellation
}

// Update is a partial edit. Nil fields are left unchanged.
type Update struct {
	PatientID            *string `json:"patient_id,omitempty"`
	PatientName          *string `json:"patient_name,omitempty"`
	PatientEmail         *string `json:"patient_email,omitempty"`
	Professional         *string `json:"professional,omitempty"`
	Date                 *string `json:"date,omitempty"`
	Time                 *string `json:"time,omitempty"`
	Duration             *int    `json:"duration,omitempty"`
	Type                 *Kind   `json:"type,omitempty"`
	ConsultationType     *string `json:"consultation_type,omitempty"`
	Status               *Status `json:"status,omitempty"`
	IsPaid               *bool   `json:"is_paid,omitempty"`
	PriceCents           *int64  `json:"price_cents,omitempty"`
	ExcludeFromPsique    *bool   `json:"exclude_from_psique,omitempty"`
	ChargeOnCancellation *bool   `json:"charge_on_cancellation,omitempty"`
}

func (a *Appointment) normalize() error {
	a.PatientID = strings.TrimSpace(a.PatientID)
	if a.PatientID == "" {
		return ErrMissingPatient
	}
	if err := ValidateDate(a.Date); err != nil {
		return err
	}
	if err := validateTime(a.Time); err != nil {
		return err
	}
	if a.Status == "" {
		a.Status = StatusScheduled
	}
	if !a.Status.Valid() {
		return ErrInvalidStatus
	}
	if a.Type == "" {
		a.Type = KindInPerson
	}
	if !a.Type.Valid() {
		return ErrInvalidType
	}
	if a.Duration <= 0 {
		a.Duration = 50
	}
	if a.PriceCents < 0 {
		return ErrInvalidPrice
	}
	return nil
}

func (u Update) validate() error {
	if u.PatientID != nil && strings.TrimSpace(*u.PatientID) == "" {
		return ErrMissingPatient
	}
	if u.Date != nil {
		if err := ValidateDate(*u.Date); err != nil {
			return err
		}
	}
	if u.Time != nil {
		if err := validateTime(*u.Time); err != nil {
			return err
		}
	}
	if u.Status != nil && !u.Status.Valid() {
		return ErrInvalidStatus
	}
	if u.Type != nil && !u.Type.Valid() {
		return ErrInvalidType
	}
	if u.PriceCents != nil && *u.PriceCents < 0 {
		return ErrInvalidPrice
	}
	if u.Duration != nil && *u.Duration <= 0 {
		return ErrInvalidDuration
	}
	return nil
}

// ValidateDate checks the YYYY-MM-DD format.
func ValidateDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return ErrInvalidDate
	}
	return nil
}

func validateTime(clock string) error {
	if clock == "" {
		return nil
	}
	if _, err := time.Parse(TimeLayout, clock); err != nil {
		return ErrInvalidTime
	}
	return nil
}

// MonthRange returns the first and last calendar dates of a YYYY-MM month.
func MonthRange(month string) (string, string, error) {
	first, err := time.Parse("2006-01", month)
	if err != nil {
		return "", "", ErrInvalidMonth
	}
	last := first.AddDate(0, 1, -1)
	return first.Format(DateLayout), last.Format(DateLayout), nil
}

// DefaultWindow is the range clients load when none is given: from the first
// day of the month three months back to the last day six months ahead.
func DefaultWindow(now time.Time) (string, string) {
	y, m, _ := now.Date()
	start := time.Date(y, m-3, 1, 0, 0, 0, 0, now.Location())
	end := time.Date(y, m+7, 0, 0, 0, 0, 0, now.Location())
	return start.Format(DateLayout), end.Format(DateLayout)
}
