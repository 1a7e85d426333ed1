package payments

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidAmount   = errors.New("amount_cents must be positive")
	ErrMissingPatient  = errors.New("patient_id is required")
	ErrEmptyUpdate     = errors.New("no fields to update")
	ErrPaymentNotFound = errors.New("payment not found")
)

// RecentLimit caps ListRecent.
const RecentLimit = 50

// Payment is money received from a patient, optionally settling one appointment.
type Payment struct {
	ID            string    `json:"id"`
	AppointmentID string    `json:"appointment_id,omitempty"`
	PatientID     string    `json:"patient_id"`
	PatientName   string    `json:"patient_name"`
	AmountCents   int64     `json:"amount_cents"`
	Concept       string    `json:"concept,omitempty"`
	Method        string    `json:"method,omitempty"`
	Date          time.Time `json:"date"`
	CreatedByUID  string    `json:"created_by_uid,omitempty"`
}

// Update is a partial edit. The payment date is server-assigned and cannot change.
type Update struct {
	PatientName *string `json:"patient_name,omitempty"`
	AmountCents *int64  `json:"amount_cents,omitempty"`
	Concept     *string `json:"concept,omitempty"`
	Method      *string `json:"method,omitempty"`
}

func (p *Payment) normalize() error {
	p.PatientID = strings.TrimSpace(p.PatientID)
	p.AppointmentID = strings.TrimSpace(p.AppointmentID)
	if p.PatientID == "" {
		return ErrMissingPatient
	}
	if p.AmountCents <= 0 {
		return ErrInvalidAmount
	}
	p.Concept = strings.TrimSpace(p.Concept)
	p.Method = strings.TrimSpace(p.Method)
	return nil
}

func (u Update) validate() error {
	if u.AmountCents != nil && *u.AmountCents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
