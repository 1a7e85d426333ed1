package billing

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an invoice request.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
	StatusErrorConfig  Status = "error_config"
	StatusErrorSending Status = "error_sending"
)

// Retryable reports whether staff may re-queue a request in status s. A
// workflow-reported error is final; the sessions can be requested again.
func (s Status) Retryable() bool {
	return s == StatusErrorConfig || s == StatusErrorSending
}

// Type distinguishes batch requests from single-appointment ones.
type Type string

const (
	TypeBatch  Type = "batch"
	TypeSingle Type = "single"
)

var (
	ErrRequestNotFound = errors.New("billing request not found")
	ErrNoAppointments  = errors.New("at least one appointment is required")
	ErrMissingPatient  = errors.New("patient_id is required")
	ErrForeignPatient  = errors.New("appointment belongs to another patient")
	ErrAlreadyInvoiced = errors.New("appointment already invoiced")
	ErrMissingAppts    = errors.New("one or more appointments not found")
	ErrNotRetryable    = errors.New("only failed or stalled requests can be retried")
	ErrNotAwaiting     = errors.New("billing request is not awaiting a workflow callback")
	ErrAlreadyComplete = errors.New("billing request already completed")
	ErrInvalidStatus   = errors.New("status must be completed or error")
	ErrUnauthorized    = errors.New("invalid webhook secret")
)

// LineItem is one invoice line.
type LineItem struct {
	Description string `json:"description"`
	AmountCents int64  `json:"amount_cents"`
}

// Request is an invoice request queued for the external invoicing workflow.
type Request struct {
	ID              string     `json:"id"`
	Type            Type       `json:"type"`
	AppointmentIDs  []string   `json:"appointment_ids"`
	PatientID       string     `json:"patient_id"`
	PatientName     string     `json:"patient_name"`
	PatientDNI      string     `json:"patient_dni"`
	PatientEmail    string     `json:"patient_email"`
	TotalPriceCents int64      `json:"total_price_cents"`
	LineItems       []LineItem `json:"line_items"`
	Status          Status     `json:"status"`
	RetryCount      int        `json:"retry_count"`
	RequestedBy     string     `json:"requested_by"`
	InvoiceNumber   string     `json:"invoice_number,omitempty"`
	InvoiceURL      string     `json:"invoice_url,omitempty"`
	DebugError      string     `json:"debug_error,omitempty"`
	RequestedAt     time.Time  `json:"requested_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Completion is the callback body sent by the invoicing workflow.
type Completion struct {
	QueueDocID    string `json:"queueDocId"`
	Status        Status `json:"status"`
	InvoiceNumber string `json:"invoiceNumber"`
	InvoiceURL    string `json:"invoiceUrl"`
	Error         string `json:"error"`
}

func (c Completion) validate() error {
	if c.Status != StatusCompleted && c.Status != StatusError {
		return ErrInvalidStatus
	}
	return nil
}
