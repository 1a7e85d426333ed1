package appointments

import "errors"

var (
	ErrMissingPatient  = errors.New("patient_id is required")
	ErrInvalidDate     = errors.New("date must be YYYY-MM-DD")
	ErrInvalidTime     = errors.New("time must be HH:MM")
	ErrInvalidMonth    = errors.New("month must be YYYY-MM")
	ErrInvalidStatus   = errors.New("status must be programado, completado or cancelado")
	ErrInvalidType     = errors.New("type must be presencial or online")
	ErrInvalidPrice    = errors.New("price_cents cannot be negative")
	ErrInvalidDuration = errors.New("duration must be positive")
	ErrInvalidRange    = errors.New("start must not be after end")
	ErrNoDates         = errors.New("at least one date is required")
	ErrTooManyDates    = errors.New("too many occurrences")
	ErrInvalidRule     = errors.New("rule must be WEEKLY, BIWEEKLY or MONTHLY")
	ErrEmptyUpdate     = errors.New("no fields to update")

	// ErrAppointmentNotFound is returned when an appointment is not found
	ErrAppointmentNotFound = errors.New("appointment not found")
)
