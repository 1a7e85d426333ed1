package patients

import "errors"

var (
	// ErrInvalidName is returned when neither name nor first/last name is given
	ErrInvalidName = errors.New("name is required")

	// ErrInvalidSource is returned for an unknown patient_source
	ErrInvalidSource = errors.New("patient_source must be particular or psique")

	// ErrInvalidFee is returned for a negative fee
	ErrInvalidFee = errors.New("fee_cents cannot be negative")

	// ErrPatientNotFound is returned when a patient is not found
	ErrPatientNotFound = errors.New("patient not found")

	// ErrEmptyUpdate is returned when an update sets no fields
	ErrEmptyUpdate = errors.New("no fields to update")
)
