package patients

import (
	"strings"
	"time"
)

// Source is how the patient reached the clinic.
type Source string

const (
	SourceParticular Source = "particular"
	SourcePsique     Source = "psique"
)

// Valid reports whether s is a known referral source.
func (s Source) Valid() bool {
	return s == SourceParticular || s == SourcePsique
}

// Patient is a person receiving care at the clinic.
type Patient struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	FirstName     string    `json:"first_name,omitempty"`
	LastName      string    `json:"last_name,omitempty"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	DNI           string    `json:"dni,omitempty"`
	Professional  string    `json:"professional,omitempty"`
	FeeCents      int64     `json:"fee_cents"`
	PatientSource Source    `json:"patient_source"`
	Preference    string    `json:"preference,omitempty"`
	IsActive      bool      `json:"is_active"`
	CreatedByUID  string    `json:"created_by_uid,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Update is a partial patient edit. Nil fields are left unchanged.
type Update struct {
	Name          *string `json:"name,omitempty"`
	FirstName     *string `json:"first_name,omitempty"`
	LastName      *string `json:"last_name,omitempty"`
	Email         *string `json:"email,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	DNI           *string `json:"dni,omitempty"`
	Professional  *string `json:"professional,omitempty"`
	FeeCents      *int64  `json:"fee_cents,omitempty"`
	PatientSource *Source `json:"patient_source,omitempty"`
	Preference    *string `json:"preference,omitempty"`
	IsActive      *bool   `json:"is_active,omitempty"`
}

// Filter narrows List.
type Filter struct {
	Professional string
	ActiveOnly   bool
}

// normalize trims input, derives Name from first/last names and applies defaults.
func (p *Patient) normalize() error {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		p.Name = strings.TrimSpace(p.FirstName + " " + p.LastName)
	}
	if p.Name == "" {
		return ErrInvalidName
	}
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Phone = strings.TrimSpace(p.Phone)
	p.DNI = strings.TrimSpace(p.DNI)
	if p.PatientSource == "" {
		p.PatientSource = SourceParticular
	}
	if !p.PatientSource.Valid() {
		return ErrInvalidSource
	}
	if p.FeeCents < 0 {
		return ErrInvalidFee
	}
	return nil
}

func (u Update) validate() error {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return ErrInvalidName
	}
	if u.PatientSource != nil && !u.PatientSource.Valid() {
		return ErrInvalidSource
	}
	if u.FeeCents != nil && *u.FeeCents < 0 {
		return ErrInvalidFee
	}
	return nil
}
