package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfman30/lumen-clinic/internal/dbutil"
)

const appointmentColumns = `id, patient_id, patient_name, patient_email, professional, date, time, duration,
	type, consultation_type, status, is_paid, price_cents, billing_status, invoice_number, invoice_url,
	exclude_from_psique, charge_on_cancellation, recurrence_id, recurrence_index, recurrence_rule,
	created_by_uid, created_at, updated_at`

const insertAppointment = `
	INSERT INTO appointments (
		id, clinic_id, patient_id, patient_name, patient_email, professional, date, time, duration,
		type, consultation_type, status, is_paid, price_cents, exclude_from_psique, charge_on_cancellation,
		recurrence_id, recurrence_index, recurrence_rule, created_by_uid
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	RETURNING created_at, updated_at
`

// Repository persists appointments for one clinic.
type Repository struct {
	db       dbutil.DB
	clinicID string
}

// NewRepository creates a Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool, clinicID string) *Repository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &Repository{db: pool, clinicID: clinicID}
}

// NewRepositoryWithDB allows injecting a mock database or transaction.
func NewRepositoryWithDB(db dbutil.DB, clinicID string) *Repository {
	return &Repository{db: db, clinicID: clinicID}
}

// WithDB returns a copy bound to db, typically a pgx.Tx.
func (r *Repository) WithDB(db dbutil.DB) *Repository {
	return &Repository{db: db, clinicID: r.clinicID}
}

// Create inserts a single appointment.
func (r *Repository) Create(ctx context.Context, a *Appointment) error {
	if err := a.normalize(); err != nil {
		return err
	}
	return r.insert(ctx, r.db, a)
}

// CreateSeries inserts base once per date inside one transaction. Every row
// shares a new recurrence id and carries its position in the series.
func (r *Repository) CreateSeries(ctx context.Context, base Appointment, dates []string, rule Rule) ([]*Appointment, error) {
	txdb, ok := r.db.(dbutil.TxDB)
	if !ok {
		return nil, fmt.Errorf("appointments: create series: database does not support transactions")
	}
	dates, err := normalizeDates(dates)
	if err != nil {
		return nil, err
	}
	base.Date = dates[0]
	if err := base.normalize(); err != nil {
		return nil, err
	}

	tx, err := txdb.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("appointments: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	seriesID := uuid.NewString()
	created := make([]*Appointment, 0, len(dates))
	for i, date := range dates {
		a := base
		a.ID = ""
		a.Date = date
		a.RecurrenceID = seriesID
		a.RecurrenceIndex = i
		a.RecurrenceRule = string(rule)
		if err := r.insert(ctx, tx, &a); err != nil {
			return nil, err
		}
		created = append(created, &a)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("appointments: commit series: %w", err)
	}
	return created, nil
}

func (r *Repository) insert(ctx context.Context, db dbutil.DB, a *Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	err := db.QueryRow(ctx, insertAppointment,
		a.ID, r.clinicID, a.PatientID, a.PatientName, a.PatientEmail, a.Professional, a.Date, a.Time, a.Duration,
		string(a.Type), a.ConsultationType, string(a.Status), a.IsPaid, a.PriceCents, a.ExcludeFromPsique, a.ChargeOnCancellation,
		a.RecurrenceID, a.RecurrenceIndex, a.RecurrenceRule, a.CreatedByUID,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("appointments: insert: %w", err)
	}
	return nil
}

// Get returns one appointment.
func (r *Repository) Get(ctx context.Context, id string) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1 AND clinic_id = $2`
	a, err := scanAppointment(r.db.QueryRow(ctx, query, id, r.clinicID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: get: %w", err)
	}
	return a, nil
}

// ListRange returns appointments with start <= date <= end, optionally for one professional.
func (r *Repository) ListRange(ctx context.Context, start, end, professional string) ([]*Appointment, error) {
	if err := ValidateDate(start); err != nil {
		return nil, err
	}
	if err := ValidateDate(end); err != nil {
		return nil, err
	}
	if start > end {
		return nil, ErrInvalidRange
	}
	query := `SELECT ` + appointmentColumns + ` FROM appointments
		WHERE clinic_id = $1 AND date >= $2 AND date <= $3`
	args := []any{r.clinicID, start, end}
	if prof := strings.TrimSpace(professional); prof != "" {
		args = append(args, prof)
		query += fmt.Sprintf(" AND professional = $%d", len(args))
	}
	query += " ORDER BY date, time"
	return r.list(ctx, query, args...)
}

// ListByPatient returns a patient's appointments, newest first.
func (r *Repository) ListByPatient(ctx context.Context, patientID string) ([]*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments
		WHERE clinic_id = $1 AND patient_id = $2
		ORDER BY date DESC, time DESC`
	return r.list(ctx, query, r.clinicID, patientID)
}

// ListUnpaid returns unpaid appointments that are still owed, newest first.
func (r *Repository) ListUnpaid(ctx context.Context) ([]*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments
		WHERE clinic_id = $1 AND is_paid = FALSE
		  AND (status <> 'cancelado' OR charge_on_cancellation)
		ORDER BY date DESC, time DESC`
	return r.list(ctx, query, r.clinicID)
}

// ListByIDs returns the named appointments in date order.
func (r *Repository) ListByIDs(ctx context.Context, ids []string) ([]*Appointment, error) {
	if len(ids) == 0 {
		return []*Appointment{}, nil
	}
	query := `SELECT ` + appointmentColumns + ` FROM appointments
		WHERE clinic_id = $1 AND id = ANY($2)
		ORDER BY date, time`
	return r.list(ctx, query, r.clinicID, ids)
}

// ListBillable returns paid, not yet invoiced, non-cancelled appointments.
func (r *Repository) ListBillable(ctx context.Context) ([]*Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments
		WHERE clinic_id = $1 AND is_paid AND billing_status <> 'invoiced' AND status <> 'cancelado'
		ORDER BY patient_name, date`
	return r.list(ctx, query, r.clinicID)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]*Appointment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("appointments: list: %w", err)
	}
	defer rows.Close()

	out := []*Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: list: %w", err)
	}
	return out, nil
}

// Update applies a partial edit and returns the stored appointment.
func (r *Repository) Update(ctx context.Context, id string, u Update) (*Appointment, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	set := dbutil.NewSetList(id, r.clinicID)
	if u.PatientID != nil {
		set.Add("patient_id", strings.TrimSpace(*u.PatientID))
	}
	if u.PatientName != nil {
		set.Add("patient_name", *u.PatientName)
	}
	if u.PatientEmail != nil {
		set.Add("patient_email", *u.PatientEmail)
	}
	if u.Professional != nil {
		set.Add("professional", *u.Professional)
	}
	if u.Date != nil {
		set.Add("date", *u.Date)
	}
	if u.Time != nil {
		set.Add("time", *u.Time)
	}
	if u.Duration != nil {
		set.Add("duration", *u.Duration)
	}
	if u.Type != nil {
		set.Add("type", string(*u.Type))
	}
	if u.ConsultationType != nil {
		set.Add("consultation_type", *u.ConsultationType)
	}
	if u.Status != nil {
		set.Add("status", string(*u.Status))
	}
	if u.IsPaid != nil {
		set.Add("is_paid", *u.IsPaid)
	}
	if u.PriceCents != nil {
		set.Add("price_cents", *u.PriceCents)
	}
	if u.ExcludeFromPsique != nil {
		set.Add("exclude_from_psique", *u.ExcludeFromPsique)
	}
	if u.ChargeOnCancellation != nil {
		set.Add("charge_on_cancellation", *u.ChargeOnCancellation)
	}
	if set.Empty() {
		return nil, ErrEmptyUpdate
	}

	query := `UPDATE appointments SET ` + set.SQL() + `, updated_at = NOW()
		WHERE id = $1 AND clinic_id = $2
		RETURNING ` + appointmentColumns
	a, err := scanAppointment(r.db.QueryRow(ctx, query, set.Args()...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("appointments: update: %w", err)
	}
	return a, nil
}

// MarkPaid flags an appointment as paid.
func (r *Repository) MarkPaid(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE appointments SET is_paid = TRUE, updated_at = NOW() WHERE id = $1 AND clinic_id = $2`, id, r.clinicID)
	if err != nil {
		return fmt.Errorf("appointments: mark paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// SetBillingStatus updates invoicing fields on every listed appointment and
// returns how many rows changed.
func (r *Repository) SetBillingStatus(ctx context.Context, ids []string, status BillingStatus, invoiceNumber, invoiceURL string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET billing_status = $3, invoice_number = $4, invoice_url = $5, updated_at = NOW()
		WHERE clinic_id = $1 AND id = ANY($2)
	`, r.clinicID, ids, string(status), invoiceNumber, invoiceURL)
	if err != nil {
		return 0, fmt.Errorf("appointments: set billing status: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes a single appointment.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1 AND clinic_id = $2`, id, r.clinicID)
	if err != nil {
		return fmt.Errorf("appointments: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// DeleteSeries removes every appointment of a series and returns the deleted ids.
func (r *Repository) DeleteSeries(ctx context.Context, seriesID string) ([]string, error) {
	return r.deleteIDs(ctx, `DELETE FROM appointments WHERE clinic_id = $1 AND recurrence_id = $2 RETURNING id`, r.clinicID, seriesID)
}

// DeleteSeriesFromDate removes series appointments dated on or after fromDate.
func (r *Repository) DeleteSeriesFromDate(ctx context.Context, seriesID, fromDate string) ([]string, error) {
	if err := ValidateDate(fromDate); err != nil {
		return nil, err
	}
	return r.deleteIDs(ctx, `DELETE FROM appointments WHERE clinic_id = $1 AND recurrence_id = $2 AND date >= $3 RETURNING id`, r.clinicID, seriesID, fromDate)
}

func (r *Repository) deleteIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	if seriesID, _ := args[1].(string); strings.TrimSpace(seriesID) == "" {
		return []string{}, nil
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("appointments: delete series: %w", err)
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("appointments: delete series: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: delete series: %w", err)
	}
	return ids, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a       Appointment
		kind    string
		status  string
		billing string
	)
	err := row.Scan(
		&a.ID, &a.PatientID, &a.PatientName, &a.PatientEmail, &a.Professional, &a.Date, &a.Time, &a.Duration,
		&kind, &a.ConsultationType, &status, &a.IsPaid, &a.PriceCents, &billing, &a.InvoiceNumber, &a.InvoiceURL,
		&a.ExcludeFromPsique, &a.ChargeOnCancellation, &a.RecurrenceID, &a.RecurrenceIndex, &a.RecurrenceRule,
		&a.CreatedByUID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Type = Kind(kind)
	a.Status = Status(status)
	a.BillingStatus = BillingStatus(billing)
	return &a, nil
}
