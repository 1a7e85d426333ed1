package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/lumen-clinic/internal/appointments"
	"github.com/wolfman30/lumen-clinic/internal/dbutil"
)

const paymentColumns = `id, appointment_id, patient_id, patient_name, amount_cents, concept, method, paid_at, created_by_uid`

// Repository persists payments for one clinic.
type Repository struct {
	db           dbutil.DB
	clinicID     string
	appointments *appointments.Repository
	loc          *time.Location
}

// NewRepository creates a Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool, clinicID string) *Repository {
	if pool == nil {
		panic("payments: pgx pool required")
	}
	return NewRepositoryWithDB(pool, clinicID)
}

// NewRepositoryWithDB allows injecting a mock database for testing.
func NewRepositoryWithDB(db dbutil.DB, clinicID string) *Repository {
	return &Repository{db: db, clinicID: clinicID, appointments: appointments.NewRepositoryWithDB(db, clinicID), loc: time.UTC}
}

// WithLocation sets the clinic time zone used to bucket paid_at into calendar
// days. Payments are returned in that zone.
func (r *Repository) WithLocation(loc *time.Location) *Repository {
	if loc != nil {
		r.loc = loc
	}
	return r
}

// Record inserts p with a server timestamp. When p names an appointment the
// appointment is marked paid in the same transaction.
func (r *Repository) Record(ctx context.Context, p *Payment) error {
	if err := p.normalize(); err != nil {
		return err
	}
	txdb, ok := r.db.(dbutil.TxDB)
	if !ok {
		return fmt.Errorf("payments: record: database does not support transactions")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	tx, err := txdb.Begin(ctx)
	if err != nil {
		return fmt.Errorf("payments: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO payments (id, clinic_id, appointment_id, patient_id, patient_name, amount_cents, concept, method, created_by_uid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING paid_at
	`, p.ID, r.clinicID, p.AppointmentID, p.PatientID, p.PatientName, p.AmountCents, p.Concept, p.Method, p.CreatedByUID).Scan(&p.Date)
	if err != nil {
		return fmt.Errorf("payments: insert: %w", err)
	}
	p.Date = p.Date.In(r.loc)
	if p.AppointmentID != "" {
		if err := r.appointments.WithDB(tx).MarkPaid(ctx, p.AppointmentID); err != nil {
			return fmt.Errorf("payments: mark appointment paid: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("payments: commit: %w", err)
	}
	return nil
}

// Get returns one payment.
func (r *Repository) Get(ctx context.Context, id string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 AND clinic_id = $2`
	p, err := scanPayment(r.db.QueryRow(ctx, query, id, r.clinicID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payments: get: %w", err)
	}
	p.Date = p.Date.In(r.loc)
	return p, nil
}

// ListRecent returns the latest payments, newest first.
func (r *Repository) ListRecent(ctx context.Context) ([]*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE clinic_id = $1 ORDER BY paid_at DESC LIMIT $2`
	return r.list(ctx, query, r.clinicID, RecentLimit)
}

// ListByPatient returns a patient's payments, newest first.
func (r *Repository) ListByPatient(ctx context.Context, patientID string) ([]*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE clinic_id = $1 AND patient_id = $2 ORDER BY paid_at DESC`
	return r.list(ctx, query, r.clinicID, patientID)
}

// SumBetween totals payments received in [from, to). Both bounds are clinic
// calendar days starting at local midnight.
func (r *Repository) SumBetween(ctx context.Context, from, to string) (int64, error) {
	start, err := time.ParseInLocation(appointments.DateLayout, from, r.loc)
	if err != nil {
		return 0, appointments.ErrInvalidDate
	}
	end, err := time.ParseInLocation(appointments.DateLayout, to, r.loc)
	if err != nil {
		return 0, appointments.ErrInvalidDate
	}
	var total int64
	err = r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)::BIGINT FROM payments
		WHERE clinic_id = $1 AND paid_at >= $2 AND paid_at < $3
	`, r.clinicID, start, end).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("payments: sum: %w", err)
	}
	return total, nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]*Payment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("payments: list: %w", err)
	}
	defer rows.Close()

	out := []*Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("payments: scan: %w", err)
		}
		p.Date = p.Date.In(r.loc)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payments: list: %w", err)
	}
	return out, nil
}

// Update applies a partial edit and returns the stored payment.
func (r *Repository) Update(ctx context.Context, id string, u Update) (*Payment, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	set := dbutil.NewSetList(id, r.clinicID)
	if u.PatientName != nil {
		set.Add("patient_name", *u.PatientName)
	}
	if u.AmountCents != nil {
		set.Add("amount_cents", *u.AmountCents)
	}
	if u.Concept != nil {
		set.Add("concept", *u.Concept)
	}
	if u.Method != nil {
		set.Add("method", *u.Method)
	}
	if set.Empty() {
		return nil, ErrEmptyUpdate
	}
	query := `UPDATE payments SET ` + set.SQL() + ` WHERE id = $1 AND clinic_id = $2 RETURNING ` + paymentColumns
	p, err := scanPayment(r.db.QueryRow(ctx, query, set.Args()...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("payments: update: %w", err)
	}
	p.Date = p.Date.In(r.loc)
	return p, nil
}

// Delete removes a payment. The linked appointment keeps its paid flag.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM payments WHERE id = $1 AND clinic_id = $2`, id, r.clinicID)
	if err != nil {
		return fmt.Errorf("payments: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.AppointmentID, &p.PatientID, &p.PatientName, &p.AmountCents, &p.Concept, &p.Method, &p.Date, &p.CreatedByUID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
