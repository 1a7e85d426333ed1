package patients

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

const patientColumns = `id, name, first_name, last_name, email, phone, dni, professional,
	fee_cents, patient_source, preference, is_active, created_by_uid, created_at, updated_at`

// Repository persists patients for one clinic.
type Repository struct {
	db       dbutil.DB
	clinicID string
}

// NewRepository creates a Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool, clinicID string) *Repository {
	if pool == nil {
		panic("patients: pgx pool required")
	}
	return &Repository{db: pool, clinicID: clinicID}
}

// NewRepositoryWithDB allows injecting a mock database for testing.
func NewRepositoryWithDB(db dbutil.DB, clinicID string) *Repository {
	return &Repository{db: db, clinicID: clinicID}
}

// Create inserts p and fills its id and timestamps.
func (r *Repository) Create(ctx context.Context, p *Patient) error {
	if err := p.normalize(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	query := `
		INSERT INTO patients (
			id, clinic_id, name, first_name, last_name, email, phone, dni, professional,
			fee_cents, patient_source, preference, is_active, created_by_uid
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		p.ID, r.clinicID, p.Name, p.FirstName, p.LastName, p.Email, p.Phone, p.DNI, p.Professional,
		p.FeeCents, string(p.PatientSource), p.Preference, p.IsActive, p.CreatedByUID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("patients: insert: %w", err)
	}
	return nil
}

// Get returns one patient.
func (r *Repository) Get(ctx context.Context, id string) (*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1 AND clinic_id = $2`
	p, err := scanPatient(r.db.QueryRow(ctx, query, id, r.clinicID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("patients: get: %w", err)
	}
	return p, nil
}

// List returns patients ordered by name.
func (r *Repository) List(ctx context.Context, filter Filter) ([]*Patient, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE clinic_id = $1`
	args := []any{r.clinicID}
	if prof := strings.TrimSpace(filter.Professional); prof != "" {
		args = append(args, prof)
		query += fmt.Sprintf(" AND professional = $%d", len(args))
	}
	if filter.ActiveOnly {
		query += " AND is_active"
	}
	query += " ORDER BY name"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("patients: list: %w", err)
	}
	defer rows.Close()

	out := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("patients: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("patients: list: %w", err)
	}
	return out, nil
}

// IDsBySource returns the ids of patients with the given referral source.
func (r *Repository) IDsBySource(ctx context.Context, source Source) (map[string]bool, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM patients WHERE clinic_id = $1 AND patient_source = $2`, r.clinicID, string(source))
	if err != nil {
		return nil, fmt.Errorf("patients: ids by source: %w", err)
	}
	defer rows.Close()
	ids := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("patients: scan id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// Update applies a partial edit and returns the stored patient.
func (r *Repository) Update(ctx context.Context, id string, u Update) (*Patient, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	set := dbutil.NewSetList(id, r.clinicID)
	if u.Name != nil {
		set.Add("name", strings.TrimSpace(*u.Name))
	}
	if u.FirstName != nil {
		set.Add("first_name", strings.TrimSpace(*u.FirstName))
	}
	if u.LastName != nil {
		set.Add("last_name", strings.TrimSpace(*u.LastName))
	}
	if u.Email != nil {
		set.Add("email", strings.ToLower(strings.TrimSpace(*u.Email)))
	}
	if u.Phone != nil {
		set.Add("phone", strings.TrimSpace(*u.Phone))
	}
	if u.DNI != nil {
		set.Add("dni", strings.TrimSpace(*u.DNI))
	}
	if u.Professional != nil {
		set.Add("professional", *u.Professional)
	}
	if u.FeeCents != nil {
		set.Add("fee_cents", *u.FeeCents)
	}
	if u.PatientSource != nil {
		set.Add("patient_source", string(*u.PatientSource))
	}
	if u.Preference != nil {
		set.Add("preference", *u.Preference)
	}
	if u.IsActive != nil {
		set.Add("is_active", *u.IsActive)
	}
	if set.Empty() {
		return nil, ErrEmptyUpdate
	}

	query := `UPDATE patients SET ` + set.SQL() + `, updated_at = NOW()
		WHERE id = $1 AND clinic_id = $2
		RETURNING ` + patientColumns
	p, err := scanPatient(r.db.QueryRow(ctx, query, set.Args()...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("patients: update: %w", err)
	}
	return p, nil
}

// Delete removes a patient. Appointments and payments keep their denormalized copy.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM patients WHERE id = $1 AND clinic_id = $2`, id, r.clinicID)
	if err != nil {
		return fmt.Errorf("patients: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var (
		p      Patient
		source string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.FirstName, &p.LastName, &p.Email, &p.Phone, &p.DNI, &p.Professional,
		&p.FeeCents, &source, &p.Preference, &p.IsActive, &p.CreatedByUID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.PatientSource = Source(source)
	return &p, nil
}
