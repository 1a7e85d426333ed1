// Package staff stores profiles of clinic professionals and administrators.
package staff

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/lumen-clinic/internal/changes"
	"github.com/wolfman30/lumen-clinic/internal/dbutil"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// Role is a staff member's permission level.
type Role string

const (
	RoleProfessional Role = "professional"
	RoleAdmin        Role = "admin"
)

var (
	ErrMissingUID     = errors.New("uid is required")
	ErrInvalidRole    = errors.New("role must be professional or admin")
	ErrEmptyUpdate    = errors.New("no fields to update")
	ErrProfileExists  = errors.New("profile already exists")
	errProfileMissing = errors.New("profile not found")
)

// Profile describes a signed-in staff member. Name doubles as the
// professional label on patients and appointments.
type Profile struct {
	UID       string    `json:"uid"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Specialty string    `json:"specialty,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Update merges into an existing profile. Nil fields are kept.
type Update struct {
	Email     *string `json:"email,omitempty"`
	Name      *string `json:"name,omitempty"`
	Role      *Role   `json:"role,omitempty"`
	Specialty *string `json:"specialty,omitempty"`
}

const profileColumns = `uid, email, name, role, specialty, created_at, updated_at`

// Repository persists staff profiles.
type Repository struct {
	db       dbutil.DB
	clinicID string
	changes  changes.Publisher
	logger   *logging.Logger
}

// NewRepository creates a Postgres-backed repository.
func NewRepository(pool *pgxpool.Pool, clinicID string, publisher changes.Publisher, logger *logging.Logger) *Repository {
	if pool == nil {
		panic("staff: pgx pool required")
	}
	return NewRepositoryWithDB(pool, clinicID, publisher, logger)
}

// NewRepositoryWithDB allows injecting a mock database for testing.
func NewRepositoryWithDB(db dbutil.DB, clinicID string, publisher changes.Publisher, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.Default()
	}
	return &Repository{db: db, clinicID: clinicID, changes: changes.OrNop(publisher), logger: logger}
}

// Create stores the profile for uid. Role defaults to professional.
func (r *Repository) Create(ctx context.Context, uid string, p Profile) (*Profile, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrMissingUID
	}
	if p.Role == "" {
		p.Role = RoleProfessional
	}
	if p.Role != RoleProfessional && p.Role != RoleAdmin {
		return nil, ErrInvalidRole
	}
	p.UID = uid
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))

	err := r.db.QueryRow(ctx, `
		INSERT INTO staff_profiles (uid, clinic_id, email, name, role, specialty)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uid) DO NOTHING
		RETURNING created_at, updated_at
	`, p.UID, r.clinicID, p.Email, p.Name, string(p.Role), p.Specialty).Scan(&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProfileExists
	}
	if err != nil {
		return nil, fmt.Errorf("staff: insert profile: %w", err)
	}
	r.publish(ctx, changes.OpCreate, uid)
	return &p, nil
}

// Update merges u into the profile for uid.
func (r *Repository) Update(ctx context.Context, uid string, u Update) (*Profile, error) {
	if u.Role != nil && *u.Role != RoleProfessional && *u.Role != RoleAdmin {
		return nil, ErrInvalidRole
	}
	set := dbutil.NewSetList(uid, r.clinicID)
	if u.Email != nil {
		set.Add("email", strings.ToLower(strings.TrimSpace(*u.Email)))
	}
	if u.Name != nil {
		set.Add("name", strings.TrimSpace(*u.Name))
	}
	if u.Role != nil {
		set.Add("role", string(*u.Role))
	}
	if u.Specialty != nil {
		set.Add("specialty", *u.Specialty)
	}
	if set.Empty() {
		return nil, ErrEmptyUpdate
	}
	query := `UPDATE staff_profiles SET ` + set.SQL() + `, updated_at = NOW()
		WHERE uid = $1 AND clinic_id = $2
		RETURNING ` + profileColumns
	p, err := scanProfile(r.db.QueryRow(ctx, query, set.Args()...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errProfileMissing
	}
	if err != nil {
		return nil, fmt.Errorf("staff: update profile: %w", err)
	}
	r.publish(ctx, changes.OpUpdate, uid)
	return p, nil
}

// Get returns the profile for uid, or nil when none exists.
func (r *Repository) Get(ctx context.Context, uid string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM staff_profiles WHERE uid = $1 AND clinic_id = $2`
	p, err := scanProfile(r.db.QueryRow(ctx, query, uid, r.clinicID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("staff: get profile: %w", err)
	}
	return p, nil
}

func (r *Repository) publish(ctx context.Context, op changes.Op, uid string) {
	if err := r.changes.Publish(ctx, changes.New(changes.StaffProfiles, op, uid)); err != nil {
		r.logger.Warn("failed to publish staff change", "error", err, "uid", uid)
	}
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var (
		p    Profile
		role string
	)
	if err := row.Scan(&p.UID, &p.Email, &p.Name, &role, &p.Specialty, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Role = Role(role)
	return &p, nil
}
