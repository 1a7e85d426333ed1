package finance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/lumen-clinic/internal/dbutil"
)

// Settlement records whether a month's Psique fee was paid.
type Settlement struct {
	Key          string    `json:"key"`
	Month        string    `json:"month"`
	Professional string    `json:"professional,omitempty"`
	TotalCents   int64     `json:"total_cents"`
	IsPaid       bool      `json:"is_paid"`
	PaidDate     string    `json:"paid_date,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const settlementColumns = `key, month, professional, total_cents, is_paid, paid_date, updated_at`

// SettlementRepository persists Psique settlements.
type SettlementRepository struct {
	db       dbutil.DB
	clinicID string
}

func NewSettlementRepository(pool *pgxpool.Pool, clinicID string) *SettlementRepository {
	if pool == nil {
		panic("finance: pgx pool required")
	}
	return &SettlementRepository{db: pool, clinicID: clinicID}
}

func NewSettlementRepositoryWithDB(db dbutil.DB, clinicID string) *SettlementRepository {
	return &SettlementRepository{db: db, clinicID: clinicID}
}

// Upsert merges s into the stored settlement. An unpaid write keeps the
// previous paid_date.
func (r *SettlementRepository) Upsert(ctx context.Context, s *Settlement) error {
	row := r.db.QueryRow(ctx, `
		INSERT INTO psique_settlements (clinic_id, key, month, professional, total_cents, is_paid, paid_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (clinic_id, key) DO UPDATE SET
			month = EXCLUDED.month,
			professional = EXCLUDED.professional,
			total_cents = EXCLUDED.total_cents,
			is_paid = EXCLUDED.is_paid,
			paid_date = CASE WHEN EXCLUDED.is_paid THEN EXCLUDED.paid_date ELSE psique_settlements.paid_date END,
			updated_at = NOW()
		RETURNING `+settlementColumns,
		r.clinicID, s.Key, s.Month, s.Professional, s.TotalCents, s.IsPaid, s.PaidDate)
	stored, err := scanSettlement(row)
	if err != nil {
		return fmt.Errorf("finance: upsert settlement: %w", err)
	}
	*s = *stored
	return nil
}

// Get returns the settlement stored under key, or nil.
func (r *SettlementRepository) Get(ctx context.Context, key string) (*Settlement, error) {
	s, err := scanSettlement(r.db.QueryRow(ctx,
		`SELECT `+settlementColumns+` FROM psique_settlements WHERE clinic_id = $1 AND key = $2`, r.clinicID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finance: get settlement: %w", err)
	}
	return s, nil
}

// List returns a professional's settlements keyed by settlement key. An
// empty professional lists the clinic-wide settlements.
func (r *SettlementRepository) List(ctx context.Context, professional string) (map[string]*Settlement, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+settlementColumns+` FROM psique_settlements
		WHERE clinic_id = $1 AND professional = $2
		ORDER BY month DESC`, r.clinicID, professional)
	if err != nil {
		return nil, fmt.Errorf("finance: list settlements: %w", err)
	}
	defer rows.Close()

	out := map[string]*Settlement{}
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("finance: scan settlement: %w", err)
		}
		out[s.Key] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("finance: list settlements: %w", err)
	}
	return out, nil
}

func scanSettlement(row pgx.Row) (*Settlement, error) {
	var s Settlement
	if err := row.Scan(&s.Key, &s.Month, &s.Professional, &s.TotalCents, &s.IsPaid, &s.PaidDate, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}
