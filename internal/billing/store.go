package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/lumen-clinic/internal/dbutil"
)

const requestColumns = `id, type, appointment_ids, patient_id, patient_name, patient_dni, patient_email,
	total_price_cents, line_items, status, retry_count, requested_by, invoice_number, invoice_url,
	debug_error, requested_at, updated_at`

// Store persists invoice requests in Postgres.
type Store struct {
	db       dbutil.DB
	clinicID string
}

// NewStore creates a store for one clinic.
func NewStore(db dbutil.DB, clinicID string) *Store {
	if db == nil {
		panic("billing: database required")
	}
	return &Store{db: db, clinicID: clinicID}
}

// WithDB returns a copy bound to db, typically a pgx.Tx.
func (s *Store) WithDB(db dbutil.DB) *Store {
	return &Store{db: db, clinicID: s.clinicID}
}

// Insert stores req and fills its id and timestamps.
func (s *Store) Insert(ctx context.Context, req *Request) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	items, err := json.Marshal(req.LineItems)
	if err != nil {
		return fmt.Errorf("billing: encode line items: %w", err)
	}
	err = s.db.QueryRow(ctx, `
		INSERT INTO billing_requests (
			id, clinic_id, type, appointment_ids, patient_id, patient_name, patient_dni, patient_email,
			total_price_cents, line_items, status, retry_count, requested_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING requested_at, updated_at
	`, req.ID, s.clinicID, string(req.Type), req.AppointmentIDs, req.PatientID, req.PatientName, req.PatientDNI, req.PatientEmail,
		req.TotalPriceCents, string(items), string(req.Status), req.RetryCount, req.RequestedBy,
	).Scan(&req.RequestedAt, &req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("billing: insert request: %w", err)
	}
	return nil
}

// Get returns one request.
func (s *Store) Get(ctx context.Context, id string) (*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM billing_requests WHERE id = $1 AND clinic_id = $2`
	req, err := scanRequest(s.db.QueryRow(ctx, query, id, s.clinicID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("billing: get request: %w", err)
	}
	return req, nil
}

// List returns recent requests, newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status Status, limit int) ([]*Request, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + requestColumns + ` FROM billing_requests WHERE clinic_id = $1`
	args := []any{s.clinicID}
	if status != "" {
		args = append(args, string(status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY requested_at DESC LIMIT $%d", len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("billing: list requests: %w", err)
	}
	defer rows.Close()
	out := []*Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("billing: scan request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("billing: list requests: %w", err)
	}
	return out, nil
}

// Claim moves a pending request to processing. It reports false when the
// request is no longer pending, so redelivered jobs are dropped.
func (s *Store) Claim(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE billing_requests SET status = 'processing', debug_error = '', updated_at = NOW()
		WHERE id = $1 AND clinic_id = $2 AND status = 'pending'
	`, id, s.clinicID)
	if err != nil {
		return false, fmt.Errorf("billing: claim request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed records a dispatch failure. It only touches requests that are
// still pending or processing, so a callback that landed first wins.
func (s *Store) MarkFailed(ctx context.Context, id string, status Status, debug string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE billing_requests SET status = $3, debug_error = $4, updated_at = NOW()
		WHERE id = $1 AND clinic_id = $2 AND status IN ('pending', 'processing')
	`, id, s.clinicID, string(status), debug)
	if err != nil {
		return fmt.Errorf("billing: mark failed: %w", err)
	}
	return nil
}

// Complete applies the invoicing workflow's callback to a request that is
// awaiting one: processing, or error_sending when a timed-out POST still
// reached the workflow. A repeated completed callback returns the stored request with
// ErrAlreadyComplete. Any other state returns ErrNotAwaiting.
func (s *Store) Complete(ctx context.Context, c Completion) (*Request, error) {
	query := `UPDATE billing_requests
		SET status = $3, invoice_number = $4, invoice_url = $5, debug_error = $6, updated_at = NOW()
		WHERE id = $1 AND clinic_id = $2 AND status IN ('processing', 'error_sending')
		RETURNING ` + requestColumns
	req, err := scanRequest(s.db.QueryRow(ctx, query, c.QueueDocID, s.clinicID, string(c.Status), c.InvoiceNumber, c.InvoiceURL, c.Error))
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("billing: complete request: %w", err)
	}

	current, err := s.Get(ctx, c.QueueDocID)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusCompleted && c.Status == StatusCompleted {
		return current, ErrAlreadyComplete
	}
	return nil, fmt.Errorf("%w: status is %s", ErrNotAwaiting, current.Status)
}

// Retry resets a failed request, or one stuck in processing for longer than
// staleAfter, to pending and bumps its retry count.
func (s *Store) Retry(ctx context.Context, id string, staleAfter time.Duration) (*Request, error) {
	query := `UPDATE billing_requests
		SET status = 'pending', retry_count = retry_count + 1, debug_error = '', updated_at = NOW()
		WHERE id = $1 AND clinic_id = $2
			AND (status IN ('error_config', 'error_sending')
				OR (status = 'processing' AND updated_at < NOW() - make_interval(secs => $3)))
		RETURNING ` + requestColumns
	req, err := scanRequest(s.db.QueryRow(ctx, query, id, s.clinicID, staleAfter.Seconds()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotRetryable
	}
	if err != nil {
		return nil, fmt.Errorf("billing: retry request: %w", err)
	}
	return req, nil
}

func scanRequest(row pgx.Row) (*Request, error) {
	var (
		req    Request
		kind   string
		status string
		items  []byte
	)
	err := row.Scan(
		&req.ID, &kind, &req.AppointmentIDs, &req.PatientID, &req.PatientName, &req.PatientDNI, &req.PatientEmail,
		&req.TotalPriceCents, &items, &status, &req.RetryCount, &req.RequestedBy, &req.InvoiceNumber, &req.InvoiceURL,
		&req.DebugError, &req.RequestedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Type = Type(kind)
	req.Status = Status(status)
	req.LineItems = []LineItem{}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &req.LineItems); err != nil {
			return nil, fmt.Errorf("billing: decode line items: %w", err)
		}
	}
	if req.AppointmentIDs == nil {
		req.AppointmentIDs = []string{}
	}
	return &req, nil
}
