// Package dbutil holds the small pgx interfaces repositories are written against.
package dbutil

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxDB is a DB that can open transactions.
type TxDB interface {
	DB
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SetList accumulates "col = $n" assignments for partial updates.
// Placeholders start after the reserved leading arguments.
type SetList struct {
	reserved int
	cols     []string
	args     []any
}

// NewSetList reserves the first n placeholders (usually id and clinic_id).
func NewSetList(reserved ...any) *SetList {
	return &SetList{reserved: len(reserved), args: append([]any(nil), reserved...)}
}

// Add appends an assignment.
func (s *SetList) Add(col string, value any) {
	s.args = append(s.args, value)
	s.cols = append(s.cols, fmt.Sprintf("%s = $%d", col, len(s.args)))
}

// Empty reports whether no columns were set.
func (s *SetList) Empty() bool { return len(s.cols) == 0 }

// SQL returns the comma separated assignments.
func (s *SetList) SQL() string { return strings.Join(s.cols, ", ") }

// Args returns reserved arguments followed by assigned values.
func (s *SetList) Args() []any { return s.args }
