// Package changes defines the write notifications that drive live subscriptions.
package changes

import (
	"context"
	"time"
)

// Collection names a group of records clients can subscribe to.
type Collection string

const (
	Patients          Collection = "patients"
	Appointments      Collection = "appointments"
	Payments          Collection = "payments"
	BillingRequests   Collection = "billing_requests"
	PsiqueSettlements Collection = "psique_settlements"
	StaffProfiles     Collection = "staff_profiles"
)

// Op is the kind of write that produced a change.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is published after a successful write.
type Change struct {
	Collection Collection `json:"collection"`
	Op         Op         `json:"op"`
	IDs        []string   `json:"ids,omitempty"`
	At         time.Time  `json:"at"`
}

// Publisher fans changes out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}

// New builds a change stamped with the current time.
func New(collection Collection, op Op, ids ...string) Change {
	return Change{Collection: collection, Op: op, IDs: ids, At: time.Now().UTC()}
}

// Nop discards changes. Used when live subscriptions are disabled.
type Nop struct{}

func (Nop) Publish(context.Context, Change) error { return nil }

// OrNop returns p, or Nop when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop{}
	}
	return p
}
