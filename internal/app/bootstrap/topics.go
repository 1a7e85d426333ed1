package bootstrap

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wolfman30/lumen-clinic/internal/appointments"
	"github.com/wolfman30/lumen-clinic/internal/billing"
	"github.com/wolfman30/lumen-clinic/internal/changes"
	"github.com/wolfman30/lumen-clinic/internal/finance"
	httpmiddleware "github.com/wolfman30/lumen-clinic/internal/http/middleware"
	"github.com/wolfman30/lumen-clinic/internal/patients"
	"github.com/wolfman30/lumen-clinic/internal/payments"
	"github.com/wolfman30/lumen-clinic/internal/realtime"
	"github.com/wolfman30/lumen-clinic/internal/staff"
)

var (
	errNoStaff        = errors.New("no signed-in staff member")
	errNoProfessional = errors.New("staff profile has no professional name")
)

// TopicSources are the read models behind live subscriptions.
type TopicSources struct {
	Patients     *patients.Repository
	Appointments *appointments.Repository
	Payments     *payments.Repository
	Billing      *billing.Store
	Finance      *finance.Service
	Staff        *staff.Repository
	Now          func() time.Time
}

// RegisterTopics adds every subscription topic to reg.
func RegisterTopics(reg *realtime.Registry, src TopicSources) {
	now := src.Now
	if now == nil {
		now = time.Now
	}
	window := func(p realtime.Params) (string, string, error) {
		start, end := appointments.DefaultWindow(now())
		if v := strings.TrimSpace(p["start"]); v != "" {
			start = v
		}
		if v := strings.TrimSpace(p["end"]); v != "" {
			end = v
		}
		if err := appointments.ValidateDate(start); err != nil {
			return "", "", err
		}
		if err := appointments.ValidateDate(end); err != nil {
			return "", "", err
		}
		if end < start {
			return "", "", appointments.ErrInvalidRange
		}
		return start, end, nil
	}

	reg.Register("patients", realtime.Topic{
		Collections: []changes.Collection{changes.Patients},
		Resolve: func(ctx context.Context, p realtime.Params) (any, error) {
			return src.Patients.List(ctx, patients.Filter{
				Professional: p["professional"],
				ActiveOnly:   p["active"] == "true",
			})
		},
	})

	reg.Register("appointments", realtime.Topic{
		Collections: []changes.Collection{changes.Appointments},
		Resolve: func(ctx context.Context, p realtime.Params) (any, error) {
			start, end, err := window(p)
			if err != nil {
				return nil, err
			}
			return src.Appointments.ListRange(ctx, start, end, p["professional"])
		},
	})

	reg.Register("my_appointments", realtime.Topic{
		Collections: []changes.Collection{changes.Appointments, changes.StaffProfiles},
		Resolve: func(ctx context.Context, p realtime.Params) (any, error) {
			professional, err := professionalFor(ctx, src.Staff)
			if err != nil {
				return nil, err
			}
			start, end, err := window(p)
			if err != nil {
				return nil, err
			}
			return src.Appointments.ListRange(ctx, start, end, professional)
		},
	})

	reg.Register("finance", realtime.Topic{
		Collections: []changes.Collection{changes.Appointments, changes.Payments},
		Resolve: func(ctx context.Context, _ realtime.Params) (any, error) {
			unpaid, err := src.Appointments.ListUnpaid(ctx)
			if err != nil {
				return nil, err
			}
			recent, err := src.Payments.ListRecent(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"unpaid_appointments": unpaid, "payments": recent}, nil
		},
	})

	reg.Register("billing_request", realtime.Topic{
		Collections: []changes.Collection{changes.BillingRequests},
		Resolve: func(ctx context.Context, p realtime.Params) (any, error) {
			v, err := p.Require("id")
			if err != nil {
				return nil, err
			}
			return src.Billing.Get(ctx, v[0])
		},
	})

	reg.Register("psique_settlements", realtime.Topic{
		Collections: []changes.Collection{changes.PsiqueSettlements},
		Resolve: func(ctx context.Context, p realtime.Params) (any, error) {
			v, err := p.Require("professional")
			if err != nil {
				return nil, err
			}
			return src.Finance.ListSettlements(ctx, v[0])
		},
	})

	reg.Register("staff_profile", realtime.Topic{
		Collections: []changes.Collection{changes.StaffProfiles},
		Resolve: func(ctx context.Context, _ realtime.Params) (any, error) {
			uid := httpmiddleware.StaffUIDFromContext(ctx)
			if uid == "" {
				return nil, errNoStaff
			}
			return src.Staff.Get(ctx, uid)
		},
	})

	reg.Register("patient_appointments", realtime.Topic{
		Collections: []changes.Collection{changes.Appointments},
		Resolve: func(ctx context.Context, p realtime.Params) (any, error) {
			v, err := p.Require("patient_id")
			if err != nil {
				return nil, err
			}
			return src.Appointments.ListByPatient(ctx, v[0])
		},
	})

	reg.Register("patient_payments", realtime.Topic{
		Collections: []changes.Collection{changes.Payments},
		Resolve: func(ctx context.Context, p realtime.Params) (any, error) {
			v, err := p.Require("patient_id")
			if err != nil {
				return nil, err
			}
			return src.Payments.ListByPatient(ctx, v[0])
		},
	})
}

// professionalFor resolves the professional label of the connected staff
// member: the profile name when one exists, else the token's name claim.
func professionalFor(ctx context.Context, profiles *staff.Repository) (string, error) {
	claims, ok := httpmiddleware.StaffClaimsFromContext(ctx)
	if !ok || claims.UID() == "" {
		return "", errNoStaff
	}
	if profiles != nil {
		profile, err := profiles.Get(ctx, claims.UID())
		if err != nil {
			return "", err
		}
		if profile != nil && strings.TrimSpace(profile.Name) != "" {
			return profile.Name, nil
		}
	}
	if name := strings.TrimSpace(claims.Name); name != "" {
		return name, nil
	}
	return "", errNoProfessional
}
