package finance

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/lumen-clinic/internal/appointments"
	"github.com/wolfman30/lumen-clinic/internal/audit"
	"github.com/wolfman30/lumen-clinic/internal/changes"
	"github.com/wolfman30/lumen-clinic/internal/patients"
	"github.com/wolfman30/lumen-clinic/internal/payments"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

var financeTracer = otel.Tracer("lumen.internal.finance")

// Service answers the finance views.
type Service struct {
	appointments *appointments.Repository
	patients     *patients.Repository
	payments     *payments.Repository
	settlements  *SettlementRepository
	reports      *ReportStore
	clinicName   string
	changes      changes.Publisher
	audit        audit.Recorder
	logger       *logging.Logger
	now          func() time.Time
}

// Option customizes the service.
type Option func(*Service)

func WithChanges(p changes.Publisher) Option {
	return func(s *Service) { s.changes = changes.OrNop(p) }
}

func WithAudit(r audit.Recorder) Option {
	return func(s *Service) { s.audit = r }
}

// WithLocation makes "today" and the default month follow the clinic's
// time zone.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.now = func() time.Time { return time.Now().In(loc) }
		}
	}
}

// WithReports enables PDF settlement reports.
func WithReports(store *ReportStore, clinicName string) Option {
	return func(s *Service) {
		s.reports = store
		if clinicName != "" {
			s.clinicName = clinicName
		}
	}
}

func NewService(appts *appointments.Repository, pats *patients.Repository, pays *payments.Repository, settlements *SettlementRepository, logger *logging.Logger, opts ...Option) *Service {
	if appts == nil || pats == nil || pays == nil || settlements == nil {
		panic("finance: repositories required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		appointments: appts,
		patients:     pats,
		payments:     pays,
		settlements:  settlements,
		clinicName:   "Lumen",
		changes:      changes.Nop{},
		logger:       logger,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PsiqueMonth computes the Psique fee for month, optionally for one professional.
func (s *Service) PsiqueMonth(ctx context.Context, month, professional string) (*MonthResult, error) {
	ctx, span := financeTracer.Start(ctx, "finance.psique_month")
	defer span.End()
	span.SetAttributes(attribute.String("lumen.month", month))

	start, end, err := appointments.MonthRange(month)
	if err != nil {
		return nil, err
	}
	appts, err := s.appointments.ListRange(ctx, start, end, professional)
	if err != nil {
		return nil, err
	}
	psique, err := s.patients.IDsBySource(ctx, patients.SourcePsique)
	if err != nil {
		return nil, err
	}
	settlements, err := s.settlements.List(ctx, professional)
	if err != nil {
		return nil, err
	}
	res := CalculatePsiqueMonth(appts, psique, month, settlements, professional)
	return &res, nil
}

// ListSettlements returns a professional's settlements keyed by settlement key.
func (s *Service) ListSettlements(ctx context.Context, professional string) (map[string]*Settlement, error) {
	return s.settlements.List(ctx, professional)
}

// MarkSettlement records whether month's Psique fee was paid, storing the
// month total as currently computed.
func (s *Service) MarkSettlement(ctx context.Context, month, professional string, isPaid bool, uid string) (*Settlement, error) {
	res, err := s.PsiqueMonth(ctx, month, professional)
	if err != nil {
		return nil, err
	}
	st := &Settlement{
		Key:          SettlementKey(month, professional),
		Month:        month,
		Professional: res.Professional,
		TotalCents:   res.TotalCents,
		IsPaid:       isPaid,
	}
	if isPaid {
		st.PaidDate = s.now().Format(appointments.DateLayout)
	}
	if err := s.settlements.Upsert(ctx, st); err != nil {
		return nil, err
	}

	s.logger.Info("psique settlement marked", "key", st.Key, "is_paid", isPaid, "total_cents", st.TotalCents)
	if err := s.changes.Publish(ctx, changes.New(changes.PsiqueSettlements, changes.OpUpdate, st.Key)); err != nil {
		s.logger.Warn("failed to publish settlement change", "error", err, "key", st.Key)
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, audit.Event{
			Type:       audit.EventSettlementMarked,
			ActorUID:   uid,
			EntityType: "psique_settlement",
			EntityIDs:  []string{st.Key},
			Details:    audit.Details(map[string]any{"is_paid": isPaid, "total_cents": st.TotalCents}),
		}); err != nil {
			s.logger.Warn("failed to audit settlement", "error", err, "key", st.Key)
		}
	}
	return st, nil
}

// DebtReport lists past sessions still owed.
type DebtReport struct {
	Appointments []*appointments.Appointment `json:"appointments"`
	Count        int                         `json:"count"`
	TotalCents   int64                       `json:"total_cents"`
}

// Debts returns unpaid, non-cancelled sessions dated before today, newest first.
func (s *Service) Debts(ctx context.Context) (*DebtReport, error) {
	unpaid, err := s.appointments.ListUnpaid(ctx)
	if err != nil {
		return nil, err
	}
	return buildDebts(unpaid, s.now().Format(appointments.DateLayout)), nil
}

func buildDebts(unpaid []*appointments.Appointment, today string) *DebtReport {
	rep := &DebtReport{Appointments: []*appointments.Appointment{}}
	for _, a := range unpaid {
		if a.IsPaid || a.Status == appointments.StatusCancelled || a.Date >= today {
			continue
		}
		rep.Appointments = append(rep.Appointments, a)
		rep.TotalCents += a.PriceCents
	}
	rep.Count = len(rep.Appointments)
	return rep
}

// Overview summarizes money in and money owed over an inclusive date range.
type Overview struct {
	From            string `json:"from"`
	To              string `json:"to"`
	IncomeCents     int64  `json:"income_cents"`
	DebtCents       int64  `json:"debt_cents"`
	DebtSessions    int    `json:"debt_sessions"`
	PendingCents    int64  `json:"pending_cents"`
	PendingSessions int    `json:"pending_sessions"`
}

// Overview totals payments received in [from, to], the clinic's outstanding
// debt, and what is still to be collected for sessions in the range.
// Empty bounds default to the current month.
func (s *Service) Overview(ctx context.Context, from, to string) (*Overview, error) {
	if from == "" || to == "" {
		start, end, _ := appointments.MonthRange(s.now().Format("2006-01"))
		if from == "" {
			from = start
		}
		if to == "" {
			to = end
		}
	}
	if err := appointments.ValidateDate(from); err != nil {
		return nil, err
	}
	if err := appointments.ValidateDate(to); err != nil {
		return nil, err
	}
	if from > to {
		return nil, appointments.ErrInvalidRange
	}
	toDate, _ := time.Parse(appointments.DateLayout, to)
	income, err := s.payments.SumBetween(ctx, from, toDate.AddDate(0, 0, 1).Format(appointments.DateLayout))
	if err != nil {
		return nil, err
	}
	unpaid, err := s.appointments.ListUnpaid(ctx)
	if err != nil {
		return nil, err
	}

	ov := &Overview{From: from, To: to, IncomeCents: income}
	debts := buildDebts(unpaid, s.now().Format(appointments.DateLayout))
	ov.DebtCents, ov.DebtSessions = debts.TotalCents, debts.Count
	for _, a := range unpaid {
		if a.Date >= from && a.Date <= to && a.Billable() {
			ov.PendingCents += a.PriceCents
			ov.PendingSessions++
		}
	}
	return ov, nil
}

// SettlementReport renders a month's Psique statement as PDF, uploads it and
// returns a presigned link.
func (s *Service) SettlementReport(ctx context.Context, month, professional string) (*Report, error) {
	ctx, span := financeTracer.Start(ctx, "finance.settlement_report")
	defer span.End()

	if !s.reports.Enabled() {
		return nil, ErrReportsDisabled
	}
	res, err := s.PsiqueMonth(ctx, month, professional)
	if err != nil {
		return nil, err
	}
	body, err := RenderSettlementPDF(s.clinicName, *res, s.now())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	report, err := s.reports.PutPDF(ctx, "psique/"+SettlementKey(month, professional)+".pdf", body)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("psique report generated", "key", report.Key, "bytes", len(body))
	return report, nil
}
