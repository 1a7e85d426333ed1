package finance

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/lumen-clinic/internal/appointments"
	httpmiddleware "github.com/wolfman30/lumen-clinic/internal/http/middleware"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

var errMissingMonth = errors.New("month is required")

// Handler serves the finance API.
type Handler struct {
	svc    *Service
	logger *logging.Logger
	now    func() time.Time
}

func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger, now: time.Now}
}

// Routes mounts under /finance.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/debts", h.Debts)
	r.Get("/overview", h.Overview)
	r.Route("/psique", func(r chi.Router) {
		r.Get("/", h.PsiqueMonth)
		r.Get("/settlements", h.ListSettlements)
		r.Put("/settlements", h.MarkSettlement)
		r.Get("/report", h.Report)
	})
	return r
}

func (h *Handler) month(r *http.Request) string {
	if m := strings.TrimSpace(r.URL.Query().Get("month")); m != "" {
		return m
	}
	return h.now().Format("2006-01")
}

// PsiqueMonth handles GET /finance/psique?month=YYYY-MM&professional=.
func (h *Handler) PsiqueMonth(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.PsiqueMonth(r.Context(), h.month(r), r.URL.Query().Get("professional"))
	if err != nil {
		h.fail(w, "compute psique month", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListSettlements(r.Context(), r.URL.Query().Get("professional"))
	if err != nil {
		h.fail(w, "list settlements", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settlements": items})
}

type markRequest struct {
	Month        string `json:"month"`
	Professional string `json:"professional"`
	IsPaid       bool   `json:"is_paid"`
}

// MarkSettlement handles PUT /finance/psique/settlements.
func (h *Handler) MarkSettlement(w http.ResponseWriter, r *http.Request) {
	var req markRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Month) == "" {
		writeError(w, http.StatusBadRequest, errMissingMonth.Error())
		return
	}
	st, err := h.svc.MarkSettlement(r.Context(), req.Month, req.Professional, req.IsPaid, httpmiddleware.StaffUIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, "mark settlement", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Report handles GET /finance/psique/report and returns a presigned PDF link.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.SettlementReport(r.Context(), h.month(r), r.URL.Query().Get("professional"))
	if err != nil {
		h.fail(w, "generate settlement report", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) Debts(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Debts(r.Context())
	if err != nil {
		h.fail(w, "list debts", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// Overview handles GET /finance/overview?from=&to=.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ov, err := h.svc.Overview(r.Context(), q.Get("from"), q.Get("to"))
	if err != nil {
		h.fail(w, "build overview", err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (h *Handler) fail(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, appointments.ErrInvalidMonth), errors.Is(err, appointments.ErrInvalidDate), errors.Is(err, appointments.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrReportsDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("failed to "+action, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to "+action)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
