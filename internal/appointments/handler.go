package appointments

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	httpmiddleware "github.com/wolfman30/lumen-clinic/internal/http/middleware"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// Handler serves the appointments API.
type Handler struct {
	svc    *Service
	logger *logging.Logger
	now    func() time.Time
}

// NewHandler creates a new appointments handler
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger, now: time.Now}
}

// Routes mounts under /appointments.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/mine", h.ListMine)
	r.Get("/unpaid", h.ListUnpaid)
	r.Post("/recurring", h.CreateRecurring)
	r.Delete("/series/{seriesID}", h.DeleteSeries)
	r.Get("/{appointmentID}", h.Get)
	r.Patch("/{appointmentID}", h.Update)
	r.Delete("/{appointmentID}", h.Delete)
	return r
}

// List handles GET /appointments?start=&end=&professional=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	start, end := h.window(r)
	items, err := h.svc.Repository().ListRange(r.Context(), start, end, r.URL.Query().Get("professional"))
	if err != nil {
		h.fail(w, "list appointments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"start": start, "end": end, "appointments": items})
}

// ListMine handles GET /appointments/mine for the signed-in professional.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	professional := strings.TrimSpace(r.URL.Query().Get("professional"))
	if claims, ok := httpmiddleware.StaffClaimsFromContext(r.Context()); ok && claims.Name != "" {
		professional = claims.Name
	}
	if professional == "" {
		writeError(w, http.StatusBadRequest, "professional is required")
		return
	}
	start, end := h.window(r)
	items, err := h.svc.Repository().ListRange(r.Context(), start, end, professional)
	if err != nil {
		h.fail(w, "list my appointments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"start": start, "end": end, "professional": professional, "appointments": items})
}

// ListUnpaid handles GET /appointments/unpaid
func (h *Handler) ListUnpaid(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Repository().ListUnpaid(r.Context())
	if err != nil {
		h.fail(w, "list unpaid appointments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

// ListForPatient handles GET /patients/{patientID}/appointments
func (h *Handler) ListForPatient(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Repository().ListByPatient(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		h.fail(w, "list patient appointments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

// Get handles GET /appointments/{appointmentID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.Repository().Get(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.fail(w, "get appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Create handles POST /appointments
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var a Appointment
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a.ID = ""
	if err := h.svc.Create(r.Context(), &a, httpmiddleware.StaffUIDFromContext(r.Context())); err != nil {
		h.fail(w, "create appointment", err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

type recurringRequest struct {
	Appointment Appointment `json:"appointment"`
	Dates       []string    `json:"dates"`
	StartDate   string      `json:"start_date"`
	Occurrences int         `json:"occurrences"`
	Rule        string      `json:"rule"`
}

// CreateRecurring handles POST /appointments/recurring. Either explicit dates
// or start_date plus occurrences must be given.
func (h *Handler) CreateRecurring(w http.ResponseWriter, r *http.Request) {
	var req recurringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rule, err := ParseRule(req.Rule)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dates := req.Dates
	if len(dates) == 0 && req.StartDate != "" {
		dates, err = GenerateDates(req.StartDate, req.Occurrences, rule)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	created, err := h.svc.CreateRecurring(r.Context(), req.Appointment, dates, rule, httpmiddleware.StaffUIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, "create recurring appointments", err)
		return
	}
	seriesID := ""
	if len(created) > 0 {
		seriesID = created[0].RecurrenceID
	}
	writeJSON(w, http.StatusCreated, map[string]any{"recurrence_id": seriesID, "count": len(created), "appointments": created})
}

// Update handles PATCH /appointments/{appointmentID}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var u Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a, err := h.svc.Update(r.Context(), chi.URLParam(r, "appointmentID"), u, httpmiddleware.StaffUIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, "update appointment", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Delete handles DELETE /appointments/{appointmentID}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "appointmentID"), httpmiddleware.StaffUIDFromContext(r.Context())); err != nil {
		h.fail(w, "delete appointment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteSeries handles DELETE /appointments/series/{seriesID}?from=YYYY-MM-DD
func (h *Handler) DeleteSeries(w http.ResponseWriter, r *http.Request) {
	seriesID := chi.URLParam(r, "seriesID")
	uid := httpmiddleware.StaffUIDFromContext(r.Context())
	var (
		n   int
		err error
	)
	if from := r.URL.Query().Get("from"); from != "" {
		n, err = h.svc.DeleteSeriesFromDate(r.Context(), seriesID, from, uid)
	} else {
		n, err = h.svc.DeleteSeries(r.Context(), seriesID, uid)
	}
	if err != nil {
		h.fail(w, "delete series", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (h *Handler) window(r *http.Request) (string, string) {
	start, end := DefaultWindow(h.now())
	if v := r.URL.Query().Get("start"); v != "" {
		start = v
	}
	if v := r.URL.Query().Get("end"); v != "" {
		end = v
	}
	return start, end
}

func (h *Handler) fail(w http.ResponseWriter, action string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("failed to "+action, "error", err)
		writeError(w, status, "failed to "+action)
		return
	}
	writeError(w, status, err.Error())
}

// StatusFor maps package errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMissingPatient), errors.Is(err, ErrInvalidDate), errors.Is(err, ErrInvalidTime),
		errors.Is(err, ErrInvalidMonth), errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidType),
		errors.Is(err, ErrInvalidPrice), errors.Is(err, ErrInvalidDuration), errors.Is(err, ErrInvalidRange),
		errors.Is(err, ErrNoDates), errors.Is(err, ErrTooManyDates), errors.Is(err, ErrInvalidRule),
		errors.Is(err, ErrEmptyUpdate):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
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
