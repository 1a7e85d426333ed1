package billing

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/lumen-clinic/internal/appointments"
	httpmiddleware "github.com/wolfman30/lumen-clinic/internal/http/middleware"
	"github.com/wolfman30/lumen-clinic/internal/patients"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// Handler serves the staff billing API and the workflow callback.
type Handler struct {
	svc    *Service
	secret string
	logger *logging.Logger
	now    func() time.Time
}

// NewHandler builds the handler. secret authenticates completion callbacks;
// when empty every callback is rejected.
func NewHandler(svc *Service, secret string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, secret: secret, logger: logger, now: time.Now}
}

// Routes mounts under /billing and requires staff auth.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/requests", h.RequestBatch)
	r.Post("/requests/single", h.RequestSingle)
	r.Get("/requests", h.List)
	r.Get("/requests/{requestID}", h.Status)
	r.Post("/requests/{requestID}/retry", h.Retry)
	r.Get("/candidates", h.Candidates)
	r.Get("/summary", h.Summary)
	return r
}

type batchRequest struct {
	PatientID      string   `json:"patient_id"`
	AppointmentIDs []string `json:"appointment_ids"`
}

// RequestBatch handles POST /billing/requests.
func (h *Handler) RequestBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req, err := h.svc.RequestBatchInvoice(r.Context(), body.PatientID, body.AppointmentIDs, httpmiddleware.StaffUIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, "request invoice", err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

type singleRequest struct {
	AppointmentID string `json:"appointment_id"`
}

// RequestSingle handles POST /billing/requests/single.
func (h *Handler) RequestSingle(w http.ResponseWriter, r *http.Request) {
	var body singleRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AppointmentID == "" {
		writeError(w, http.StatusBadRequest, "appointment_id is required")
		return
	}
	req, err := h.svc.RequestInvoice(r.Context(), body.AppointmentID, httpmiddleware.StaffUIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, "request invoice", err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := h.svc.List(r.Context(), Status(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.fail(w, "list billing requests", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": items})
}

// Status handles GET /billing/requests/{requestID} for clients polling a request.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.Status(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		h.fail(w, "get billing request", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.Retry(r.Context(), chi.URLParam(r, "requestID"), httpmiddleware.StaffUIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, "retry billing request", err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (h *Handler) Candidates(w http.ResponseWriter, r *http.Request) {
	groups, err := h.svc.Candidates(r.Context())
	if err != nil {
		h.fail(w, "list billing candidates", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": groups})
}

// Summary handles GET /billing/summary?month=YYYY-MM, defaulting to the current month.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	month := r.URL.Query().Get("month")
	if month == "" {
		month = h.now().Format("2006-01")
	}
	groups, err := h.svc.MonthlySummary(r.Context(), month)
	if err != nil {
		h.fail(w, "build billing summary", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"month": month, "patients": groups})
}

// Complete handles the invoicing workflow callback. It is mounted outside
// staff auth and checks the shared secret header instead.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.logger.Warn("rejected billing callback", "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, ErrUnauthorized.Error())
		return
	}
	var c Completion
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if id := chi.URLParam(r, "requestID"); id != "" {
		c.QueueDocID = id
	}
	if c.QueueDocID == "" {
		writeError(w, http.StatusBadRequest, "queueDocId is required")
		return
	}
	req, err := h.svc.Complete(r.Context(), c)
	if err != nil {
		h.fail(w, "complete billing request", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": req.ID, "status": req.Status})
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}
	got := r.Header.Get(SecretHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
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

// StatusFor maps billing errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrRequestNotFound), errors.Is(err, ErrMissingAppts),
		errors.Is(err, appointments.ErrAppointmentNotFound), errors.Is(err, patients.ErrPatientNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotRetryable), errors.Is(err, ErrAlreadyInvoiced), errors.Is(err, ErrNotAwaiting):
		return http.StatusConflict
	case errors.Is(err, ErrNoAppointments), errors.Is(err, ErrMissingPatient), errors.Is(err, ErrForeignPatient),
		errors.Is(err, ErrInvalidStatus), errors.Is(err, appointments.ErrInvalidMonth):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
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
