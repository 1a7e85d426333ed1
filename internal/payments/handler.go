package payments

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/lumen-clinic/internal/appointments"
	httpmiddleware "github.com/wolfman30/lumen-clinic/internal/http/middleware"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// Handler serves the payments API.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts under /payments.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListRecent)
	r.Post("/", h.Record)
	r.Get("/{paymentID}", h.Get)
	r.Patch("/{paymentID}", h.Update)
	r.Delete("/{paymentID}", h.Delete)
	return r
}

func (h *Handler) ListRecent(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Repository().ListRecent(r.Context())
	if err != nil {
		h.fail(w, "list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": items})
}

// ListForPatient handles GET /patients/{patientID}/payments
func (h *Handler) ListForPatient(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Repository().ListByPatient(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		h.fail(w, "list patient payments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": items})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Repository().Get(r.Context(), chi.URLParam(r, "paymentID"))
	if err != nil {
		h.fail(w, "get payment", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type recordRequest struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	PatientName   string `json:"patient_name"`
	AmountCents   int64  `json:"amount_cents"`
	Concept       string `json:"concept"`
	Method        string `json:"method"`
}

// Record handles POST /payments. The date is always the server time.
func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := &Payment{
		AppointmentID: req.AppointmentID,
		PatientID:     req.PatientID,
		PatientName:   req.PatientName,
		AmountCents:   req.AmountCents,
		Concept:       req.Concept,
		Method:        req.Method,
	}
	if err := h.svc.Record(r.Context(), p, httpmiddleware.StaffUIDFromContext(r.Context())); err != nil {
		h.fail(w, "record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var u Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := h.svc.Update(r.Context(), chi.URLParam(r, "paymentID"), u, httpmiddleware.StaffUIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, "update payment", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "paymentID"), httpmiddleware.StaffUIDFromContext(r.Context())); err != nil {
		h.fail(w, "delete payment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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

// StatusFor maps payment errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrPaymentNotFound), errors.Is(err, appointments.ErrAppointmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrMissingPatient), errors.Is(err, ErrEmptyUpdate):
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
