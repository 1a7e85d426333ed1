package patients

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	httpmiddleware "github.com/wolfman30/lumen-clinic/internal/http/middleware"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// Handler serves the patients API.
type Handler struct {
	svc        *Service
	statements *StatementBuilder
	logger     *logging.Logger

	// Nested collections, mounted under /patients/{patientID}/ when set.
	Appointments http.HandlerFunc
	Payments     http.HandlerFunc
}

// NewHandler creates a patients handler. statements may be nil.
func NewHandler(svc *Service, statements *StatementBuilder, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, statements: statements, logger: logger}
}

// Routes mounts under /patients.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Route("/{patientID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Patch("/", h.Update)
		r.Delete("/", h.Delete)
		if h.statements != nil {
			r.Get("/statement", h.Statement)
		}
		if h.Appointments != nil {
			r.Get("/appointments", h.Appointments)
		}
		if h.Payments != nil {
			r.Get("/payments", h.Payments)
		}
	})
	return r
}

// List handles GET /patients?professional=&active=true
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	filter := Filter{
		Professional: r.URL.Query().Get("professional"),
		ActiveOnly:   strings.EqualFold(r.URL.Query().Get("active"), "true"),
	}
	items, err := h.svc.Repository().List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list patients", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": items})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Repository().Get(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		h.fail(w, "get patient", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type createRequest struct {
	Name          string `json:"name"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	DNI           string `json:"dni"`
	Professional  string `json:"professional"`
	FeeCents      int64  `json:"fee_cents"`
	PatientSource Source `json:"patient_source"`
	Preference    string `json:"preference"`
	IsActive      *bool  `json:"is_active"`
}

// Create handles POST /patients
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p := &Patient{
		Name:          req.Name,
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		Email:         req.Email,
		Phone:         req.Phone,
		DNI:           req.DNI,
		Professional:  req.Professional,
		FeeCents:      req.FeeCents,
		PatientSource: req.PatientSource,
		Preference:    req.Preference,
		IsActive:      true,
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	if err := h.svc.Create(r.Context(), p, httpmiddleware.StaffUIDFromContext(r.Context())); err != nil {
		h.fail(w, "create patient", err)
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
	p, err := h.svc.Update(r.Context(), chi.URLParam(r, "patientID"), u, httpmiddleware.StaffUIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, "update patient", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "patientID"), httpmiddleware.StaffUIDFromContext(r.Context())); err != nil {
		h.fail(w, "delete patient", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Statement handles GET /patients/{patientID}/statement
func (h *Handler) Statement(w http.ResponseWriter, r *http.Request) {
	st, err := h.statements.Statement(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		h.fail(w, "build statement", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) fail(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrPatientNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidSource), errors.Is(err, ErrInvalidFee), errors.Is(err, ErrEmptyUpdate):
		writeError(w, http.StatusBadRequest, err.Error())
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
