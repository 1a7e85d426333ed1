package staff

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	httpmiddleware "github.com/wolfman30/lumen-clinic/internal/http/middleware"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// Handler serves the signed-in staff member's own profile.
type Handler struct {
	repo   *Repository
	logger *logging.Logger
}

func NewHandler(repo *Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, logger: logger}
}

// Routes mounts under /staff.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/me", h.GetMe)
	r.Post("/me", h.CreateMe)
	r.Patch("/me", h.UpdateMe)
	return r
}

func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	uid := httpmiddleware.StaffUIDFromContext(r.Context())
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	p, err := h.repo.Get(r.Context(), uid)
	if err != nil {
		h.logger.Error("failed to load staff profile", "error", err, "uid", uid)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CreateMe stores a profile for the caller. Email defaults to the token's.
func (h *Handler) CreateMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := httpmiddleware.StaffClaimsFromContext(r.Context())
	if !ok || claims.UID() == "" {
		writeError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	var p Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if p.Email == "" {
		p.Email = claims.Email
	}
	created, err := h.repo.Create(r.Context(), claims.UID(), p)
	if err != nil {
		h.fail(w, "create profile", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	uid := httpmiddleware.StaffUIDFromContext(r.Context())
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	var u Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := h.repo.Update(r.Context(), uid, u)
	if err != nil {
		h.fail(w, "update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) fail(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ErrInvalidRole), errors.Is(err, ErrEmptyUpdate), errors.Is(err, ErrMissingUID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrProfileExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, errProfileMissing):
		writeError(w, http.StatusNotFound, err.Error())
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
