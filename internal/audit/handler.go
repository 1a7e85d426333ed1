package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

type eventQuerier interface {
	QueryEvents(ctx context.Context, filter Filter) ([]Event, error)
}

// Handler exposes the audit trail read-only.
type Handler struct {
	events eventQuerier
	logger *logging.Logger
}

func NewHandler(events eventQuerier, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{events: events, logger: logger}
}

// Routes mounts under /audit.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	return r
}

// List handles GET /audit?type=&entity_id=&since=RFC3339&limit=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		Type:     EventType(q.Get("type")),
		EntityID: q.Get("entity_id"),
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			return
		}
		filter.Since = &since
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = limit
	}

	events, err := h.events.QueryEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query audit events", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load audit events"})
		return
	}
	if events == nil {
		events = []Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
