package turnstile

import (
	"encoding/json"
	"io"
	"net/http"

	httpmiddleware "github.com/wolfman30/lumen-clinic/internal/http/middleware"
)

// Handler serves POST /auth/turnstile.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<10))
	if err != nil {
		body = nil
	}
	res, err := h.svc.Validate(r.Context(), httpmiddleware.ClientIP(r), ParseToken(body))
	if err != nil {
		te := AsError(err)
		writeJSON(w, te.HTTPStatus(), map[string]any{"error": te.Message, "code": te.Code})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
