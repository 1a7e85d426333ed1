package finance

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pashagolub/pgxmock/v4"
)

func newTestRouter(t *testing.T, mock pgxmock.PgxPoolIface) http.Handler {
	t.Helper()
	h := NewHandler(newTestService(t, mock), nil)
	h.now = func() time.Time { return time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Mount("/finance", h.Routes())
	return r
}

func TestHandler_PsiqueDefaultsToCurrentMonth(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()
	expectPsiqueMonth(mock)

	w := httptest.NewRecorder()
	newTestRouter(t, mock).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/finance/psique", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"total_cents":2500`) {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestHandler_BadMonth(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	w := httptest.NewRecorder()
	newTestRouter(t, mock).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/finance/psique?month=febrero", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandler_MarkSettlementRequiresMonth(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/finance/psique/settlements", strings.NewReader(`{"is_paid":true}`))
	newTestRouter(t, mock).ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandler_ReportUnavailableWithoutBucket(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	defer mock.Close()

	w := httptest.NewRecorder()
	newTestRouter(t, mock).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/finance/psique/report?month=2026-02", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}
