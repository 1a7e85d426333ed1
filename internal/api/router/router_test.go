package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/lumen-clinic/internal/audit"
	httpmiddleware "github.com/wolfman30/lumen-clinic/internal/http/middleware"
	"github.com/wolfman30/lumen-clinic/internal/patients"
	"github.com/wolfman30/lumen-clinic/internal/turnstile"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

const testSecret = "router-secret"

func staffToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "staff-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestRouter(t *testing.T, mock pgxmock.PgxPoolIface, health func(context.Context) error) http.Handler {
	t.Helper()
	logger := logging.NewWithWriter("error", &strings.Builder{})
	svc := patients.NewService(patients.NewRepositoryWithDB(mock, "clinic-1"), nil, nil, logger)
	return New(&Config{
		Logger:         logger,
		Patients:       patients.NewHandler(svc, nil, logger),
		Turnstile:      http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }),
		HealthCheck:    health,
		StaffJWTSecret: testSecret,
	})
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, newMock(t), nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterHealthReportsUnavailable(t *testing.T) {
	router := newTestRouter(t, newMock(t), func(context.Context) error { return errors.New("db down") })

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestRouterTurnstileIsPublic(t *testing.T) {
	router := newTestRouter(t, newMock(t), nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/turnstile", strings.NewReader(`{}`)))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected turnstile handler, got %d", rr.Code)
	}
}

func TestRouterStaffRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t, newMock(t), nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/patients", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestRouterPatientsWithToken(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM patients WHERE clinic_id = \$1`).
		WithArgs("clinic-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	router := newTestRouter(t, mock, nil)
	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.Header.Set("Authorization", "Bearer "+staffToken(t))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Patients []json.RawMessage `json:"patients"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Patients == nil || len(body.Patients) != 0 {
		t.Fatalf("expected empty list, got %v", body.Patients)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRouterUnmountedRoutes(t *testing.T) {
	router := newTestRouter(t, newMock(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/billing/requests", nil)
	req.Header.Set("Authorization", "Bearer "+staffToken(t))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

type auditEvents []audit.Event

func (e auditEvents) QueryEvents(context.Context, audit.Filter) ([]audit.Event, error) {
	return e, nil
}

func TestRouterAuditTrail(t *testing.T) {
	r := New(&Config{
		Logger:         logging.Default(),
		Audit:          audit.NewHandler(auditEvents{{ID: "evt-1", Type: audit.EventPatientCreated}}, nil),
		StaffJWTSecret: testSecret,
	})

	req := httptest.NewRequest(http.MethodGet, "/audit", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/audit?type=patient.created", nil)
	req.Header.Set("Authorization", "Bearer "+staffToken(t))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"evt-1"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func newTurnstileRouter(t *testing.T, trusted httpmiddleware.TrustedProxies) http.Handler {
	t.Helper()
	siteverify := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false}`))
	}))
	t.Cleanup(siteverify.Close)

	svc := turnstile.NewService(turnstile.Config{
		Secret:    "shh",
		VerifyURL: siteverify.URL,
		Limiter:   turnstile.NewMemoryLimiter(5, time.Minute),
	})
	return New(&Config{
		Turnstile:      turnstile.NewHandler(svc),
		TrustedProxies: trusted,
	})
}

func turnstileCodes(router http.Handler, remoteAddr string, headers func(i int) map[string]string) map[int]int {
	codes := map[int]int{}
	for i := 0; i < 20; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/turnstile", strings.NewReader(`{"token":"tok"}`))
		req.RemoteAddr = remoteAddr
		for k, v := range headers(i) {
			req.Header.Set(k, v)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes[rr.Code]++
	}
	return codes
}

func TestRouterTurnstileLimitIgnoresSpoofedForwarding(t *testing.T) {
	router := newTurnstileRouter(t, nil)

	codes := turnstileCodes(router, "203.0.113.7:5100", func(i int) map[string]string {
		return map[string]string{
			"X-Forwarded-For": fmt.Sprintf("198.51.100.%d", i),
			"X-Real-Ip":       fmt.Sprintf("192.0.2.%d", i),
		}
	})
	if codes[http.StatusForbidden] != 5 || codes[http.StatusTooManyRequests] != 15 {
		t.Fatalf("expected 5 verifications then 429s, got %v", codes)
	}
}

func TestRouterTurnstileLimitBehindTrustedProxy(t *testing.T) {
	trusted, err := httpmiddleware.ParseTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	router := newTurnstileRouter(t, trusted)

	// Distinct clients behind the load balancer each get their own budget.
	codes := turnstileCodes(router, "10.0.0.2:443", func(i int) map[string]string {
		return map[string]string{"X-Forwarded-For": fmt.Sprintf("198.51.100.%d", i)}
	})
	if codes[http.StatusForbidden] != 20 {
		t.Fatalf("expected every client verified, got %v", codes)
	}

	// A client prepending fake hops is still keyed on the hop the proxy saw.
	codes = turnstileCodes(router, "10.0.0.2:443", func(i int) map[string]string {
		return map[string]string{"X-Forwarded-For": fmt.Sprintf("1.1.1.%d, 198.51.100.200", i)}
	})
	if codes[http.StatusForbidden] != 5 || codes[http.StatusTooManyRequests] != 15 {
		t.Fatalf("expected 5 verifications then 429s, got %v", codes)
	}
}
