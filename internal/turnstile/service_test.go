package turnstile

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/wolfman30/lumen-clinic/internal/observability/metrics"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

type stubLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (bool, error) {
	s.keys = append(s.keys, key)
	return s.allow, s.err
}

func siteverifyServer(t *testing.T, success bool, calls *int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			*calls++
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("secret") != "shh" {
			t.Errorf("secret = %q", r.PostForm.Get("secret"))
		}
		if r.PostForm.Get("response") != "tok" {
			t.Errorf("response = %q", r.PostForm.Get("response"))
		}
		w.Header().Set("Content-Type", "application/json")
		if success {
			_, _ = w.Write([]byte(`{"success":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestService(secret, verifyURL string, limiter Limiter, m *metrics.TurnstileMetrics) *Service {
	return NewService(Config{
		Secret:    secret,
		VerifyURL: verifyURL,
		Limiter:   limiter,
		Metrics:   m,
		Logger:    logging.NewWithWriter("error", &strings.Builder{}),
	})
}

func TestValidateSuccess(t *testing.T) {
	srv := siteverifyServer(t, true, nil)
	reg := prometheus.NewRegistry()
	m := metrics.NewTurnstileMetrics(reg)
	lim := &stubLimiter{allow: true}

	res, err := newTestService("shh", srv.URL, lim, m).Validate(context.Background(), "10.0.0.1", "tok")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !res.Verified {
		t.Fatal("expected verified")
	}
	if len(lim.keys) != 1 || lim.keys[0] != "10.0.0.1" {
		t.Fatalf("limiter keys = %v", lim.keys)
	}
	if got := counterValue(t, reg, "verified"); got != 1 {
		t.Fatalf("verified counter = %v", got)
	}
}

func TestValidateErrorOrder(t *testing.T) {
	cases := []struct {
		name    string
		secret  string
		limiter *stubLimiter
		token   string
		want    Code
		status  int
	}{
		{"rate limited before token check", "shh", &stubLimiter{allow: false}, "", CodeResourceExhausted, http.StatusTooManyRequests},
		{"missing token before secret", "", &stubLimiter{allow: true}, "", CodeInvalidArgument, http.StatusBadRequest},
		{"secret not configured", "", &stubLimiter{allow: true}, "tok", CodeInternal, http.StatusInternalServerError},
		{"limiter failure", "shh", &stubLimiter{err: errors.New("dynamo down")}, "tok", CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			srv := siteverifyServer(t, true, &calls)
			_, err := newTestService(tc.secret, srv.URL, tc.limiter, nil).Validate(context.Background(), "1.2.3.4", tc.token)
			te := AsError(err)
			if err == nil || te.Code != tc.want {
				t.Fatalf("err = %v, want code %s", err, tc.want)
			}
			if te.HTTPStatus() != tc.status {
				t.Fatalf("status = %d, want %d", te.HTTPStatus(), tc.status)
			}
			if calls != 0 {
				t.Fatalf("siteverify called %d times", calls)
			}
		})
	}
}

func TestValidateRejectedToken(t *testing.T) {
	srv := siteverifyServer(t, false, nil)
	_, err := newTestService("shh", srv.URL, &stubLimiter{allow: true}, nil).Validate(context.Background(), "1.2.3.4", "tok")
	if te := AsError(err); te.Code != CodePermissionDenied || te.Message != "Turnstile verification failed" {
		t.Fatalf("err = %v", err)
	}
}

func TestValidateUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestService("shh", srv.URL, &stubLimiter{allow: true}, nil).Validate(context.Background(), "1.2.3.4", "tok")
	if te := AsError(err); te.Code != CodeInternal {
		t.Fatalf("err = %v", err)
	}
}

func TestParseToken(t *testing.T) {
	cases := map[string]string{
		`{"token":"abc"}`:          "abc",
		`{"data":{"token":"xyz"}}`: "xyz",
		`{"token":42}`:             "",
		`{"token":null}`:           "",
		`not json`:                 "",
		``:                         "",
	}
	for body, want := range cases {
		if got := ParseToken([]byte(body)); got != want {
			t.Errorf("ParseToken(%q) = %q, want %q", body, got, want)
		}
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "lumen_turnstile_verifications_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if hasLabel(m, "outcome", outcome) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
