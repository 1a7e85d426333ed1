package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	appconfig "github.com/wolfman30/lumen-clinic/internal/config"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

func TestSetupMetricsExposesMetrics(t *testing.T) {
	handler, m := setupMetrics()
	if handler == nil || m.billing == nil || m.turnstile == nil || m.realtime == nil {
		t.Fatalf("expected handler and metrics")
	}

	m.billing.ObserveRequest("batch")
	m.turnstile.ObserveVerification("verified")
	m.realtime.ConnectionOpened()

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, name := range []string{
		"lumen_turnstile_verifications_total",
		"lumen_realtime_connections",
		"go_goroutines",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("expected %s to be exported", name)
		}
	}
}

func TestSetupMetricsUsesFreshRegistry(t *testing.T) {
	// Registering twice would panic on a shared registry.
	setupMetrics()
	setupMetrics()
}

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	logger := logging.New("error")
	if pool := connectPostgresPool(context.Background(), "", logger); pool != nil {
		t.Fatalf("expected nil pool for empty URL")
	}
}

func TestSQSClientForMemoryQueue(t *testing.T) {
	if c := sqsClientFor(&appconfig.Config{UseMemoryQueue: true}, aws.Config{}); c != nil {
		t.Fatalf("expected nil sqs client in memory mode")
	}
	if c := sqsClientFor(&appconfig.Config{}, aws.Config{Region: "us-east-1"}); c == nil {
		t.Fatalf("expected sqs client")
	}
}
