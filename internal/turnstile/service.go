package turnstile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/lumen-clinic/internal/observability/metrics"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// DefaultVerifyURL is Cloudflare's siteverify endpoint.
const DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// Result is returned to the caller on success.
type Result struct {
	Verified bool `json:"verified"`
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Config configures a Service.
type Config struct {
	Secret    string
	VerifyURL string
	Client    *http.Client
	Limiter   Limiter
	Metrics   *metrics.TurnstileMetrics
	Logger    *logging.Logger
}

// Service validates tokens against Cloudflare behind a rate limit.
type Service struct {
	secret    string
	verifyURL string
	client    *http.Client
	limiter   Limiter
	metrics   *metrics.TurnstileMetrics
	logger    *logging.Logger
}

func NewService(cfg Config) *Service {
	if cfg.Limiter == nil {
		cfg.Limiter = NewMemoryLimiter(5, time.Minute)
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if strings.TrimSpace(cfg.VerifyURL) == "" {
		cfg.VerifyURL = DefaultVerifyURL
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Service{
		secret:    strings.TrimSpace(cfg.Secret),
		verifyURL: cfg.VerifyURL,
		client:    cfg.Client,
		limiter:   cfg.Limiter,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// ParseToken extracts the token from a request body. Both {"token": "..."}
// and the callable envelope {"data": {"token": "..."}} are accepted. A missing
// or non-string token yields "".
func ParseToken(body []byte) string {
	var payload struct {
		Token any `json:"token"`
		Data  *struct {
			Token any `json:"token"`
		} `json:"data"`
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	raw := payload.Token
	if raw == nil && payload.Data != nil {
		raw = payload.Data.Token
	}
	token, _ := raw.(string)
	return token
}

// Validate checks the rate limit for clientKey, then verifies token. Failures
// are returned as *Error.
func (s *Service) Validate(ctx context.Context, clientKey, token string) (*Result, error) {
	if clientKey == "" {
		clientKey = "unknown"
	}
	allowed, err := s.limiter.Allow(ctx, clientKey)
	if err != nil {
		s.logger.Error("turnstile rate limit check failed", "error", err)
		return nil, s.fail("limiter_error", errUpstream)
	}
	if !allowed {
		return nil, s.fail("rate_limited", errTooManyRequests)
	}
	if token == "" {
		return nil, s.fail("missing_token", errMissingToken)
	}
	if s.secret == "" {
		s.logger.Error("TURNSTILE_SECRET not configured")
		return nil, s.fail("misconfigured", errMisconfigured)
	}

	out, err := s.siteverify(ctx, token)
	if err != nil {
		s.logger.Error("turnstile siteverify failed", "error", err)
		return nil, s.fail("upstream_error", errUpstream)
	}
	if !out.Success {
		s.logger.Warn("turnstile token rejected", "error_codes", out.ErrorCodes)
		return nil, s.fail("rejected", errVerifyFailed)
	}
	s.metrics.ObserveVerification("verified")
	return &Result{Verified: true}, nil
}

func (s *Service) fail(outcome string, err *Error) error {
	s.metrics.ObserveVerification(outcome)
	return err
}

func (s *Service) siteverify(ctx context.Context, token string) (*siteverifyResponse, error) {
	form := url.Values{}
	form.Set("secret", s.secret)
	form.Set("response", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("turnstile: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("turnstile: siteverify: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("turnstile: read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("turnstile: siteverify status %d", resp.StatusCode)
	}
	var out siteverifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("turnstile: decode response: %w", err)
	}
	return &out, nil
}

// AsError unwraps err into a client-facing *Error. Unknown errors become an
// internal error.
func AsError(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return errUpstream
}
