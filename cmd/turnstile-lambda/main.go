package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/wolfman30/lumen-clinic/cmd/mainconfig"
	appconfig "github.com/wolfman30/lumen-clinic/internal/config"
	"github.com/wolfman30/lumen-clinic/internal/turnstile"
	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel).Component("turnstile-lambda")

	awsCfg, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load aws config", "error", err)
		panic(err)
	}

	svc := turnstile.NewService(turnstile.Config{
		Secret:    cfg.TurnstileSecret,
		VerifyURL: cfg.TurnstileVerifyURL,
		Limiter: turnstile.NewDynamoLimiter(
			dynamodb.NewFromConfig(awsCfg),
			cfg.TurnstileLimitsTable,
			cfg.TurnstileMaxRequests,
			cfg.TurnstileWindow,
		),
		Logger: logger,
	})

	lambda.Start(func(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		return handle(ctx, svc, evt)
	})
}

func handle(ctx context.Context, svc *turnstile.Service, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	path := strings.TrimSpace(evt.RawPath)
	if path == "" {
		path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}

	if path == "/health" || path == "/_health" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK, Body: "ok"}, nil
	}
	if method != http.MethodPost {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusMethodNotAllowed}, nil
	}

	body, err := decodeBody(evt)
	if err != nil {
		return jsonResponse(http.StatusBadRequest, map[string]any{
			"error": "invalid body",
			"code":  turnstile.CodeInvalidArgument,
		}), nil
	}

	res, err := svc.Validate(ctx, clientIP(evt), turnstile.ParseToken(body))
	if err != nil {
		te := turnstile.AsError(err)
		return jsonResponse(te.HTTPStatus(), map[string]any{"error": te.Message, "code": te.Code}), nil
	}
	return jsonResponse(http.StatusOK, res), nil
}

func clientIP(evt events.APIGatewayV2HTTPRequest) string {
	if ip := strings.TrimSpace(evt.RequestContext.HTTP.SourceIP); ip != "" {
		return ip
	}
	if fwd := headerValue(evt.Headers, "x-forwarded-for"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	return "unknown"
}

func jsonResponse(status int, v any) events.APIGatewayV2HTTPResponse {
	body, err := json.Marshal(v)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusInternalServerError}
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Body:       string(body),
		Headers:    map[string]string{"content-type": "application/json"},
	}
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	return base64.StdEncoding.DecodeString(evt.Body)
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
