package billing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type queueClient interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]queueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

type queueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type jobKind string

const jobKindDispatch jobKind = "invoice.dispatch.v1"

type queuePayload struct {
	ID        string  `json:"id"`
	Kind      jobKind `json:"kind"`
	RequestID string  `json:"request_id"`
	Attempt   int     `json:"attempt"`
}

func encodePayload(payload queuePayload) (queuePayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return queuePayload{}, "", fmt.Errorf("billing: failed to encode payload: %w", err)
	}
	return payload, string(body), nil
}
