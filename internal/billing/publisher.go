package billing

import (
	"context"
	"fmt"

	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// JobPublisher enqueues dispatch jobs for invoice requests.
type JobPublisher interface {
	EnqueueDispatch(ctx context.Context, requestID string, attempt int) error
}

// Publisher enqueues invoice jobs on a queue.
type Publisher struct {
	queue  queueClient
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue queueClient, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("billing: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// EnqueueDispatch publishes a job asking the worker to forward requestID to
// the invoicing workflow.
func (p *Publisher) EnqueueDispatch(ctx context.Context, requestID string, attempt int) error {
	payload, body, err := encodePayload(queuePayload{Kind: jobKindDispatch, RequestID: requestID, Attempt: attempt})
	if err != nil {
		return err
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("billing: failed to enqueue job: %w", err)
	}
	p.logger.Debug("billing job enqueued", "job_id", payload.ID, "request_id", requestID, "attempt", attempt)
	return nil
}
