package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/lumen-clinic/pkg/logging"
)

// RequestDispatcher is implemented by Dispatcher.
type RequestDispatcher interface {
	Dispatch(ctx context.Context, requestID string) error
}

// Worker consumes invoice jobs from the queue and dispatches them.
type Worker struct {
	dispatcher RequestDispatcher
	queue      queueClient
	logger     *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 10
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// NewWorker creates a queue consumer.
func NewWorker(dispatcher RequestDispatcher, queue queueClient, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if dispatcher == nil {
		panic("billing: dispatcher cannot be nil")
	}
	if queue == nil {
		panic("billing: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{dispatcher: dispatcher, queue: queue, logger: logger, cfg: cfg}
}

// Start launches the consumer goroutines. They stop when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until every consumer has stopped.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("billing worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("billing worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive billing jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode billing job", "error", err, "msg_id", msg.ID)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	var err error
	switch payload.Kind {
	case jobKindDispatch:
		err = w.dispatcher.Dispatch(ctx, payload.RequestID)
	default:
		err = fmt.Errorf("billing: unknown job kind %q", payload.Kind)
		w.logger.Error("dropping billing job", "error", err, "job_id", payload.ID)
		w.deleteMessage(msg.ReceiptHandle)
		return
	}

	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			w.logger.Warn("billing request vanished, dropping job", "job_id", payload.ID, "request_id", payload.RequestID)
			w.deleteMessage(msg.ReceiptHandle)
			return
		}
		// Leave the message for redelivery after the visibility timeout.
		w.logger.Error("billing job failed", "error", err, "job_id", payload.ID, "request_id", payload.RequestID)
		return
	}
	w.deleteMessage(msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete billing job", "error", err)
	}
}
