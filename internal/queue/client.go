package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ayoubkhl/ragrelay/internal/config"
)

// ErrDuplicateSuppressed reports that a job with the same idempotency key
// is already queued or was recently completed. It is a no-op, not a fault.
var ErrDuplicateSuppressed = errors.New("duplicate job suppressed")

type Client struct {
	client *asynq.Client
}

func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnqueueMessageProcess dispatches an inbound message job, keyed by the
// provider message id. Retention keeps the completed task around so a
// provider redelivery inside the window is suppressed at enqueue time.
func (c *Client) EnqueueMessageProcess(payload MessageProcessPayload) error {
	return c.enqueue(TypeMessageProcess, payload,
		asynq.Queue(QueueMessages),
		asynq.TaskID("msg:"+payload.Event.ProviderMessageID),
		asynq.Retention(24*time.Hour),
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
	)
}

// EnqueueDocumentIndex dispatches an indexing job, keyed by (tenant, document).
func (c *Client) EnqueueDocumentIndex(payload DocumentIndexPayload) error {
	return c.enqueue(TypeDocumentIndex, payload,
		asynq.Queue(QueueIndexing),
		asynq.TaskID("index:"+payload.TenantID+":"+payload.DocumentID),
		asynq.Retention(24*time.Hour),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
	)
}

func (c *Client) enqueue(taskType string, payload interface{}, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	_, err = c.client.Enqueue(task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return ErrDuplicateSuppressed
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
