package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sethvargo/go-retry"

	"github.com/meanishn/platform/internal/ports"
)

// Queue enqueues notifications and ops alerts for the processor.
type Queue struct {
	client  *asynq.Client
	opsTo   string
	product string
}

func NewQueue(opt asynq.RedisConnOpt, opsEmail string) *Queue {
	return &Queue{client: asynq.NewClient(opt), opsTo: opsEmail, product: "Marketplace"}
}

// Close releases the client.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Notify implements ports.Notifier. New offers go to a higher priority queue
// and are dropped once the offer has expired.
func (q *Queue) Notify(ctx context.Context, n ports.Notification) error {
	b, err := json.Marshal(NotificationPayload{Notification: n, EnqueuedAt: time.Now()})
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.Queue(QueueUpdates), asynq.MaxRetry(5), asynq.Timeout(30 * time.Second)}
	if n.Kind == ports.NotifyOfferCreated {
		opts = []asynq.Option{asynq.Queue(QueueOffers), asynq.MaxRetry(3), asynq.Timeout(10 * time.Second)}
		if n.ExpiresAt != nil {
			opts = append(opts, asynq.Deadline(*n.ExpiresAt))
		}
	}
	task := asynq.NewTask(TaskNotification, b)
	if err := q.enqueue(ctx, task, opts...); err != nil {
		return fmt.Errorf("enqueue %s for %s: %w", n.Kind, n.RecipientID, err)
	}
	return nil
}

// enqueue retries transient broker errors a few times before giving up.
func (q *Queue) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if _, err := q.client.EnqueueContext(ctx, task, opts...); err != nil {
			if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
}

// Alert implements ports.Alerter by emailing the operations inbox.
func (q *Queue) Alert(ctx context.Context, requestID, severity, message string) error {
	env := EmailEnvelope{
		To:      q.opsTo,
		Subject: fmt.Sprintf("[%s] %s: request %s", q.product, severity, requestID),
		Body:    message,
	}
	b, err := json.Marshal(OpsAlertPayload{RequestID: requestID, Severity: severity, Message: message, Envelope: env, SentAt: time.Now()})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskOpsAlert, b)
	return q.enqueue(ctx, task, asynq.Queue(QueueAlerts), asynq.MaxRetry(10))
}
