package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/ports"
)

// Processor consumes the notification and alert queues.
type Processor struct {
	server  *asynq.Server
	deliver ports.Notifier
	mailer  *Mailer
	logger  *zap.Logger
}

// NewProcessor builds the asynq server. deliver performs the final push for
// each notification; mailer may be nil, in which case ops alerts are logged.
func NewProcessor(opt asynq.RedisConnOpt, concurrency int, deliver ports.Notifier, mailer *Mailer, logger *zap.Logger) *Processor {
	if concurrency <= 0 {
		concurrency = 5
	}
	p := &Processor{deliver: deliver, mailer: mailer, logger: logger.Named("alerts")}
	p.server = asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueOffers:  10,
			QueueUpdates: 5,
			QueueAlerts:  2,
		},
	})
	return p
}

// Mux routes task types to handlers.
func (p *Processor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskNotification, p.handleNotification)
	mux.HandleFunc(TaskOpsAlert, p.handleOpsAlert)
	return mux
}

// Start runs the server in the background.
func (p *Processor) Start() error {
	if err := p.server.Start(p.Mux()); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	p.logger.Info("asynq processor started")
	return nil
}

// Shutdown waits for in-flight tasks and stops the server.
func (p *Processor) Shutdown() {
	p.server.Shutdown()
}

func (p *Processor) handleNotification(ctx context.Context, t *asynq.Task) error {
	var payload NotificationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode notification: %v: %w", err, asynq.SkipRetry)
	}
	n := payload.Notification
	if err := p.deliver.Notify(ctx, n); err != nil {
		p.logger.Error("notification delivery failed",
			zap.String("kind", string(n.Kind)),
			zap.String("recipient_id", n.RecipientID),
			zap.Error(err))
		return err
	}
	p.logger.Debug("notification delivered",
		zap.String("kind", string(n.Kind)),
		zap.String("request_id", n.RequestID),
		zap.String("recipient_id", n.RecipientID))
	return nil
}

func (p *Processor) handleOpsAlert(ctx context.Context, t *asynq.Task) error {
	var payload OpsAlertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode ops alert: %v: %w", err, asynq.SkipRetry)
	}
	if p.mailer == nil || payload.Envelope.To == "" {
		p.logger.Warn("ops alert",
			zap.String("request_id", payload.RequestID),
			zap.String("severity", payload.Severity),
			zap.String("message", payload.Message))
		return nil
	}
	if err := p.mailer.Send(ctx, payload.Envelope.To, payload.Envelope.Subject, payload.Envelope.Body); err != nil {
		p.logger.Error("ops alert send failed", zap.String("request_id", payload.RequestID), zap.Error(err))
		return err
	}
	p.logger.Info("ops alert sent", zap.String("request_id", payload.RequestID), zap.String("to", payload.Envelope.To))
	return nil
}
