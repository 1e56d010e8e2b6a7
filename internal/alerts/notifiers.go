package alerts

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meanishn/platform/internal/ports"
)

// LogNotifier writes every notification to the log. It is the delivery
// step when no push provider is configured.
type LogNotifier struct {
	Logger *zap.Logger
}

func (l LogNotifier) Notify(_ context.Context, n ports.Notification) error {
	l.Logger.Info("notify",
		zap.String("kind", string(n.Kind)),
		zap.String("request_id", n.RequestID),
		zap.String("recipient_id", n.RecipientID),
		zap.String("provider_id", n.ProviderID),
		zap.String("status", string(n.Status)),
		zap.Int("rank", n.Rank))
	return nil
}

// Multi fans a notification out to several sinks concurrently. Every sink is
// tried; the returned error joins the failures.
type Multi []ports.Notifier

func (m Multi) Notify(ctx context.Context, n ports.Notification) error {
	errs := make([]error, len(m))
	var g errgroup.Group
	for i, sink := range m {
		g.Go(func() error {
			errs[i] = sink.Notify(ctx, n)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
