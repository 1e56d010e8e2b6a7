// Package assignment owns every write to service requests and their offers:
// offer fanout, provider responses, customer selection and the request
// lifecycle after a provider is assigned.
package assignment

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/marketplace"
	"github.com/meanishn/platform/internal/ports"
	"github.com/meanishn/platform/internal/telemetry"
)

// Deps are the collaborators shared by Fanout, Ledger and Lifecycle.
// Store is required; the rest default to no-ops and the real clock.
type Deps struct {
	Store    ports.Store
	Notifier ports.Notifier
	Cache    ports.AcceptedCache
	Clock    clockwork.Clock
	Logger   *zap.Logger
}

type base struct {
	store    ports.Store
	notifier ports.Notifier
	cache    ports.AcceptedCache
	clock    clockwork.Clock
	logger   *zap.Logger
	tracer   trace.Tracer
}

func newBase(d Deps, name string) base {
	b := base{
		store:    d.Store,
		notifier: d.Notifier,
		cache:    d.Cache,
		clock:    d.Clock,
		logger:   d.Logger,
		tracer:   otel.Tracer("assignment"),
	}
	if b.clock == nil {
		b.clock = clockwork.NewRealClock()
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	b.logger = b.logger.Named(name)
	return b
}

func (b base) span(ctx context.Context, op, requestID string) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("request.id", requestID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if !marketplace.IsDomainError(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

// notify hands notifications to the sink after the state change committed.
// Delivery failures are logged and counted, never returned.
func (b base) notify(ctx context.Context, notes []ports.Notification) {
	if b.notifier == nil {
		return
	}
	for _, n := range notes {
		if err := b.notifier.Notify(ctx, n); err != nil {
			telemetry.NotificationFailures.WithLabelValues(string(n.Kind)).Inc()
			b.logger.Warn("notification failed",
				zap.String("kind", string(n.Kind)),
				zap.String("request_id", n.RequestID),
				zap.String("recipient_id", n.RecipientID),
				zap.Error(err))
		}
	}
}

func (b base) invalidate(ctx context.Context, requestID string) {
	if b.cache == nil {
		return
	}
	if err := b.cache.Invalidate(ctx, requestID); err != nil {
		b.logger.Warn("accepted cache invalidation failed", zap.String("request_id", requestID), zap.Error(err))
	}
}

func timePtr(t time.Time) *time.Time { return &t }
