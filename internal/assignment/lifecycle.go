package assignment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/marketplace"
	"github.com/meanishn/platform/internal/ports"
	"github.com/meanishn/platform/internal/telemetry"
)

// Lifecycle opens requests and drives them from an assigned provider to a
// terminal status.
type Lifecycle struct {
	base
}

func NewLifecycle(d Deps) *Lifecycle {
	return &Lifecycle{base: newBase(d, "lifecycle")}
}

// ValidationError reports a malformed request draft.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Open validates a customer's draft and stores it as a pending request.
func (lc *Lifecycle) Open(ctx context.Context, draft marketplace.ServiceRequest) (*marketplace.ServiceRequest, error) {
	switch {
	case strings.TrimSpace(draft.CustomerID) == "":
		return nil, &ValidationError{Field: "customer_id", Reason: "required"}
	case strings.TrimSpace(draft.CategoryID) == "":
		return nil, &ValidationError{Field: "category_id", Reason: "required"}
	case !draft.Urgency.Valid():
		return nil, &ValidationError{Field: "urgency", Reason: fmt.Sprintf("unknown urgency %q", draft.Urgency)}
	case draft.EstimatedHours < 0:
		return nil, &ValidationError{Field: "estimated_hours", Reason: "must not be negative"}
	case draft.Location.Lat < -90 || draft.Location.Lat > 90 || draft.Location.Lng < -180 || draft.Location.Lng > 180:
		return nil, &ValidationError{Field: "location", Reason: "coordinates out of range"}
	}

	now := lc.clock.Now()
	req := &marketplace.ServiceRequest{
		ID:             uuid.NewString(),
		CustomerID:     draft.CustomerID,
		CategoryID:     draft.CategoryID,
		TierID:         draft.TierID,
		Urgency:        draft.Urgency,
		EstimatedHours: draft.EstimatedHours,
		Location:       draft.Location,
		PreferredDate:  draft.PreferredDate,
		Status:         marketplace.RequestPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := lc.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	lc.logger.Info("request opened",
		zap.String("request_id", req.ID),
		zap.String("customer_id", req.CustomerID),
		zap.String("category_id", req.CategoryID))
	return req, nil
}

// Get returns a request snapshot.
func (lc *Lifecycle) Get(ctx context.Context, requestID string) (*marketplace.ServiceRequest, error) {
	return lc.store.GetRequest(ctx, requestID)
}

// StartWork moves a confirmed or assigned request to in progress. Only the
// assigned provider may start it.
func (lc *Lifecycle) StartWork(ctx context.Context, providerID, requestID string) (*marketplace.ServiceRequest, error) {
	return lc.providerStep(ctx, providerID, requestID, marketplace.EventWorkStarted, ports.NotifyWorkStarted)
}

// CompleteWork moves an in-progress request to completed. Only the assigned
// provider may complete it.
func (lc *Lifecycle) CompleteWork(ctx context.Context, providerID, requestID string) (*marketplace.ServiceRequest, error) {
	return lc.providerStep(ctx, providerID, requestID, marketplace.EventWorkCompleted, ports.NotifyWorkCompleted)
}

func (lc *Lifecycle) providerStep(ctx context.Context, providerID, requestID string, ev marketplace.Event, kind ports.NotificationKind) (out *marketplace.ServiceRequest, err error) {
	ctx, span := lc.span(ctx, "lifecycle."+string(ev), requestID)
	defer func() { endSpan(span, err) }()

	now := lc.clock.Now()
	err = lc.store.Atomically(ctx, requestID, func(a *marketplace.Assignment) error {
		r := a.Request
		if _, ok := marketplace.Next(r.Status, ev); !ok {
			return &marketplace.InvalidTransitionError{RequestID: requestID, From: r.Status, Event: ev}
		}
		if r.AssignedProviderID != providerID {
			return fmt.Errorf("request %s: %w", requestID, marketplace.ErrNotAssignedProvider)
		}
		if err := r.Apply(marketplace.Transition{Event: ev, At: now}); err != nil {
			return err
		}
		cp := *r
		out = &cp
		return nil
	})
	if err != nil {
		return nil, err
	}
	telemetry.Transitions.WithLabelValues(string(ev)).Inc()

	lc.notify(ctx, []ports.Notification{{
		Kind:        kind,
		RequestID:   requestID,
		RecipientID: out.CustomerID,
		ProviderID:  providerID,
		Status:      out.Status,
		At:          now,
	}})
	lc.logger.Info("request advanced",
		zap.String("request_id", requestID),
		zap.String("event", string(ev)),
		zap.String("status", string(out.Status)))
	return out, nil
}

// Cancellation is the outcome of Cancel.
type Cancellation struct {
	Request    marketplace.ServiceRequest `json:"request"`
	Superseded []marketplace.Offer        `json:"superseded"`
}

// Cancel ends a request before work starts. Every live offer, including a
// selected one, is superseded and its provider told.
func (lc *Lifecycle) Cancel(ctx context.Context, customerID, requestID, reason string) (out *Cancellation, err error) {
	ctx, span := lc.span(ctx, "lifecycle.cancel", requestID)
	defer func() { endSpan(span, err) }()

	now := lc.clock.Now()
	out = &Cancellation{}
	err = lc.store.Atomically(ctx, requestID, func(a *marketplace.Assignment) error {
		r := a.Request
		if r.CustomerID != customerID {
			return fmt.Errorf("request %s: %w", requestID, marketplace.ErrNotRequestOwner)
		}
		if err := r.Apply(marketplace.Transition{Event: marketplace.EventCancelled, Reason: reason, At: now}); err != nil {
			return err
		}
		for _, o := range a.Offers {
			if o.Status == marketplace.OfferAccepted || o.Status == marketplace.OfferNotified {
				o.Status = marketplace.OfferSuperseded
				o.Selected = false
				out.Superseded = append(out.Superseded, *o)
			}
		}
		out.Request = *r
		return nil
	})
	if err != nil {
		return nil, err
	}
	telemetry.Transitions.WithLabelValues(string(marketplace.EventCancelled)).Inc()
	lc.invalidate(ctx, requestID)

	notes := make([]ports.Notification, 0, len(out.Superseded))
	for _, o := range out.Superseded {
		notes = append(notes, ports.Notification{
			Kind:        ports.NotifyRequestCancelled,
			RequestID:   requestID,
			RecipientID: o.ProviderID,
			ProviderID:  o.ProviderID,
			Status:      out.Request.Status,
			Reason:      reason,
			At:          now,
		})
	}
	lc.notify(ctx, notes)

	lc.logger.Info("request cancelled",
		zap.String("request_id", requestID),
		zap.Int("offers_superseded", len(out.Superseded)))
	return out, nil
}
