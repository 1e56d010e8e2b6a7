package assignment

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/marketplace"
	"github.com/meanishn/platform/internal/ports"
	"github.com/meanishn/platform/internal/telemetry"
)

// Ledger records provider responses and customer selections. Every method
// runs inside Store.Atomically, so two concurrent calls on one request are
// applied one after the other and the loser sees the winner's result.
type Ledger struct {
	base
}

func NewLedger(d Deps) *Ledger {
	return &Ledger{base: newBase(d, "ledger")}
}

// ResponseResult is returned by RecordResponse and Withdraw.
type ResponseResult struct {
	Offer   marketplace.Offer          `json:"offer"`
	Request marketplace.ServiceRequest `json:"request"`
	// Exhausted is set when a pending request has no live offer left and
	// needs another matching round.
	Exhausted bool `json:"exhausted"`
	// Reopened is set when the last accepted offer was withdrawn and the
	// request went back to pending.
	Reopened bool `json:"reopened"`
}

// RecordResponse applies a provider's accept or decline to their offer.
// The first accept moves a pending request to awaiting customer confirmation.
func (l *Ledger) RecordResponse(ctx context.Context, requestID, providerID string, d marketplace.Decision, reason string) (res *ResponseResult, err error) {
	ctx, span := l.span(ctx, "ledger.record_response", requestID)
	defer func() {
		telemetry.OfferResponses.WithLabelValues(string(d), telemetry.Result(err, marketplace.IsDomainError)).Inc()
		endSpan(span, err)
	}()

	if d != marketplace.DecisionAccept && d != marketplace.DecisionDecline {
		return nil, fmt.Errorf("unknown decision %q", d)
	}

	now := l.clock.Now()
	res = &ResponseResult{}
	var transitioned bool

	err = l.store.Atomically(ctx, requestID, func(a *marketplace.Assignment) error {
		r := a.Request
		o := a.Offer(providerID)
		if o == nil {
			return fmt.Errorf("request %s provider %s: %w", requestID, providerID, marketplace.ErrOfferNotFound)
		}
		// swept or not, a lapsed offer answers the same way
		if o.Status == marketplace.OfferExpired {
			return fmt.Errorf("request %s provider %s: %w", requestID, providerID, marketplace.ErrOfferExpired)
		}
		if o.Status != marketplace.OfferNotified {
			return fmt.Errorf("request %s provider %s is %s: %w", requestID, providerID, o.Status, marketplace.ErrOfferAlreadyResolved)
		}
		if !now.Before(o.ExpiresAt) {
			return fmt.Errorf("request %s provider %s: %w", requestID, providerID, marketplace.ErrOfferExpired)
		}
		if !r.Status.OpenForOffers() {
			return &marketplace.InvalidTransitionError{RequestID: requestID, From: r.Status, Event: marketplace.EventOfferAccepted}
		}

		o.RespondedAt = timePtr(now)
		switch d {
		case marketplace.DecisionAccept:
			o.Status = marketplace.OfferAccepted
			if r.Status == marketplace.RequestPending {
				if err := r.Apply(marketplace.Transition{Event: marketplace.EventOfferAccepted, At: now}); err != nil {
					return err
				}
				transitioned = true
			}
		case marketplace.DecisionDecline:
			o.Status = marketplace.OfferDeclined
			o.DeclinedBy = marketplace.DeclinedByProvider
			o.DeclineReason = reason
			res.Exhausted = r.Status == marketplace.RequestPending && a.Outstanding(now) == 0
		}

		res.Offer = *o
		res.Request = *r
		return nil
	})
	if err != nil {
		l.logger.Info("offer response refused",
			zap.String("request_id", requestID),
			zap.String("provider_id", providerID),
			zap.String("decision", string(d)),
			zap.Error(err))
		return nil, err
	}
	if transitioned {
		telemetry.Transitions.WithLabelValues(string(marketplace.EventOfferAccepted)).Inc()
	}

	l.invalidate(ctx, requestID)
	if d == marketplace.DecisionAccept {
		l.notify(ctx, []ports.Notification{{
			Kind:        ports.NotifyOfferAccepted,
			RequestID:   requestID,
			RecipientID: res.Request.CustomerID,
			ProviderID:  providerID,
			Status:      res.Request.Status,
			Rank:        res.Offer.Rank,
			At:          now,
		}})
	}

	l.logger.Info("offer response recorded",
		zap.String("request_id", requestID),
		zap.String("provider_id", providerID),
		zap.String("decision", string(d)),
		zap.String("status", string(res.Request.Status)),
		zap.Bool("exhausted", res.Exhausted))
	return res, nil
}

// Withdraw lets a provider take back an accept the customer has not acted on.
// When no accepted offer remains the request returns to pending.
func (l *Ledger) Withdraw(ctx context.Context, requestID, providerID, reason string) (res *ResponseResult, err error) {
	ctx, span := l.span(ctx, "ledger.withdraw", requestID)
	defer func() { endSpan(span, err) }()

	now := l.clock.Now()
	res = &ResponseResult{}

	err = l.store.Atomically(ctx, requestID, func(a *marketplace.Assignment) error {
		r := a.Request
		o := a.Offer(providerID)
		if o == nil {
			return fmt.Errorf("request %s provider %s: %w", requestID, providerID, marketplace.ErrOfferNotFound)
		}
		if o.Selected {
			return fmt.Errorf("request %s: %w", requestID, marketplace.ErrAlreadyConfirmed)
		}
		if o.Status != marketplace.OfferAccepted {
			return fmt.Errorf("request %s provider %s is %s: %w", requestID, providerID, o.Status, marketplace.ErrOfferAlreadyResolved)
		}
		if !r.Status.OpenForOffers() {
			return &marketplace.InvalidTransitionError{RequestID: requestID, From: r.Status, Event: marketplace.EventOffersLapsed}
		}

		o.Status = marketplace.OfferDeclined
		o.DeclinedBy = marketplace.DeclinedByProvider
		o.DeclineReason = reason
		o.RespondedAt = timePtr(now)

		if r.Status == marketplace.RequestAwaitingConfirmation && len(a.Accepted()) == 0 {
			if err := r.Apply(marketplace.Transition{Event: marketplace.EventOffersLapsed, At: now}); err != nil {
				return err
			}
			res.Reopened = true
		}
		res.Exhausted = r.Status == marketplace.RequestPending && a.Outstanding(now) == 0
		res.Offer = *o
		res.Request = *r
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.invalidate(ctx, requestID)
	if res.Reopened {
		telemetry.Transitions.WithLabelValues(string(marketplace.EventOffersLapsed)).Inc()
		l.notify(ctx, []ports.Notification{{
			Kind:        ports.NotifyRequestReopened,
			RequestID:   requestID,
			RecipientID: res.Request.CustomerID,
			ProviderID:  providerID,
			Status:      res.Request.Status,
			Reason:      reason,
			At:          now,
		}})
	}

	l.logger.Info("accepted offer withdrawn",
		zap.String("request_id", requestID),
		zap.String("provider_id", providerID),
		zap.Bool("reopened", res.Reopened))
	return res, nil
}

// ListAccepted returns the accepted offers of a request the customer owns,
// best rank first. It never mutates state.
func (l *Ledger) ListAccepted(ctx context.Context, customerID, requestID string) ([]*marketplace.Offer, error) {
	req, err := l.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.CustomerID != customerID {
		return nil, fmt.Errorf("request %s: %w", requestID, marketplace.ErrNotRequestOwner)
	}

	if l.cache != nil {
		cached, ok, err := l.cache.Get(ctx, requestID)
		if err != nil {
			l.logger.Warn("accepted cache read failed", zap.String("request_id", requestID), zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	offers, err := l.store.ListOffers(ctx, requestID)
	if err != nil {
		return nil, err
	}
	accepted := (&marketplace.Assignment{Offers: offers}).Accepted()
	if accepted == nil {
		accepted = []*marketplace.Offer{}
	}

	if l.cache != nil {
		if err := l.cache.Set(ctx, requestID, accepted); err != nil {
			l.logger.Warn("accepted cache write failed", zap.String("request_id", requestID), zap.Error(err))
		}
	}
	return accepted, nil
}

// Selection is the outcome of a customer choosing a provider.
type Selection struct {
	Request    marketplace.ServiceRequest `json:"request"`
	Confirmed  marketplace.Offer          `json:"confirmed"`
	Superseded []marketplace.Offer        `json:"superseded"`
}

// SelectProvider confirms one accepted provider for the request and
// supersedes every other live offer. Exactly one concurrent caller wins; the
// rest get ErrAlreadyConfirmed.
func (l *Ledger) SelectProvider(ctx context.Context, customerID, requestID, providerID string) (sel *Selection, err error) {
	ctx, span := l.span(ctx, "ledger.select_provider", requestID)
	defer func() {
		telemetry.Selections.WithLabelValues(telemetry.Result(err, marketplace.IsDomainError)).Inc()
		endSpan(span, err)
	}()

	now := l.clock.Now()
	sel = &Selection{}

	err = l.store.Atomically(ctx, requestID, func(a *marketplace.Assignment) error {
		r := a.Request
		if r.CustomerID != customerID {
			return fmt.Errorf("request %s: %w", requestID, marketplace.ErrNotRequestOwner)
		}
		if r.Status.HasProvider() {
			return fmt.Errorf("request %s: %w", requestID, marketplace.ErrAlreadyConfirmed)
		}
		if !r.Status.OpenForOffers() {
			return &marketplace.InvalidTransitionError{RequestID: requestID, From: r.Status, Event: marketplace.EventProviderSelected}
		}
		o := a.Offer(providerID)
		if o == nil {
			return fmt.Errorf("request %s provider %s: %w", requestID, providerID, marketplace.ErrOfferNotFound)
		}
		if o.Status != marketplace.OfferAccepted {
			return fmt.Errorf("request %s provider %s is %s: %w", requestID, providerID, o.Status, marketplace.ErrOfferAlreadyResolved)
		}

		if r.Status == marketplace.RequestPending {
			if err := r.Apply(marketplace.Transition{Event: marketplace.EventOfferAccepted, At: now}); err != nil {
				return err
			}
		}
		if err := r.Apply(marketplace.Transition{
			Event:      marketplace.EventProviderSelected,
			ProviderID: providerID,
			AcceptedAt: o.RespondedAt,
			At:         now,
		}); err != nil {
			return err
		}
		o.Selected = true

		sel.Superseded = supersede(a, o)
		sel.Confirmed = *o
		sel.Request = *r
		return nil
	})
	if err != nil {
		l.logger.Info("selection refused",
			zap.String("request_id", requestID),
			zap.String("provider_id", providerID),
			zap.Error(err))
		return nil, err
	}
	telemetry.Transitions.WithLabelValues(string(marketplace.EventProviderSelected)).Inc()
	l.invalidate(ctx, requestID)

	notes := []ports.Notification{{
		Kind:        ports.NotifyProviderSelected,
		RequestID:   requestID,
		RecipientID: providerID,
		ProviderID:  providerID,
		Status:      sel.Request.Status,
		At:          now,
	}}
	for _, o := range sel.Superseded {
		notes = append(notes, ports.Notification{
			Kind:        ports.NotifyOfferSuperseded,
			RequestID:   requestID,
			RecipientID: o.ProviderID,
			ProviderID:  o.ProviderID,
			Status:      sel.Request.Status,
			At:          now,
		})
	}
	l.notify(ctx, notes)

	l.logger.Info("provider selected",
		zap.String("request_id", requestID),
		zap.String("provider_id", providerID),
		zap.Int("superseded", len(sel.Superseded)))
	return sel, nil
}

// Rejection is the outcome of a customer rejecting their confirmed provider.
type Rejection struct {
	Request  marketplace.ServiceRequest `json:"request"`
	Rejected marketplace.Offer          `json:"rejected"`
	// Exhausted is set when no live offer remains and another matching round is needed.
	Exhausted bool `json:"exhausted"`
}

// RejectConfirmedProvider undoes a confirmation before work starts. The
// rejected provider's offer is declined by the customer and the request
// returns to pending.
func (l *Ledger) RejectConfirmedProvider(ctx context.Context, customerID, requestID, reason string) (rej *Rejection, err error) {
	ctx, span := l.span(ctx, "ledger.reject_provider", requestID)
	defer func() { endSpan(span, err) }()

	now := l.clock.Now()
	rej = &Rejection{}

	err = l.store.Atomically(ctx, requestID, func(a *marketplace.Assignment) error {
		r := a.Request
		if r.CustomerID != customerID {
			return fmt.Errorf("request %s: %w", requestID, marketplace.ErrNotRequestOwner)
		}
		switch r.Status {
		case marketplace.RequestConfirmed, marketplace.RequestAssigned:
		case marketplace.RequestInProgress, marketplace.RequestCompleted:
			return fmt.Errorf("request %s: %w", requestID, marketplace.ErrTooLateToReject)
		default:
			return &marketplace.InvalidTransitionError{RequestID: requestID, From: r.Status, Event: marketplace.EventProviderRejected}
		}

		prev := r.AssignedProviderID
		if err := r.Apply(marketplace.Transition{Event: marketplace.EventProviderRejected, Reason: reason, At: now}); err != nil {
			return err
		}
		if o := a.Offer(prev); o != nil {
			o.Selected = false
			o.Status = marketplace.OfferDeclined
			o.DeclinedBy = marketplace.DeclinedByCustomer
			o.DeclineReason = reason
			rej.Rejected = *o
		} else {
			rej.Rejected = marketplace.Offer{RequestID: requestID, ProviderID: prev}
		}
		rej.Exhausted = a.Outstanding(now) == 0
		rej.Request = *r
		return nil
	})
	if err != nil {
		return nil, err
	}
	telemetry.Transitions.WithLabelValues(string(marketplace.EventProviderRejected)).Inc()
	l.invalidate(ctx, requestID)

	l.notify(ctx, []ports.Notification{{
		Kind:        ports.NotifyProviderRejected,
		RequestID:   requestID,
		RecipientID: rej.Rejected.ProviderID,
		ProviderID:  rej.Rejected.ProviderID,
		Status:      rej.Request.Status,
		Reason:      reason,
		At:          now,
	}})

	l.logger.Info("confirmed provider rejected",
		zap.String("request_id", requestID),
		zap.String("provider_id", rej.Rejected.ProviderID),
		zap.Bool("exhausted", rej.Exhausted))
	return rej, nil
}

// ExpiryResult is the outcome of ExpireOffer.
type ExpiryResult struct {
	// Expired is false when the offer had been re-armed with a later expiry.
	Expired   bool                       `json:"expired"`
	Exhausted bool                       `json:"exhausted"`
	Request   marketplace.ServiceRequest `json:"request"`
}

// ExpireOffer moves a lapsed notified offer to expired. It is a
// compare-and-set on the offer status: if a provider response got there
// first the caller receives a *StaleOfferError and nothing changes.
func (l *Ledger) ExpireOffer(ctx context.Context, key marketplace.OfferKey) (res *ExpiryResult, err error) {
	ctx, span := l.span(ctx, "ledger.expire_offer", key.RequestID)
	defer func() { endSpan(span, err) }()

	now := l.clock.Now()
	res = &ExpiryResult{}

	err = l.store.Atomically(ctx, key.RequestID, func(a *marketplace.Assignment) error {
		o := a.Offer(key.ProviderID)
		if o == nil {
			return fmt.Errorf("request %s provider %s: %w", key.RequestID, key.ProviderID, marketplace.ErrOfferNotFound)
		}
		if o.Status != marketplace.OfferNotified {
			return &marketplace.StaleOfferError{
				RequestID:  key.RequestID,
				ProviderID: key.ProviderID,
				Expected:   marketplace.OfferNotified,
				Actual:     o.Status,
			}
		}
		res.Request = *a.Request
		if now.Before(o.ExpiresAt) {
			return nil
		}
		o.Status = marketplace.OfferExpired
		res.Expired = true
		res.Exhausted = a.Request.Status == marketplace.RequestPending && a.Outstanding(now) == 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Expired {
		telemetry.OffersExpired.Inc()
	}
	return res, nil
}

// AssignDirect assigns a provider without the offer round trip. It is an
// operator action: the provider's offer is created or accepted on their
// behalf and every other live offer is superseded.
func (l *Ledger) AssignDirect(ctx context.Context, requestID, providerID string) (sel *Selection, err error) {
	ctx, span := l.span(ctx, "ledger.assign_direct", requestID)
	defer func() { endSpan(span, err) }()

	now := l.clock.Now()
	sel = &Selection{}

	err = l.store.Atomically(ctx, requestID, func(a *marketplace.Assignment) error {
		r := a.Request
		if r.Status.HasProvider() {
			return fmt.Errorf("request %s: %w", requestID, marketplace.ErrAlreadyConfirmed)
		}
		if _, ok := marketplace.Next(r.Status, marketplace.EventProviderAssigned); !ok {
			return &marketplace.InvalidTransitionError{RequestID: requestID, From: r.Status, Event: marketplace.EventProviderAssigned}
		}

		o := a.Offer(providerID)
		switch {
		case o == nil:
			o = &marketplace.Offer{
				RequestID:  requestID,
				ProviderID: providerID,
				Rank:       a.MaxRank() + 1,
				Round:      r.MatchRounds,
				NotifiedAt: now,
				ExpiresAt:  now,
			}
			a.Offers = append(a.Offers, o)
		case o.Status == marketplace.OfferDeclined:
			return fmt.Errorf("request %s provider %s declined: %w", requestID, providerID, marketplace.ErrOfferAlreadyResolved)
		}
		if o.Status != marketplace.OfferAccepted {
			o.RespondedAt = timePtr(now)
		}
		o.Status = marketplace.OfferAccepted
		o.Selected = true

		if err := r.Apply(marketplace.Transition{
			Event:      marketplace.EventProviderAssigned,
			ProviderID: providerID,
			At:         now,
		}); err != nil {
			return err
		}
		sel.Superseded = supersede(a, o)
		sel.Confirmed = *o
		sel.Request = *r
		return nil
	})
	if err != nil {
		return nil, err
	}
	telemetry.Transitions.WithLabelValues(string(marketplace.EventProviderAssigned)).Inc()
	l.invalidate(ctx, requestID)

	notes := []ports.Notification{
		{
			Kind:        ports.NotifyProviderSelected,
			RequestID:   requestID,
			RecipientID: providerID,
			ProviderID:  providerID,
			Status:      sel.Request.Status,
			At:          now,
		},
		{
			Kind:        ports.NotifyProviderSelected,
			RequestID:   requestID,
			RecipientID: sel.Request.CustomerID,
			ProviderID:  providerID,
			Status:      sel.Request.Status,
			At:          now,
		},
	}
	for _, o := range sel.Superseded {
		notes = append(notes, ports.Notification{
			Kind:        ports.NotifyOfferSuperseded,
			RequestID:   requestID,
			RecipientID: o.ProviderID,
			ProviderID:  o.ProviderID,
			Status:      sel.Request.Status,
			At:          now,
		})
	}
	l.notify(ctx, notes)

	l.logger.Info("provider assigned directly",
		zap.String("request_id", requestID),
		zap.String("provider_id", providerID))
	return sel, nil
}

// supersede retires every live offer other than keep and returns copies of them.
func supersede(a *marketplace.Assignment, keep *marketplace.Offer) []marketplace.Offer {
	var out []marketplace.Offer
	for _, o := range a.Offers {
		if o == keep {
			continue
		}
		if o.Status == marketplace.OfferAccepted || o.Status == marketplace.OfferNotified {
			o.Status = marketplace.OfferSuperseded
			out = append(out, *o)
		}
	}
	return out
}
