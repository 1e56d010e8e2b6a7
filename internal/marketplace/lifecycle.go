package marketplace

import (
	"fmt"
	"time"
)

// transitions is the complete request state machine. Pairs missing here are illegal.
var transitions = map[RequestStatus]map[Event]RequestStatus{
	RequestPending: {
		EventOfferAccepted:    RequestAwaitingConfirmation,
		EventProviderAssigned: RequestAssigned,
		EventCancelled:        RequestCancelled,
	},
	RequestAwaitingConfirmation: {
		EventProviderSelected: RequestConfirmed,
		EventOffersLapsed:     RequestPending,
		EventProviderAssigned: RequestAssigned,
		EventCancelled:        RequestCancelled,
	},
	RequestConfirmed: {
		EventProviderRejected: RequestPending,
		EventWorkStarted:      RequestInProgress,
		EventCancelled:        RequestCancelled,
	},
	// assigned is reached by direct assignment and behaves like confirmed.
	RequestAssigned: {
		EventProviderRejected: RequestPending,
		EventWorkStarted:      RequestInProgress,
		EventCancelled:        RequestCancelled,
	},
	RequestInProgress: {
		EventWorkCompleted: RequestCompleted,
	},
}

// Next returns the status reached by applying ev in from.
func Next(from RequestStatus, ev Event) (RequestStatus, bool) {
	to, ok := transitions[from][ev]
	return to, ok
}

// Transition carries the data an event needs to update a request.
type Transition struct {
	Event      Event
	ProviderID string
	// AcceptedAt is when the selected provider accepted their offer.
	AcceptedAt *time.Time
	Reason     string
	At         time.Time
}

// Apply advances r through t. On error r is left untouched.
func (r *ServiceRequest) Apply(t Transition) error {
	to, ok := Next(r.Status, t.Event)
	if !ok {
		return &InvalidTransitionError{RequestID: r.ID, From: r.Status, Event: t.Event}
	}
	at := t.At
	if at.Before(r.UpdatedAt) {
		at = r.UpdatedAt
	}

	switch t.Event {
	case EventProviderSelected, EventProviderAssigned:
		if t.ProviderID == "" {
			return fmt.Errorf("%s on request %s: provider id required", t.Event, r.ID)
		}
		r.AssignedProviderID = t.ProviderID
		r.AssignedAt = &at
		if t.Event == EventProviderSelected {
			r.CustomerConfirmedAt = &at
			r.ProviderAcceptedAt = t.AcceptedAt
		}
	case EventProviderRejected:
		r.AssignedProviderID = ""
		r.AssignedAt = nil
		r.ProviderAcceptedAt = nil
		r.CustomerConfirmedAt = nil
	case EventWorkStarted:
		r.StartedAt = &at
	case EventWorkCompleted:
		r.CompletedAt = &at
	case EventCancelled:
		r.AssignedProviderID = ""
		r.CancelledAt = &at
		r.CancelReason = t.Reason
	}
	r.Status = to
	r.UpdatedAt = at
	return nil
}

// CheckInvariants verifies that the assigned provider is present exactly when
// the status requires one.
func (r *ServiceRequest) CheckInvariants() error {
	if r.Status.HasProvider() != (r.AssignedProviderID != "") {
		return fmt.Errorf("request %s: status %s with assigned provider %q", r.ID, r.Status, r.AssignedProviderID)
	}
	return nil
}
