package marketplace

// RequestStatus is the lifecycle state of a ServiceRequest.
type RequestStatus string

const (
	RequestPending              RequestStatus = "pending"
	RequestAwaitingConfirmation RequestStatus = "awaiting_customer_confirmation"
	RequestConfirmed            RequestStatus = "confirmed"
	RequestAssigned             RequestStatus = "assigned"
	RequestInProgress           RequestStatus = "in_progress"
	RequestCompleted            RequestStatus = "completed"
	RequestCancelled            RequestStatus = "cancelled"
)

// RequestStatuses lists every request status in lifecycle order.
var RequestStatuses = []RequestStatus{
	RequestPending,
	RequestAwaitingConfirmation,
	RequestConfirmed,
	RequestAssigned,
	RequestInProgress,
	RequestCompleted,
	RequestCancelled,
}

// IsTerminal returns true if no further events are accepted.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestCompleted || s == RequestCancelled
}

// HasProvider reports whether a request in this status carries an assigned provider.
func (s RequestStatus) HasProvider() bool {
	switch s {
	case RequestConfirmed, RequestAssigned, RequestInProgress, RequestCompleted:
		return true
	default:
		return false
	}
}

// OpenForOffers reports whether providers may still respond to offers.
func (s RequestStatus) OpenForOffers() bool {
	return s == RequestPending || s == RequestAwaitingConfirmation
}

// Valid reports whether s is a known status.
func (s RequestStatus) Valid() bool {
	for _, v := range RequestStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// OfferStatus is the state of one provider's offer.
type OfferStatus string

const (
	OfferNotified   OfferStatus = "notified"
	OfferAccepted   OfferStatus = "accepted"
	OfferDeclined   OfferStatus = "declined"
	OfferExpired    OfferStatus = "expired"
	OfferSuperseded OfferStatus = "superseded"
)

// Valid reports whether s is a known offer status.
func (s OfferStatus) Valid() bool {
	switch s {
	case OfferNotified, OfferAccepted, OfferDeclined, OfferExpired, OfferSuperseded:
		return true
	default:
		return false
	}
}

// DeclinedBy records who declined an offer.
type DeclinedBy string

const (
	DeclinedByProvider DeclinedBy = "provider"
	DeclinedByCustomer DeclinedBy = "customer"
)

// Decision is a provider's answer to an offer.
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
)

// Event drives a request from one status to the next.
type Event string

const (
	EventOfferAccepted    Event = "offer_accepted"
	EventOffersLapsed     Event = "offers_lapsed"
	EventProviderSelected Event = "provider_selected"
	EventProviderAssigned Event = "provider_assigned"
	EventProviderRejected Event = "provider_rejected"
	EventWorkStarted      Event = "work_started"
	EventWorkCompleted    Event = "work_completed"
	EventCancelled        Event = "cancelled"
)

// Events lists every lifecycle event.
var Events = []Event{
	EventOfferAccepted,
	EventOffersLapsed,
	EventProviderSelected,
	EventProviderAssigned,
	EventProviderRejected,
	EventWorkStarted,
	EventWorkCompleted,
	EventCancelled,
}
