package marketplace

import (
	"errors"
	"fmt"
)

// Expected outcomes of racing with other actors or acting out of turn.
// None of them is a server fault.
var (
	ErrNotFound             = errors.New("service request not found")
	ErrOfferNotFound        = errors.New("offer not found")
	ErrOfferAlreadyResolved = errors.New("offer already resolved")
	ErrOfferExpired         = errors.New("offer expired")
	ErrAlreadyConfirmed     = errors.New("request already has a confirmed provider")
	ErrNotAssignedProvider  = errors.New("caller is not the assigned provider")
	ErrNotRequestOwner      = errors.New("caller does not own this request")
	ErrTooLateToReject      = errors.New("work has already started")
)

// InvalidTransitionError is returned when an event is not legal in the
// request's current status. The request is left unchanged.
type InvalidTransitionError struct {
	RequestID string
	From      RequestStatus
	Event     Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("request %s: event %q not allowed in status %q", e.RequestID, e.Event, e.From)
}

// StaleOfferError is returned to the loser of a compare-and-set on an offer's
// status. The caller should re-read the offer and decide again.
type StaleOfferError struct {
	RequestID  string
	ProviderID string
	Expected   OfferStatus
	Actual     OfferStatus
}

func (e *StaleOfferError) Error() string {
	return fmt.Sprintf("offer %s/%s: expected status %q, found %q", e.RequestID, e.ProviderID, e.Expected, e.Actual)
}

// IsDomainError reports whether err is one of the expected outcomes above,
// as opposed to an infrastructure failure.
func IsDomainError(err error) bool {
	if err == nil {
		return false
	}
	var invalid *InvalidTransitionError
	var stale *StaleOfferError
	if errors.As(err, &invalid) || errors.As(err, &stale) {
		return true
	}
	for _, target := range []error{
		ErrNotFound, ErrOfferNotFound, ErrOfferAlreadyResolved, ErrOfferExpired,
		ErrAlreadyConfirmed, ErrNotAssignedProvider, ErrNotRequestOwner, ErrTooLateToReject,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
