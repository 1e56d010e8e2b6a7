package ports

import (
	"context"
	"time"

	"github.com/meanishn/platform/internal/marketplace"
)

// Store persists service requests and their offers. Mutations of one request
// go through Atomically so they are linearizable per request id.
type Store interface {
	CreateRequest(ctx context.Context, req *marketplace.ServiceRequest) error
	GetRequest(ctx context.Context, requestID string) (*marketplace.ServiceRequest, error)
	ListOffers(ctx context.Context, requestID string) ([]*marketplace.Offer, error)
	OffersForProvider(ctx context.Context, providerID string) ([]*marketplace.Offer, error)

	// Atomically loads the request and every offer on it under an exclusive
	// per-request lock, runs fn, and persists the aggregate only if fn returns
	// nil. Calls for different requests never block each other.
	Atomically(ctx context.Context, requestID string, fn func(*marketplace.Assignment) error) error

	// ExpiredOffers lists offers still notified whose expiry is before now.
	ExpiredOffers(ctx context.Context, now time.Time, limit int) ([]marketplace.OfferKey, error)
}

// ProviderDirectory answers which providers exist and what they can do.
type ProviderDirectory interface {
	ProvidersForCategory(ctx context.Context, categoryID string) ([]marketplace.Provider, error)
	GetProvider(ctx context.Context, providerID string) (*marketplace.Provider, error)
	UpsertProvider(ctx context.Context, p marketplace.Provider) error
	SetAvailability(ctx context.Context, providerID string, available bool) error
}

// NotificationKind names an outbound event.
type NotificationKind string

const (
	NotifyOfferCreated     NotificationKind = "offer_created"
	NotifyProviderSelected NotificationKind = "provider_selected"
	NotifyOfferSuperseded  NotificationKind = "offer_superseded"
	NotifyOfferAccepted    NotificationKind = "offer_accepted"
	NotifyProviderRejected NotificationKind = "provider_rejected"
	NotifyRequestReopened  NotificationKind = "request_reopened"
	NotifyRequestCancelled NotificationKind = "request_cancelled"
	NotifyWorkStarted      NotificationKind = "work_started"
	NotifyWorkCompleted    NotificationKind = "work_completed"
)

// Notification is a fire-and-forget message to one recipient.
type Notification struct {
	Kind        NotificationKind          `json:"kind"`
	RequestID   string                    `json:"request_id"`
	RecipientID string                    `json:"recipient_id"`
	ProviderID  string                    `json:"provider_id,omitempty"`
	Status      marketplace.RequestStatus `json:"status,omitempty"`
	Rank        int                       `json:"rank,omitempty"`
	ExpiresAt   *time.Time                `json:"expires_at,omitempty"`
	Reason      string                    `json:"reason,omitempty"`
	At          time.Time                 `json:"at"`
}

// Notifier delivers notifications. Failures never undo the state change that
// produced the notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// AcceptedCache holds recent snapshots of a request's accepted offers.
type AcceptedCache interface {
	Get(ctx context.Context, requestID string) ([]*marketplace.Offer, bool, error)
	Set(ctx context.Context, requestID string, offers []*marketplace.Offer) error
	Invalidate(ctx context.Context, requestID string) error
}

// Leader decides whether this instance runs singleton background work.
type Leader interface {
	IsLeader(ctx context.Context) bool
}

// Alerter raises an operator alert about a request that needs attention.
type Alerter interface {
	Alert(ctx context.Context, requestID, severity, message string) error
}
