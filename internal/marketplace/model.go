package marketplace

import (
	"sort"
	"time"
)

// Urgency expresses how soon the customer needs the job done.
type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyMedium    Urgency = "medium"
	UrgencyHigh      Urgency = "high"
	UrgencyEmergency Urgency = "emergency"
)

// Valid reports whether u is one of the known urgency levels.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyEmergency:
		return true
	default:
		return false
	}
}

// Location is a geocoded point plus the address it was resolved from.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// ServiceRequest is a customer's request for a service in one category.
type ServiceRequest struct {
	ID             string        `json:"id"`
	CustomerID     string        `json:"customer_id"`
	CategoryID     string        `json:"category_id"`
	TierID         string        `json:"tier_id,omitempty"`
	Urgency        Urgency       `json:"urgency"`
	EstimatedHours float64       `json:"estimated_hours"`
	Location       Location      `json:"location"`
	PreferredDate  *time.Time    `json:"preferred_date,omitempty"`
	Status         RequestStatus `json:"status"`

	AssignedProviderID  string     `json:"assigned_provider_id,omitempty"`
	AssignedAt          *time.Time `json:"assigned_at,omitempty"`
	ProviderAcceptedAt  *time.Time `json:"provider_accepted_at,omitempty"`
	CustomerConfirmedAt *time.Time `json:"customer_confirmed_at,omitempty"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
	CancelReason        string     `json:"cancel_reason,omitempty"`

	// MatchRounds counts how many times the matching pipeline dispatched offers.
	MatchRounds int       `json:"match_rounds"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Offer is one provider's notification of, and response to, a request.
type Offer struct {
	RequestID     string      `json:"request_id"`
	ProviderID    string      `json:"provider_id"`
	MatchScore    float64     `json:"match_score"`
	Rank          int         `json:"rank"`
	Distance      float64     `json:"distance_miles"`
	Status        OfferStatus `json:"status"`
	Selected      bool        `json:"selected"`
	DeclinedBy    DeclinedBy  `json:"declined_by,omitempty"`
	DeclineReason string      `json:"decline_reason,omitempty"`
	Round         int         `json:"round"`
	NotifiedAt    time.Time   `json:"notified_at"`
	RespondedAt   *time.Time  `json:"responded_at,omitempty"`
	ExpiresAt     time.Time   `json:"expires_at"`
}

// Live reports whether the offer still holds the provider's slot on the request.
func (o *Offer) Live(now time.Time) bool {
	switch o.Status {
	case OfferAccepted:
		return true
	case OfferNotified:
		return now.Before(o.ExpiresAt)
	default:
		return false
	}
}

// OfferKey identifies an offer.
type OfferKey struct {
	RequestID  string
	ProviderID string
}

// Qualification is a provider's fitness for one category; Strength is in [0,1].
type Qualification struct {
	CategoryID string  `json:"category_id"`
	Strength   float64 `json:"strength"`
}

// Provider is a directory entry used by the matching pipeline.
type Provider struct {
	ID             string          `json:"id"`
	Name           string          `json:"name,omitempty"`
	Qualifications []Qualification `json:"qualifications"`
	Location       Location        `json:"location"`
	Available      bool            `json:"available"`
	Rating         float64         `json:"rating"`          // 0..5
	CompletionRate float64         `json:"completion_rate"` // 0..1
}

// QualificationFor returns the provider's qualification for a category.
func (p Provider) QualificationFor(categoryID string) (Qualification, bool) {
	for _, q := range p.Qualifications {
		if q.CategoryID == categoryID {
			return q, true
		}
	}
	return Qualification{}, false
}

// Candidate is an eligible provider scored against one request. It is
// computed per matching run and never persisted.
type Candidate struct {
	ProviderID    string  `json:"provider_id"`
	CategoryMatch bool    `json:"category_match"`
	Available     bool    `json:"available"`
	Distance      float64 `json:"distance_miles"`
	Score         float64 `json:"score"`
	Rank          int     `json:"rank"`
}

// Assignment is the aggregate a store locks and hands to ledger operations:
// the request row together with every offer made on it.
type Assignment struct {
	Request *ServiceRequest
	Offers  []*Offer
}

// Offer returns the offer made to providerID, or nil.
func (a *Assignment) Offer(providerID string) *Offer {
	for _, o := range a.Offers {
		if o.ProviderID == providerID {
			return o
		}
	}
	return nil
}

// Accepted returns the accepted offers ordered by rank. Once a provider is
// confirmed their selected offer is the only one left accepted.
func (a *Assignment) Accepted() []*Offer {
	var out []*Offer
	for _, o := range a.Offers {
		if o.Status == OfferAccepted {
			out = append(out, o)
		}
	}
	SortByRank(out)
	return out
}

// Outstanding counts offers that may still turn into an accepted offer or already are one.
func (a *Assignment) Outstanding(now time.Time) int {
	n := 0
	for _, o := range a.Offers {
		if o.Live(now) {
			n++
		}
	}
	return n
}

// MaxRank is the highest rank recorded on the request, 0 if none.
func (a *Assignment) MaxRank() int {
	highest := 0
	for _, o := range a.Offers {
		if o.Rank > highest {
			highest = o.Rank
		}
	}
	return highest
}

// Clone deep-copies the aggregate so a store can discard changes on rollback.
func (a *Assignment) Clone() *Assignment {
	out := &Assignment{}
	if a.Request != nil {
		r := *a.Request
		out.Request = &r
	}
	out.Offers = make([]*Offer, len(a.Offers))
	for i, o := range a.Offers {
		c := *o
		out.Offers[i] = &c
	}
	return out
}

// SortByRank orders offers by ascending rank, then provider id.
func SortByRank(offers []*Offer) {
	sort.Slice(offers, func(i, j int) bool {
		if offers[i].Rank != offers[j].Rank {
			return offers[i].Rank < offers[j].Rank
		}
		return offers[i].ProviderID < offers[j].ProviderID
	})
}
