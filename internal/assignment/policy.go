package assignment

import (
	"fmt"
	"time"

	"github.com/meanishn/platform/internal/marketplace"
)

// PoolPolicy decides which providers a later matching round may offer to.
type PoolPolicy string

const (
	// PoolUnnotified only offers to providers the request never reached.
	PoolUnnotified PoolPolicy = "unnotified"
	// PoolReoffer also re-arms offers that expired or were superseded.
	// Offers declined by the provider or rejected by the customer are never re-armed.
	PoolReoffer PoolPolicy = "reoffer"
)

// ParsePoolPolicy validates a configured policy name.
func ParsePoolPolicy(s string) (PoolPolicy, error) {
	switch p := PoolPolicy(s); p {
	case PoolUnnotified, PoolReoffer:
		return p, nil
	case "":
		return PoolReoffer, nil
	default:
		return "", fmt.Errorf("unknown rematch policy %q", s)
	}
}

// Excluded returns the providers that must not receive a new offer for a
// request whose offers are given. Providers holding a live offer are always
// excluded.
func Excluded(offers []*marketplace.Offer, policy PoolPolicy, now time.Time) map[string]bool {
	out := make(map[string]bool, len(offers))
	for _, o := range offers {
		if !reofferable(o, policy, now) {
			out[o.ProviderID] = true
		}
	}
	return out
}

func reofferable(o *marketplace.Offer, policy PoolPolicy, now time.Time) bool {
	if policy != PoolReoffer {
		return false
	}
	switch o.Status {
	case marketplace.OfferExpired, marketplace.OfferSuperseded:
		return true
	case marketplace.OfferNotified:
		// lapsed but not yet swept
		return !now.Before(o.ExpiresAt)
	default:
		return false
	}
}
