package assignment

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/marketplace"
	"github.com/meanishn/platform/internal/ports"
	"github.com/meanishn/platform/internal/telemetry"
)

// FanoutConfig controls how many offers one round sends and how long they live.
type FanoutConfig struct {
	// BatchSize caps offers per round; 0 sends to every candidate.
	BatchSize int           `mapstructure:"batch_size"`
	OfferTTL  time.Duration `mapstructure:"offer_ttl"`
	Policy    PoolPolicy    `mapstructure:"rematch_policy"`
	// MaxRounds caps matching rounds per request; 0 means unlimited.
	MaxRounds int `mapstructure:"max_rounds"`
}

// DispatchResult describes one fanout round.
type DispatchResult struct {
	Round  int                 `json:"round"`
	Offers []marketplace.Offer `json:"offers"`
	// Skipped is set when the request was not open for offers.
	Skipped bool `json:"skipped,omitempty"`
}

// Fanout turns ranked candidates into offers and notifies the providers.
type Fanout struct {
	base
	cfg FanoutConfig
}

func NewFanout(d Deps, cfg FanoutConfig) *Fanout {
	if cfg.OfferTTL <= 0 {
		cfg.OfferTTL = 15 * time.Minute
	}
	if cfg.Policy == "" {
		cfg.Policy = PoolReoffer
	}
	return &Fanout{base: newBase(d, "fanout"), cfg: cfg}
}

// Config returns the effective configuration.
func (f *Fanout) Config() FanoutConfig { return f.cfg }

// Dispatch records an offer for the best ranked candidates that do not already
// hold a live offer, then notifies them. Dispatching the same candidates twice
// creates no duplicate offers. Ranks continue after the highest rank already
// on the request, so they stay unique per request.
func (f *Fanout) Dispatch(ctx context.Context, requestID string, ranked []marketplace.Candidate) (res *DispatchResult, err error) {
	ctx, span := f.span(ctx, "fanout.dispatch", requestID)
	defer func() { endSpan(span, err) }()

	now := f.clock.Now()
	res = &DispatchResult{}
	var status marketplace.RequestStatus

	err = f.store.Atomically(ctx, requestID, func(a *marketplace.Assignment) error {
		r := a.Request
		if !r.Status.OpenForOffers() {
			res.Skipped = true
			return nil
		}

		excluded := Excluded(a.Offers, f.cfg.Policy, now)
		offset := a.MaxRank()
		round := r.MatchRounds + 1
		expires := now.Add(f.cfg.OfferTTL)

		var made []marketplace.Offer
		for _, c := range ranked {
			if f.cfg.BatchSize > 0 && len(made) >= f.cfg.BatchSize {
				break
			}
			if excluded[c.ProviderID] {
				continue
			}
			o := a.Offer(c.ProviderID)
			if o == nil {
				o = &marketplace.Offer{RequestID: requestID, ProviderID: c.ProviderID}
				a.Offers = append(a.Offers, o)
			}
			*o = marketplace.Offer{
				RequestID:  requestID,
				ProviderID: c.ProviderID,
				MatchScore: c.Score,
				Rank:       offset + len(made) + 1,
				Distance:   c.Distance,
				Status:     marketplace.OfferNotified,
				Round:      round,
				NotifiedAt: now,
				ExpiresAt:  expires,
			}
			excluded[c.ProviderID] = true
			made = append(made, *o)
		}

		if len(made) > 0 {
			r.MatchRounds = round
			if now.After(r.UpdatedAt) {
				r.UpdatedAt = now
			}
		}
		status = r.Status
		res.Round = r.MatchRounds
		res.Offers = made
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("offers.created", len(res.Offers)))
	telemetry.OffersDispatched.Add(float64(len(res.Offers)))

	notes := make([]ports.Notification, 0, len(res.Offers))
	for _, o := range res.Offers {
		notes = append(notes, ports.Notification{
			Kind:        ports.NotifyOfferCreated,
			RequestID:   requestID,
			RecipientID: o.ProviderID,
			ProviderID:  o.ProviderID,
			Status:      status,
			Rank:        o.Rank,
			ExpiresAt:   timePtr(o.ExpiresAt),
			At:          now,
		})
	}
	f.notify(ctx, notes)

	f.logger.Info("offers dispatched",
		zap.String("request_id", requestID),
		zap.Int("round", res.Round),
		zap.Int("offers", len(res.Offers)),
		zap.Bool("skipped", res.Skipped))
	return res, nil
}
