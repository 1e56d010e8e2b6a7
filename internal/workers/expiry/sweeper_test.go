package expiry_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/assignment"
	"github.com/meanishn/platform/internal/marketplace"
	"github.com/meanishn/platform/internal/matching"
	"github.com/meanishn/platform/internal/store/memory"
	"github.com/meanishn/platform/internal/workers/expiry"
)

const ttl = 15 * time.Minute

var origin = marketplace.Location{Lat: 41.8781, Lng: -87.6298}

func electrician(id string, strength, northMiles float64) marketplace.Provider {
	return marketplace.Provider{
		ID:             id,
		Qualifications: []marketplace.Qualification{{CategoryID: "electrical", Strength: strength}},
		Location:       marketplace.Location{Lat: origin.Lat + northMiles/69.0, Lng: origin.Lng},
		Available:      true,
		Rating:         4,
		CompletionRate: 0.8,
	}
}

type fixture struct {
	store   *memory.Store
	clock   *clockwork.FakeClock
	ledger  *assignment.Ledger
	matcher *matching.Matcher
}

func newFixture(t *testing.T, batch int, policy assignment.PoolPolicy, providers ...marketplace.Provider) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 11, 14, 0, 0, 0, time.UTC))
	store := memory.NewStore()
	deps := assignment.Deps{Store: store, Clock: clock, Logger: zap.NewNop()}
	fanout := assignment.NewFanout(deps, assignment.FanoutConfig{BatchSize: batch, OfferTTL: ttl, Policy: policy, MaxRounds: 5})
	m := matching.NewMatcher(store, memory.NewDirectory(providers...), matching.NewScorer(matching.ScoringConfig{}), fanout, clock, zap.NewNop())

	require.NoError(t, store.CreateRequest(context.Background(), &marketplace.ServiceRequest{
		ID:         "req-1",
		CustomerID: "cust-1",
		CategoryID: "electrical",
		Urgency:    marketplace.UrgencyMedium,
		Location:   origin,
		Status:     marketplace.RequestPending,
		CreatedAt:  clock.Now(),
		UpdatedAt:  clock.Now(),
	}))
	_, err := m.Run(context.Background(), "req-1")
	require.NoError(t, err)

	return &fixture{store: store, clock: clock, ledger: assignment.NewLedger(deps), matcher: m}
}

func (f *fixture) sweeper(leader bool) *expiry.Sweeper {
	return expiry.NewSweeper(f.store, f.ledger, f.matcher, staticLeader(leader), f.clock, expiry.Config{}, zap.NewNop())
}

type staticLeader bool

func (l staticLeader) IsLeader(context.Context) bool { return bool(l) }

func TestSweep_NothingLapsed(t *testing.T) {
	f := newFixture(t, 1, assignment.PoolReoffer, electrician("e1", 1, 1))

	st, err := f.sweeper(true).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, expiry.Stats{}, st)
}

func TestSweep_ExpiresAndRematches(t *testing.T) {
	f := newFixture(t, 1, assignment.PoolUnnotified, electrician("e1", 1, 1), electrician("e2", 0.6, 8))
	ctx := context.Background()

	f.clock.Advance(ttl + time.Second)
	st, err := f.sweeper(true).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Scanned)
	assert.Equal(t, 1, st.Expired)
	assert.Equal(t, 1, st.Rematched)

	offers, err := f.store.ListOffers(ctx, "req-1")
	require.NoError(t, err)
	byProvider := map[string]*marketplace.Offer{}
	for _, o := range offers {
		byProvider[o.ProviderID] = o
	}
	require.Len(t, byProvider, 2)
	assert.Equal(t, marketplace.OfferExpired, byProvider["e1"].Status)
	assert.Equal(t, marketplace.OfferNotified, byProvider["e2"].Status)
	assert.Equal(t, 2, byProvider["e2"].Rank)

	req, err := f.store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, marketplace.RequestPending, req.Status)
	assert.Equal(t, 2, req.MatchRounds)

	// A provider answering after the sweep still hears that the offer expired.
	_, err = f.ledger.RecordResponse(ctx, "req-1", "e1", marketplace.DecisionAccept, "")
	assert.ErrorIs(t, err, marketplace.ErrOfferExpired)
}

func TestSweep_ReoffersLapsedProvider(t *testing.T) {
	f := newFixture(t, 1, assignment.PoolReoffer, electrician("e1", 1, 1), electrician("e2", 0.6, 8))
	ctx := context.Background()

	f.clock.Advance(ttl + time.Second)
	st, err := f.sweeper(true).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Expired)
	assert.Equal(t, 1, st.Rematched)

	offers, err := f.store.ListOffers(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "e1", offers[0].ProviderID)
	assert.Equal(t, marketplace.OfferNotified, offers[0].Status)
	assert.Equal(t, 2, offers[0].Rank)
	assert.Equal(t, 2, offers[0].Round)
	assert.Equal(t, f.clock.Now().Add(ttl), offers[0].ExpiresAt)

	_, err = f.ledger.RecordResponse(ctx, "req-1", "e1", marketplace.DecisionAccept, "")
	assert.NoError(t, err)
}

func TestSweep_KeepsAwaitingRequestOpen(t *testing.T) {
	f := newFixture(t, 2, assignment.PoolReoffer, electrician("e1", 1, 1), electrician("e2", 0.6, 8))
	ctx := context.Background()

	_, err := f.ledger.RecordResponse(ctx, "req-1", "e1", marketplace.DecisionAccept, "")
	require.NoError(t, err)

	f.clock.Advance(ttl + time.Second)
	st, err := f.sweeper(true).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Expired)
	assert.Zero(t, st.Rematched)

	req, err := f.store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, marketplace.RequestAwaitingConfirmation, req.Status)
}

func TestSweep_FollowerDoesNothing(t *testing.T) {
	f := newFixture(t, 1, assignment.PoolReoffer, electrician("e1", 1, 1))

	f.clock.Advance(ttl + time.Second)
	st, err := f.sweeper(false).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Scanned)

	offers, err := f.store.ListOffers(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, marketplace.OfferNotified, offers[0].Status)
}

// racingStore reports an offer as lapsed even though a provider answered it
// in the meantime, the way a read outside the row lock can.
type racingStore struct {
	*memory.Store
	keys []marketplace.OfferKey
}

func (r racingStore) ExpiredOffers(context.Context, time.Time, int) ([]marketplace.OfferKey, error) {
	return r.keys, nil
}

func TestSweep_LosesRaceToAccept(t *testing.T) {
	f := newFixture(t, 1, assignment.PoolReoffer, electrician("e1", 1, 1))
	ctx := context.Background()

	_, err := f.ledger.RecordResponse(ctx, "req-1", "e1", marketplace.DecisionAccept, "")
	require.NoError(t, err)

	store := racingStore{Store: f.store, keys: []marketplace.OfferKey{{RequestID: "req-1", ProviderID: "e1"}}}
	s := expiry.NewSweeper(store, f.ledger, f.matcher, staticLeader(true), f.clock, expiry.Config{}, zap.NewNop())

	st, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Stale)
	assert.Zero(t, st.Expired)

	offers, err := f.store.ListOffers(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, marketplace.OfferAccepted, offers[0].Status)
}

func TestRun_StopsWithContext(t *testing.T) {
	f := newFixture(t, 1, assignment.PoolReoffer, electrician("e1", 1, 1))
	s := expiry.NewSweeper(f.store, f.ledger, f.matcher, nil, f.clock, expiry.Config{Schedule: "@every 1h"}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestRun_RejectsBadSchedule(t *testing.T) {
	f := newFixture(t, 1, assignment.PoolReoffer)
	s := expiry.NewSweeper(f.store, f.ledger, f.matcher, nil, f.clock, expiry.Config{Schedule: "whenever"}, zap.NewNop())
	assert.Error(t, s.Run(context.Background()))
}
