package assignment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/assignment"
	"github.com/meanishn/platform/internal/marketplace"
	"github.com/meanishn/platform/internal/ports"
	"github.com/meanishn/platform/internal/store/memory"
)

const (
	customer = "cust-1"
	reqID    = "req-1"
	ttl      = 15 * time.Minute
)

// recorder is a Notifier that keeps everything it is given.
type recorder struct {
	mu    sync.Mutex
	notes []ports.Notification
	fail  bool
}

func (r *recorder) Notify(_ context.Context, n ports.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	if r.fail {
		return errors.New("sink unavailable")
	}
	return nil
}

func (r *recorder) kinds(recipient string) []ports.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ports.NotificationKind
	for _, n := range r.notes {
		if n.RecipientID == recipient {
			out = append(out, n.Kind)
		}
	}
	return out
}

type env struct {
	store     *memory.Store
	clock     *clockwork.FakeClock
	notifier  *recorder
	fanout    *assignment.Fanout
	ledger    *assignment.Ledger
	lifecycle *assignment.Lifecycle
}

func newEnv(t *testing.T, cfg assignment.FanoutConfig) *env {
	t.Helper()
	e := &env{
		store:    memory.NewStore(),
		clock:    clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)),
		notifier: &recorder{},
	}
	deps := assignment.Deps{Store: e.store, Notifier: e.notifier, Clock: e.clock, Logger: zap.NewNop()}
	if cfg.OfferTTL == 0 {
		cfg.OfferTTL = ttl
	}
	e.fanout = assignment.NewFanout(deps, cfg)
	e.ledger = assignment.NewLedger(deps)
	e.lifecycle = assignment.NewLifecycle(deps)

	now := e.clock.Now()
	require.NoError(t, e.store.CreateRequest(context.Background(), &marketplace.ServiceRequest{
		ID:         reqID,
		CustomerID: customer,
		CategoryID: "plumbing",
		Urgency:    marketplace.UrgencyHigh,
		Status:     marketplace.RequestPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))
	return e
}

// ranked builds candidates in the given order with descending scores.
func ranked(ids ...string) []marketplace.Candidate {
	out := make([]marketplace.Candidate, 0, len(ids))
	for i, id := range ids {
		out = append(out, marketplace.Candidate{
			ProviderID:    id,
			Score:         float64(95 - 5*i),
			Distance:      float64(i),
			CategoryMatch: true,
			Available:     true,
			Rank:          i + 1,
		})
	}
	return out
}

func (e *env) dispatch(t *testing.T, cands []marketplace.Candidate) *assignment.DispatchResult {
	t.Helper()
	res, err := e.fanout.Dispatch(context.Background(), reqID, cands)
	require.NoError(t, err)
	return res
}

func (e *env) accept(t *testing.T, providerID string) *assignment.ResponseResult {
	t.Helper()
	res, err := e.ledger.RecordResponse(context.Background(), reqID, providerID, marketplace.DecisionAccept, "")
	require.NoError(t, err)
	return res
}

func (e *env) request(t *testing.T) *marketplace.ServiceRequest {
	t.Helper()
	r, err := e.store.GetRequest(context.Background(), reqID)
	require.NoError(t, err)
	return r
}

func (e *env) offer(t *testing.T, providerID string) *marketplace.Offer {
	t.Helper()
	offers, err := e.store.ListOffers(context.Background(), reqID)
	require.NoError(t, err)
	for _, o := range offers {
		if o.ProviderID == providerID {
			return o
		}
	}
	t.Fatalf("no offer for %s", providerID)
	return nil
}

// assertOneSelected checks that at most one offer is selected and that it
// matches the request's assigned provider.
func (e *env) assertOneSelected(t *testing.T) {
	t.Helper()
	offers, err := e.store.ListOffers(context.Background(), reqID)
	require.NoError(t, err)
	req := e.request(t)

	var selected []string
	for _, o := range offers {
		if o.Selected {
			selected = append(selected, o.ProviderID)
		}
	}
	require.LessOrEqual(t, len(selected), 1, "selected offers: %v", selected)
	if len(selected) == 1 {
		require.Equal(t, selected[0], req.AssignedProviderID)
	}
	require.NoError(t, req.CheckInvariants())
}
