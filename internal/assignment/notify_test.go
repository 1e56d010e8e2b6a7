package assignment_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/alerts"
	"github.com/meanishn/platform/internal/assignment"
	"github.com/meanishn/platform/internal/marketplace"
	"github.com/meanishn/platform/internal/ports"
	"github.com/meanishn/platform/internal/store/memory"
)

type sluggishSink struct{ delivered atomic.Int32 }

func (s *sluggishSink) Notify(context.Context, ports.Notification) error {
	time.Sleep(200 * time.Millisecond)
	s.delivered.Add(1)
	return nil
}

func TestSlowSinkDoesNotDelayWrites(t *testing.T) {
	ctx := context.Background()
	sink := &sluggishSink{}
	notifier := alerts.NewAsync(sink, alerts.AsyncConfig{Workers: 2, QueueSize: 64}, zap.NewNop())

	store := memory.NewStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	deps := assignment.Deps{Store: store, Notifier: notifier, Clock: clock, Logger: zap.NewNop()}
	fanout := assignment.NewFanout(deps, assignment.FanoutConfig{OfferTTL: ttl})
	ledger := assignment.NewLedger(deps)

	now := clock.Now()
	require.NoError(t, store.CreateRequest(ctx, &marketplace.ServiceRequest{
		ID: reqID, CustomerID: customer, CategoryID: "plumbing",
		Status: marketplace.RequestPending, CreatedAt: now, UpdatedAt: now,
	}))

	start := time.Now()
	res, err := fanout.Dispatch(ctx, reqID, ranked("p1", "p2", "p3", "p4", "p5"))
	require.NoError(t, err)
	require.Len(t, res.Offers, 5)
	for _, p := range []string{"p1", "p2", "p3"} {
		_, err := ledger.RecordResponse(ctx, reqID, p, marketplace.DecisionAccept, "")
		require.NoError(t, err)
	}
	sel, err := ledger.SelectProvider(ctx, customer, reqID, "p1")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond, "writes waited on the sink")
	assert.NotEmpty(t, sel.Superseded)

	require.NoError(t, notifier.Close())
	assert.GreaterOrEqual(t, sink.delivered.Load(), int32(5+3+1))
}
