// Package expiry periodically moves lapsed offers to expired and re-runs
// matching for requests left without any live offer.
package expiry

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/assignment"
	"github.com/meanishn/platform/internal/marketplace"
	"github.com/meanishn/platform/internal/matching"
	"github.com/meanishn/platform/internal/ports"
	"github.com/meanishn/platform/internal/redisstore"
	"github.com/meanishn/platform/internal/telemetry"
)

// Rematcher runs another matching round for a request.
type Rematcher interface {
	Run(ctx context.Context, requestID string) (*matching.Outcome, error)
}

// Config tunes the sweep.
type Config struct {
	Schedule string `mapstructure:"schedule"`
	// Batch caps how many lapsed offers one sweep handles; 0 means all.
	Batch int `mapstructure:"batch"`
}

// Stats counts what one sweep did.
type Stats struct {
	Scanned   int
	Expired   int
	Stale     int
	Rematched int
	Failed    int
}

type Sweeper struct {
	store   ports.Store
	ledger  *assignment.Ledger
	rematch Rematcher
	leader  ports.Leader
	clock   clockwork.Clock
	cfg     Config
	logger  *zap.Logger
}

func NewSweeper(store ports.Store, ledger *assignment.Ledger, rematch Rematcher, leader ports.Leader, clock clockwork.Clock, cfg Config, logger *zap.Logger) *Sweeper {
	if leader == nil {
		leader = redisstore.Always{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 30s"
	}
	return &Sweeper{
		store:   store,
		ledger:  ledger,
		rematch: rematch,
		leader:  leader,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("sweeper"),
	}
}

// Sweep expires every lapsed offer found in one pass. Losing the
// compare-and-set to a provider response is expected and only counted.
// Instances that are not the leader do nothing.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	var st Stats
	if !s.leader.IsLeader(ctx) {
		return st, nil
	}
	start := time.Now()
	defer func() { telemetry.SweepDuration.Observe(time.Since(start).Seconds()) }()

	keys, err := s.store.ExpiredOffers(ctx, s.clock.Now(), s.cfg.Batch)
	if err != nil {
		return st, err
	}
	st.Scanned = len(keys)

	exhausted := make(map[string]bool)
	var order []string
	for _, key := range keys {
		res, err := s.ledger.ExpireOffer(ctx, key)
		var stale *marketplace.StaleOfferError
		switch {
		case errors.As(err, &stale):
			st.Stale++
			s.logger.Debug("offer resolved before expiry",
				zap.String("request_id", key.RequestID),
				zap.String("provider_id", key.ProviderID),
				zap.String("status", string(stale.Actual)))
			continue
		case err != nil:
			st.Failed++
			s.logger.Error("expire offer",
				zap.String("request_id", key.RequestID),
				zap.String("provider_id", key.ProviderID),
				zap.Error(err))
			continue
		}
		if res.Expired {
			st.Expired++
		}
		if res.Exhausted && !exhausted[key.RequestID] {
			exhausted[key.RequestID] = true
			order = append(order, key.RequestID)
		}
	}

	for _, id := range order {
		if s.rematch == nil {
			break
		}
		if _, err := s.rematch.Run(ctx, id); err != nil {
			st.Failed++
			s.logger.Error("rematch after expiry", zap.String("request_id", id), zap.Error(err))
			continue
		}
		st.Rematched++
	}

	if st.Scanned > 0 {
		s.logger.Info("sweep finished",
			zap.Int("scanned", st.Scanned),
			zap.Int("expired", st.Expired),
			zap.Int("stale", st.Stale),
			zap.Int("rematched", st.Rematched),
			zap.Int("failed", st.Failed))
	}
	return st, nil
}

// Run sweeps once immediately, then on the configured cron schedule until
// ctx is cancelled. Overlapping sweeps are skipped.
func (s *Sweeper) Run(ctx context.Context) error {
	logger := cronLogger{s.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.tick(ctx) }); err != nil {
		return err
	}

	s.tick(ctx)
	c.Start()
	s.logger.Info("sweeper started", zap.String("schedule", s.cfg.Schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("sweeper stopped")
	return nil
}

func (s *Sweeper) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("sweep failed", zap.Error(err))
	}
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
