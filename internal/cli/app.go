package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/alerts"
	"github.com/meanishn/platform/internal/api"
	"github.com/meanishn/platform/internal/assignment"
	"github.com/meanishn/platform/internal/config"
	"github.com/meanishn/platform/internal/db"
	"github.com/meanishn/platform/internal/events"
	"github.com/meanishn/platform/internal/matching"
	"github.com/meanishn/platform/internal/messaging"
	"github.com/meanishn/platform/internal/ports"
	"github.com/meanishn/platform/internal/redisstore"
	"github.com/meanishn/platform/internal/store/memory"
	"github.com/meanishn/platform/internal/workers/expiry"
)

// pinger is implemented by both store backends.
type pinger interface {
	Ping(ctx context.Context) error
}

// app is the wired service. close releases everything it opened, in
// reverse order.
type app struct {
	cfg       config.Config
	store     ports.Store
	directory ports.ProviderDirectory
	ready     func(context.Context) error

	hub       *messaging.Hub
	handler   *api.Handler
	sweeper   *expiry.Sweeper
	processor *alerts.Processor

	closers []func() error
}

func (a *app) close(logger *zap.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.close(logger)
		}
	}()

	var checks []pinger
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		st := db.NewStore(pool)
		a.store, a.directory = st, db.NewDirectory(pool)
		checks = append(checks, st)
	default:
		st := memory.NewStore()
		a.store, a.directory = st, memory.NewDirectory()
		checks = append(checks, st)
		logger.Warn("using in-memory store; state is lost on restart")
	}

	var (
		rdb   *redis.Client
		cache ports.AcceptedCache
		queue *alerts.Queue
	)
	if cfg.RedisAddr != "" {
		var err error
		rdb, err = redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		checks = append(checks, redisPinger{rdb})
		cache = redisstore.NewAcceptedCache(rdb, cfg.Cache.AcceptedTTL)

		opt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		queue = alerts.NewQueue(opt, cfg.OpsEmail)
		a.closers = append(a.closers, queue.Close)

		mailer, err := newMailer(cfg.Mail)
		if err != nil {
			return nil, err
		}
		a.processor = alerts.NewProcessor(opt, cfg.Asynq.Concurrency, alerts.LogNotifier{Logger: logger.Named("deliver")}, mailer, logger)
	}

	a.hub = messaging.NewHub(logger)
	sinks := alerts.Multi{a.hub}
	if queue != nil {
		sinks = append(sinks, queue)
	} else {
		sinks = append(sinks, alerts.LogNotifier{Logger: logger.Named("notify")})
	}
	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewPublisher(events.NewWriter(cfg.KafkaBrokers), cfg.KafkaTopic)
		a.closers = append(a.closers, pub.Close)
		sinks = append(sinks, pub)
	}

	// Closed after the sinks were appended, so queued notifications drain
	// before any sink shuts down.
	notifier := alerts.NewAsync(sinks, cfg.Notify, logger)
	a.closers = append(a.closers, notifier.Close)

	deps := assignment.Deps{
		Store:    a.store,
		Notifier: notifier,
		Cache:    cache,
		Logger:   logger,
	}
	fanout := assignment.NewFanout(deps, cfg.Fanout)
	ledger := assignment.NewLedger(deps)
	matcher := matching.NewMatcher(a.store, a.directory, matching.NewScorer(cfg.Scoring), fanout, nil, logger)
	if queue != nil && cfg.OpsEmail != "" {
		matcher.WithAlerter(queue)
	}

	a.handler = api.New(api.Services{
		Lifecycle: assignment.NewLifecycle(deps),
		Ledger:    ledger,
		Matcher:   matcher,
		Store:     a.store,
		Directory: a.directory,
		Logger:    logger,
	})

	var leader ports.Leader = redisstore.Always{}
	if cfg.Sweep.LeaderElection && rdb != nil {
		host, _ := os.Hostname()
		l := redisstore.NewLeader(rdb, "marketplace:sweeper:leader", host+"-"+uuid.NewString()[:8], 0, logger)
		a.closers = append(a.closers, func() error { l.Resign(context.Background()); return nil })
		leader = l
	}
	a.sweeper = expiry.NewSweeper(a.store, ledger, matcher, leader, nil, cfg.Sweep.Config, logger)

	a.ready = func(ctx context.Context) error {
		var errs []error
		for _, c := range checks {
			errs = append(errs, c.Ping(ctx))
		}
		return errors.Join(errs...)
	}
	ok = true
	return a, nil
}

func openPostgres(ctx context.Context, cfg config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	dsn := cfg.PostgresDSN
	if dsn == "" {
		dsn = db.DSNFromEnv()
	}
	pool, err := db.Connect(ctx, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return pool, nil
}

func newMailer(cfg alerts.MailConfig) (*alerts.Mailer, error) {
	if cfg.SMTP.Host == "" && cfg.Plunk.APIKey == "" {
		return nil, nil
	}
	return alerts.NewMailer(cfg)
}

type redisPinger struct{ c *redis.Client }

func (r redisPinger) Ping(ctx context.Context) error { return r.c.Ping(ctx).Err() }
