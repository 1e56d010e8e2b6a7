package alerts

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meanishn/platform/internal/ports"
	"github.com/meanishn/platform/internal/telemetry"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("notification queue closed")
)

// AsyncConfig sizes the background delivery queue.
type AsyncConfig struct {
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type job struct {
	ctx context.Context
	n   ports.Notification
}

// Async queues notifications for background workers and returns at once.
// Each request id is pinned to one worker, so a request's notifications
// reach the sink in the order they were queued.
type Async struct {
	next    ports.Notifier
	lanes   []chan job
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsync(next ports.Notifier, cfg AsyncConfig, logger *zap.Logger) *Async {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Async{
		next:    next,
		lanes:   make([]chan job, cfg.Workers),
		timeout: cfg.Timeout,
		logger:  logger.Named("notify"),
	}
	perLane := max(1, cfg.QueueSize/cfg.Workers)
	for i := range a.lanes {
		a.lanes[i] = make(chan job, perLane)
		a.wg.Add(1)
		go a.work(a.lanes[i])
	}
	return a
}

// Notify implements ports.Notifier. It never blocks: when the request's lane
// is full the notification is dropped and ErrQueueFull returned.
func (a *Async) Notify(ctx context.Context, n ports.Notification) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.lanes[a.lane(n.RequestID)] <- job{ctx: context.WithoutCancel(ctx), n: n}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *Async) lane(requestID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(requestID))
	return int(h.Sum32() % uint32(len(a.lanes)))
}

func (a *Async) work(lane <-chan job) {
	defer a.wg.Done()
	for j := range lane {
		ctx, cancel := context.WithTimeout(j.ctx, a.timeout)
		err := a.next.Notify(ctx, j.n)
		cancel()
		if err != nil {
			telemetry.NotificationFailures.WithLabelValues(string(j.n.Kind)).Inc()
			a.logger.Warn("notification delivery failed",
				zap.String("kind", string(j.n.Kind)),
				zap.String("request_id", j.n.RequestID),
				zap.String("recipient_id", j.n.RecipientID),
				zap.Error(err))
		}
	}
}

// Close stops accepting notifications and waits for the queued ones to be
// delivered.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	for _, lane := range a.lanes {
		close(lane)
	}
	a.mu.Unlock()
	a.wg.Wait()
	return nil
}
