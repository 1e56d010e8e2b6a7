package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// renewScript extends the lease only when this instance still owns it.
var renewScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// Leader elects one instance among many with a SETNX lease.
type Leader struct {
	client     *redis.Client
	key        string
	instanceID string
	ttl        time.Duration
	logger     *zap.Logger
}

func NewLeader(client *redis.Client, key, instanceID string, ttl time.Duration, logger *zap.Logger) *Leader {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Leader{
		client:     client,
		key:        key,
		instanceID: instanceID,
		ttl:        ttl,
		logger:     logger.Named("leader"),
	}
}

// IsLeader acquires or renews the lease and reports whether this instance holds it.
func (l *Leader) IsLeader(ctx context.Context) bool {
	ok, err := l.client.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
	if err != nil {
		l.logger.Error("leader election SetNX", zap.Error(err))
		return false
	}
	if ok {
		l.logger.Info("acquired leadership", zap.String("key", l.key), zap.String("instance_id", l.instanceID))
		return true
	}

	res, err := renewScript.Run(ctx, l.client, []string{l.key}, l.instanceID, l.ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		l.logger.Error("leader renewal", zap.Error(err))
		return false
	}
	return res == 1
}

// Resign releases the lease if this instance holds it.
func (l *Leader) Resign(ctx context.Context) {
	cur, err := l.client.Get(ctx, l.key).Result()
	if err != nil || cur != l.instanceID {
		return
	}
	_ = l.client.Del(ctx, l.key).Err()
}

// Always is a Leader for single-instance deployments.
type Always struct{}

func (Always) IsLeader(context.Context) bool { return true }
