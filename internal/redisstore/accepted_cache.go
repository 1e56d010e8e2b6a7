package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meanishn/platform/internal/marketplace"
)

const acceptedKeyPrefix = "accepted:"

// AcceptedCache stores JSON snapshots of a request's accepted offers with a
// short TTL. Writers invalidate the key after every committed change.
type AcceptedCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAcceptedCache(client *redis.Client, ttl time.Duration) *AcceptedCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &AcceptedCache{client: client, ttl: ttl}
}

func acceptedKey(requestID string) string { return acceptedKeyPrefix + requestID }

func (c *AcceptedCache) Get(ctx context.Context, requestID string) ([]*marketplace.Offer, bool, error) {
	raw, err := c.client.Get(ctx, acceptedKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", requestID, err)
	}
	offers, err := decodeOffers(raw)
	if err != nil {
		return nil, false, err
	}
	return offers, true, nil
}

func (c *AcceptedCache) Set(ctx context.Context, requestID string, offers []*marketplace.Offer) error {
	raw, err := json.Marshal(offers)
	if err != nil {
		return fmt.Errorf("encode offers: %w", err)
	}
	return c.client.Set(ctx, acceptedKey(requestID), raw, c.ttl).Err()
}

func (c *AcceptedCache) Invalidate(ctx context.Context, requestID string) error {
	return c.client.Del(ctx, acceptedKey(requestID)).Err()
}

func decodeOffers(raw []byte) ([]*marketplace.Offer, error) {
	var offers []*marketplace.Offer
	if err := json.Unmarshal(raw, &offers); err != nil {
		return nil, fmt.Errorf("decode cached offers: %w", err)
	}
	if offers == nil {
		offers = []*marketplace.Offer{}
	}
	return offers, nil
}
