// Package memory implements the store ports in process memory. It backs the
// service when no database is configured and is the store used by unit tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/meanishn/platform/internal/marketplace"
)

// Store keeps every request aggregate in a map. Atomically serialises writers
// per request id; readers always see a committed aggregate.
type Store struct {
	locks *keyLock

	mu   sync.RWMutex
	data map[string]*marketplace.Assignment
}

func NewStore() *Store {
	return &Store{
		locks: newKeyLock(),
		data:  make(map[string]*marketplace.Assignment),
	}
}

func (s *Store) CreateRequest(ctx context.Context, req *marketplace.ServiceRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[req.ID]; ok {
		return fmt.Errorf("request %s already exists", req.ID)
	}
	r := *req
	s.data[req.ID] = &marketplace.Assignment{Request: &r}
	return nil
}

func (s *Store) load(requestID string) (*marketplace.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.data[requestID]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", requestID, marketplace.ErrNotFound)
	}
	return a.Clone(), nil
}

func (s *Store) GetRequest(ctx context.Context, requestID string) (*marketplace.ServiceRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, err := s.load(requestID)
	if err != nil {
		return nil, err
	}
	return a.Request, nil
}

func (s *Store) ListOffers(ctx context.Context, requestID string) ([]*marketplace.Offer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, err := s.load(requestID)
	if err != nil {
		return nil, err
	}
	marketplace.SortByRank(a.Offers)
	return a.Offers, nil
}

func (s *Store) OffersForProvider(ctx context.Context, providerID string) ([]*marketplace.Offer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*marketplace.Offer
	for _, a := range s.data {
		if o := a.Offer(providerID); o != nil {
			c := *o
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NotifiedAt.Equal(out[j].NotifiedAt) {
			return out[i].NotifiedAt.After(out[j].NotifiedAt)
		}
		return out[i].RequestID < out[j].RequestID
	})
	return out, nil
}

// Atomically runs fn on a private copy of the aggregate and swaps it in only
// when fn succeeds.
func (s *Store) Atomically(ctx context.Context, requestID string, fn func(*marketplace.Assignment) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.locks.Lock(requestID)
	defer s.locks.Unlock(requestID)

	a, err := s.load(requestID)
	if err != nil {
		return err
	}
	if err := fn(a); err != nil {
		return err
	}

	s.mu.Lock()
	s.data[requestID] = a
	s.mu.Unlock()
	return nil
}

func (s *Store) ExpiredOffers(ctx context.Context, now time.Time, limit int) ([]marketplace.OfferKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []marketplace.OfferKey
	for id, a := range s.data {
		for _, o := range a.Offers {
			if o.Status == marketplace.OfferNotified && !now.Before(o.ExpiresAt) {
				out = append(out, marketplace.OfferKey{RequestID: id, ProviderID: o.ProviderID})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestID != out[j].RequestID {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].ProviderID < out[j].ProviderID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping satisfies readiness checks.
func (s *Store) Ping(context.Context) error { return nil }
