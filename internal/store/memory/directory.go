package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/meanishn/platform/internal/marketplace"
)

// Directory is an in-memory provider directory.
type Directory struct {
	mu        sync.RWMutex
	providers map[string]marketplace.Provider
}

func NewDirectory(providers ...marketplace.Provider) *Directory {
	d := &Directory{providers: make(map[string]marketplace.Provider, len(providers))}
	for _, p := range providers {
		d.providers[p.ID] = clone(p)
	}
	return d
}

func clone(p marketplace.Provider) marketplace.Provider {
	p.Qualifications = append([]marketplace.Qualification(nil), p.Qualifications...)
	return p
}

func (d *Directory) ProvidersForCategory(_ context.Context, categoryID string) ([]marketplace.Provider, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []marketplace.Provider
	for _, p := range d.providers {
		if _, ok := p.QualificationFor(categoryID); ok {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Directory) GetProvider(_ context.Context, providerID string) (*marketplace.Provider, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider %s: %w", providerID, marketplace.ErrNotFound)
	}
	c := clone(p)
	return &c, nil
}

func (d *Directory) UpsertProvider(_ context.Context, p marketplace.Provider) error {
	if p.ID == "" {
		return errors.New("provider id required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providers[p.ID] = clone(p)
	return nil
}

func (d *Directory) SetAvailability(_ context.Context, providerID string, available bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.providers[providerID]
	if !ok {
		return fmt.Errorf("provider %s: %w", providerID, marketplace.ErrNotFound)
	}
	p.Available = available
	d.providers[providerID] = p
	return nil
}
