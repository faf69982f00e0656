// Package registry holds the catalog of regions known to geodeploy.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// Registry is a concurrency-safe region catalog. Regions are immutable after
// registration except for their capacity bounds.
type Registry struct {
	mu      sync.RWMutex
	regions map[string]domain.Region
}

// New creates a registry pre-populated with the given regions.
func New(regions ...domain.Region) (*Registry, error) {
	r := &Registry{regions: make(map[string]domain.Region, len(regions))}
	for _, region := range regions {
		if err := r.Register(region); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a region.
func (r *Registry) Register(region domain.Region) error {
	if region.ID == "" {
		return domain.NewValidationError("id", "region id is required")
	}
	if !domain.ValidRegionID(region.ID) {
		return domain.NewValidationError("id",
			fmt.Sprintf("region id %q must be lowercase letters, digits and single hyphens (try %q)", region.ID, domain.Slugify(region.ID)))
	}
	if !region.Capacity.Valid() {
		return domain.NewValidationError("capacity",
			fmt.Sprintf("invalid bounds min=%d max=%d", region.Capacity.MinInstances, region.Capacity.MaxInstances))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.regions[region.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateRegion, region.ID)
	}
	r.regions[region.ID] = region.Clone()
	return nil
}

// Get returns a copy of the region.
func (r *Registry) Get(id string) (domain.Region, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	region, ok := r.regions[id]
	if !ok {
		return domain.Region{}, fmt.Errorf("%w: %s", domain.ErrUnknownRegion, id)
	}
	return region.Clone(), nil
}

// Has reports whether the region is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.regions[id]
	return ok
}

// List returns all regions sorted by id.
func (r *Registry) List() []domain.Region {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Region, 0, len(r.regions))
	for _, region := range r.regions {
		out = append(out, region.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns a copy of the region table keyed by id.
func (r *Registry) Snapshot() map[string]domain.Region {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]domain.Region, len(r.regions))
	for id, region := range r.regions {
		out[id] = region.Clone()
	}
	return out
}

// UpdateCapacity replaces the capacity bounds of a region.
func (r *Registry) UpdateCapacity(id string, capacity domain.Capacity) (domain.Region, error) {
	if !capacity.Valid() {
		return domain.Region{}, domain.NewValidationError("capacity",
			fmt.Sprintf("invalid bounds min=%d max=%d", capacity.MinInstances, capacity.MaxInstances))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	region, ok := r.regions[id]
	if !ok {
		return domain.Region{}, fmt.Errorf("%w: %s", domain.ErrUnknownRegion, id)
	}
	region.Capacity = capacity
	r.regions[id] = region
	return region.Clone(), nil
}

// Weights returns max-instance capacity per region, used to weight global
// availability.
func (r *Registry) Weights() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.regions))
	for id, region := range r.regions {
		out[id] = region.Capacity.MaxInstances
	}
	return out
}
