package syncstate

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store
type MemoryStore struct {
	mu        sync.Mutex
	resources map[string]*WatchedResource
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]*WatchedResource),
		now:       time.Now,
	}
}

// Get returns a copy of the persisted record
func (s *MemoryStore) Get(_ context.Context, resourceID string) (*WatchedResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[resourceID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// List returns copies of all records ordered by resource id
func (s *MemoryStore) List(_ context.Context) ([]*WatchedResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*WatchedResource, 0, len(s.resources))
	for _, r := range s.resources {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out, nil
}

// Save creates or updates the record if its version matches
func (s *MemoryStore) Save(_ context.Context, resource *WatchedResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.resources[resource.ResourceID]
	switch {
	case resource.Version == 0 && ok:
		return ErrVersionConflict
	case resource.Version != 0 && (!ok || existing.Version != resource.Version):
		return ErrVersionConflict
	}

	resource.Version++
	resource.UpdatedAt = s.now().UTC()
	s.resources[resource.ResourceID] = resource.Clone()
	return nil
}

// Delete removes the record if its version matches
func (s *MemoryStore) Delete(_ context.Context, resourceID string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.resources[resourceID]
	if !ok {
		return ErrNotFound
	}
	if existing.Version != version {
		return ErrVersionConflict
	}
	delete(s.resources, resourceID)
	return nil
}
