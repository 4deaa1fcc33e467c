// README: In-memory driver store used when no database is configured and in tests.
package driver

import (
	"context"
	"sync"
	"time"

	"dispatch/internal/types"
)

type MemoryStore struct {
	mu      sync.Mutex
	drivers map[types.ID]Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drivers: make(map[types.ID]Driver)}
}

func (m *MemoryStore) Put(d Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = cloneDriver(d)
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneDriver(d)
	return &out, nil
}

func (m *MemoryStore) CountByStatus(_ context.Context, status Status) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.drivers {
		if d.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) UpdateLocation(_ context.Context, id types.ID, loc types.GeoLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok {
		return ErrNotFound
	}
	l := loc
	d.CurrentLocation = &l
	d.UpdatedAt = time.Now().UTC()
	m.drivers[id] = d
	return nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id types.ID, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[id]
	if !ok || d.Status != from {
		return false, nil
	}
	d.Status = to
	d.UpdatedAt = time.Now().UTC()
	m.drivers[id] = d
	return true, nil
}

func cloneDriver(d Driver) Driver {
	if d.CurrentLocation != nil {
		l := *d.CurrentLocation
		d.CurrentLocation = &l
	}
	return d
}
