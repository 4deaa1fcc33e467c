// README: In-memory job store used when no database is configured and in tests.
package job

import (
	"context"
	"sort"
	"sync"
	"time"

	"dispatch/internal/types"
)

type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[types.ID]Job
	events []Event
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[types.ID]Job), now: time.Now}
}

// Put inserts or replaces a job. Jobs are produced upstream; this is the seeding hook.
func (m *MemoryStore) Put(j Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = cloneJob(j)
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneJob(j)
	return &out, nil
}

func (m *MemoryStore) ListOpen(_ context.Context) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, j := range m.jobs {
		if j.Open() {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CountByStatus(_ context.Context, status Status) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.Status == status {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Claim(_ context.Context, id, driverID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || !j.Open() {
		return false, nil
	}
	now := m.now()
	d := driverID
	j.DriverID = &d
	j.Status = StatusAccepted
	j.AcceptedAt = &now
	m.jobs[id] = j
	return true, nil
}

func (m *MemoryStore) Transition(_ context.Context, id types.ID, driverID *types.ID, from, to Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != from || !sameDriver(j.DriverID, driverID) {
		return false, nil
	}
	now := m.now()
	j.Status = to
	switch to {
	case StatusPickedUp:
		j.PickedUpAt = &now
	case StatusDelivered:
		j.DeliveredAt = &now
	case StatusCancelled:
		j.CancelledAt = &now
	}
	m.jobs[id] = j
	return true, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := *e
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded state events for a job.
func (m *MemoryStore) Events(id types.ID) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.JobID == id {
			out = append(out, e)
		}
	}
	return out
}

func sameDriver(a, b *types.ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneJob(j Job) Job {
	if j.DriverID != nil {
		d := *j.DriverID
		j.DriverID = &d
	}
	return j
}
