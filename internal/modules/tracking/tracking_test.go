// README: Tracking tests: ETA math, push-fed provider, tracking sessions and subscriptions.
package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/feed"
	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/job"
	"dispatch/internal/types"
)

func ptr[T any](v T) *T { return &v }

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for value")
	}
	var zero T
	return zero
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

var origin = types.GeoLocation{Lat: 25.0, Lng: 121.5}

func TestCalculateETA(t *testing.T) {
	tests := []struct {
		name     string
		speedMps float64
		want     int
	}{
		{"default speed", 0, 29},
		{"negative speed uses default", -3, 29},
		{"reported speed", 10, 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eta := CalculateETA(origin, 25.1, 121.5, tt.speedMps)
			if eta.Minutes != tt.want {
				t.Fatalf("expected %d minutes, got %d", tt.want, eta.Minutes)
			}
			if eta.DistanceKm < 11.1 || eta.DistanceKm > 11.15 {
				t.Fatalf("unexpected distance %.3f", eta.DistanceKm)
			}
			if eta.Confidence != ConfidenceHigh {
				t.Fatalf("expected high confidence, got %s", eta.Confidence)
			}
			if eta.BearingDeg > 1e-9 {
				t.Fatalf("expected due north, got %.6f", eta.BearingDeg)
			}
		})
	}
}

func TestCalculateETA_SamePoint(t *testing.T) {
	eta := CalculateETA(origin, origin.Lat, origin.Lng, 0)
	if eta.Minutes != 0 || eta.DistanceKm != 0 {
		t.Fatalf("expected zero eta, got %+v", eta)
	}
}

func TestETAConfidence(t *testing.T) {
	tests := []struct {
		name     string
		km       float64
		accuracy *float64
		want     Confidence
	}{
		{"near and precise", 5, ptr(10.0), ConfidenceHigh},
		{"no accuracy reported", 5, nil, ConfidenceHigh},
		{"distance at medium boundary", 20, nil, ConfidenceHigh},
		{"distance over 20", 20.1, nil, ConfidenceMedium},
		{"accuracy over 100", 5, ptr(100.5), ConfidenceMedium},
		{"distance over 50", 50.1, ptr(10.0), ConfidenceLow},
		{"accuracy over 500", 5, ptr(501.0), ConfidenceLow},
		{"accuracy at low boundary", 5, ptr(500.0), ConfidenceMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := etaConfidence(tt.km, tt.accuracy); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestFeedProvider_PushRejectsInvalidFix(t *testing.T) {
	p := NewFeedProvider()
	if err := p.Push("d1", types.GeoLocation{Lat: 91, Lng: 0}); !errors.Is(err, ErrInvalidFix) {
		t.Fatalf("expected ErrInvalidFix, got %v", err)
	}
	if err := p.Push("", origin); !errors.Is(err, ErrInvalidFix) {
		t.Fatalf("expected ErrInvalidFix for empty driver, got %v", err)
	}
}

func TestFeedProvider_CurrentPositionCachedAndStale(t *testing.T) {
	p := NewFeedProvider()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	if err := p.Push("d1", origin); err != nil {
		t.Fatalf("push: %v", err)
	}
	opts := PositionOptions{Timeout: 20 * time.Millisecond, MaximumAge: 5 * time.Second}

	loc, err := p.CurrentPosition(context.Background(), "d1", opts)
	if err != nil {
		t.Fatalf("expected cached fix, got %v", err)
	}
	if loc.Lat != origin.Lat || loc.Timestamp == nil {
		t.Fatalf("unexpected fix %+v", loc)
	}

	now = now.Add(6 * time.Second)
	if _, err := p.CurrentPosition(context.Background(), "d1", opts); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout for stale fix, got %v", err)
	}
}

func TestFeedProvider_CurrentPositionWaitsForPush(t *testing.T) {
	p := NewFeedProvider()
	got := make(chan types.GeoLocation, 1)
	go func() {
		loc, err := p.CurrentPosition(context.Background(), "d1", PositionOptions{Timeout: time.Second})
		if err == nil {
			got <- loc
		}
	}()

	eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.waiters["d1"]) == 1
	})
	if err := p.Push("d1", origin); err != nil {
		t.Fatalf("push: %v", err)
	}
	if loc := recv(t, got); loc.Lng != origin.Lng {
		t.Fatalf("unexpected fix %+v", loc)
	}
}

func TestFeedProvider_CurrentPositionContextCancel(t *testing.T) {
	p := NewFeedProvider()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.CurrentPosition(ctx, "d1", PositionOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.waiters) != 0 {
		t.Fatalf("expected waiter to be dropped")
	}
}

func TestFeedProvider_WatchDeliversAndClears(t *testing.T) {
	p := NewFeedProvider()
	fixes := make(chan types.GeoLocation, 4)
	id, err := p.WatchPosition("d1", PositionOptions{}, func(loc types.GeoLocation) { fixes <- loc }, nil)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	if p.Watches() != 1 {
		t.Fatalf("expected 1 watch, got %d", p.Watches())
	}

	_ = p.Push("d2", types.GeoLocation{Lat: 1, Lng: 1})
	_ = p.Push("d1", origin)
	if loc := recv(t, fixes); loc.Lat != origin.Lat {
		t.Fatalf("watch received another driver's fix: %+v", loc)
	}

	p.ClearWatch(id)
	p.ClearWatch(id)
	if p.Watches() != 0 {
		t.Fatalf("expected no watches, got %d", p.Watches())
	}
}

func TestFeedProvider_WatchTimeout(t *testing.T) {
	p := NewFeedProvider()
	errs := make(chan error, 4)
	id, err := p.WatchPosition("d1", PositionOptions{Timeout: 20 * time.Millisecond},
		func(types.GeoLocation) {},
		func(err error) {
			select {
			case errs <- err:
			default:
			}
		},
	)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer p.ClearWatch(id)

	if err := recv(t, errs); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

type recordingSink struct {
	mu    sync.Mutex
	fixes []types.GeoLocation
}

func (r *recordingSink) Publish(_ context.Context, _ types.ID, loc types.GeoLocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fixes = append(r.fixes, loc)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fixes)
}

type serviceHarness struct {
	provider *FeedProvider
	drivers  *driver.MemoryStore
	broker   *feed.MemoryBroker
	sink     *recordingSink
	svc      *Service
}

func newServiceHarness() *serviceHarness {
	h := &serviceHarness{
		provider: NewFeedProvider(),
		drivers:  driver.NewMemoryStore(),
		broker:   feed.NewMemoryBroker(),
		sink:     &recordingSink{},
	}
	h.drivers.Put(driver.Driver{ID: "d1", Name: "driver", Status: driver.StatusAvailable})
	h.svc = NewService(h.provider, h.drivers, h.broker, config.DefaultTracking(), nil, h.sink)
	return h
}

func TestService_NoProvider(t *testing.T) {
	svc := NewService(nil, driver.NewMemoryStore(), nil, config.DefaultTracking(), nil)
	if svc.GetCurrentPosition(context.Background(), "d1") != nil {
		t.Fatalf("expected nil position without provider")
	}
	if svc.StartTracking(context.Background(), "d1", nil, nil) {
		t.Fatalf("expected StartTracking to fail without provider")
	}
	svc.StopTracking("d1")
}

func TestService_GetCurrentPosition(t *testing.T) {
	h := newServiceHarness()
	_ = h.provider.Push("d1", origin)
	loc := h.svc.GetCurrentPosition(context.Background(), "d1")
	if loc == nil || loc.Lat != origin.Lat {
		t.Fatalf("expected cached fix, got %+v", loc)
	}
}

func TestService_StartTrackingPersistsAndRepublishes(t *testing.T) {
	h := newServiceHarness()
	ctx := context.Background()

	published := make(chan types.GeoLocation, 1)
	sub, err := h.svc.SubscribeToDriverLocation(ctx, "d1", func(loc types.GeoLocation) { published <- loc })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	updates := make(chan types.GeoLocation, 1)
	if !h.svc.StartTracking(ctx, "d1", func(loc types.GeoLocation) { updates <- loc }, func(err error) {
		t.Errorf("unexpected tracking error: %v", err)
	}) {
		t.Fatalf("expected tracking to start")
	}
	defer h.svc.StopAll()

	fix := types.GeoLocation{Lat: 25.04, Lng: 121.56, Accuracy: ptr(12.0)}
	if err := h.provider.Push("d1", fix); err != nil {
		t.Fatalf("push: %v", err)
	}

	if got := recv(t, updates); got.Lat != fix.Lat {
		t.Fatalf("unexpected update %+v", got)
	}
	d, err := h.drivers.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	if d.CurrentLocation == nil || d.CurrentLocation.Lng != fix.Lng {
		t.Fatalf("expected persisted location, got %+v", d.CurrentLocation)
	}
	if got := recv(t, published); got.Lat != fix.Lat {
		t.Fatalf("unexpected published fix %+v", got)
	}
	eventually(t, func() bool { return h.sink.count() == 1 })
}

func TestService_StartTrackingReplacesWatch(t *testing.T) {
	h := newServiceHarness()
	ctx := context.Background()

	first := make(chan types.GeoLocation, 4)
	second := make(chan types.GeoLocation, 4)
	h.svc.StartTracking(ctx, "d1", func(loc types.GeoLocation) { first <- loc }, nil)
	h.svc.StartTracking(ctx, "d1", func(loc types.GeoLocation) { second <- loc }, nil)
	defer h.svc.StopAll()

	if h.provider.Watches() != 1 {
		t.Fatalf("expected a single watch, got %d", h.provider.Watches())
	}
	_ = h.provider.Push("d1", origin)
	recv(t, second)
	select {
	case loc := <-first:
		t.Fatalf("replaced session still received %+v", loc)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestService_StopTracking(t *testing.T) {
	h := newServiceHarness()
	h.svc.StartTracking(context.Background(), "d1", nil, nil)
	if !h.svc.IsTracking("d1") {
		t.Fatalf("expected tracking")
	}
	h.svc.StopTracking("d1")
	h.svc.StopTracking("d1")
	if h.svc.IsTracking("d1") || h.provider.Watches() != 0 {
		t.Fatalf("expected tracking to stop")
	}
}

func TestService_ContextCancelStopsTracking(t *testing.T) {
	h := newServiceHarness()
	ctx, cancel := context.WithCancel(context.Background())
	h.svc.StartTracking(ctx, "d1", nil, nil)
	cancel()
	eventually(t, func() bool { return !h.svc.IsTracking("d1") && h.provider.Watches() == 0 })
}

func TestService_PersistFailureStillDeliversUpdate(t *testing.T) {
	h := newServiceHarness()
	updates := make(chan types.GeoLocation, 1)
	errs := make(chan error, 1)
	h.svc.StartTracking(context.Background(), "ghost",
		func(loc types.GeoLocation) { updates <- loc },
		func(err error) { errs <- err },
	)
	defer h.svc.StopAll()

	_ = h.provider.Push("ghost", origin)
	if err := recv(t, errs); !errors.Is(err, driver.ErrNotFound) {
		t.Fatalf("expected persist error, got %v", err)
	}
	recv(t, updates)
}

func TestService_SubscribeToJobUpdates(t *testing.T) {
	h := newServiceHarness()
	ctx := context.Background()

	got := make(chan job.Job, 1)
	sub, err := h.svc.SubscribeToJobUpdates(ctx, "j1", func(j job.Job) { got <- j })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	evt, err := feed.NewEvent(feed.EventJobUpdated, job.Job{ID: "j1", Status: job.StatusAccepted})
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	_ = h.broker.Publish(ctx, feed.JobTopic("j1"), evt)
	if j := recv(t, got); j.Status != job.StatusAccepted {
		t.Fatalf("unexpected job %+v", j)
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	if n := h.broker.Subscribers(feed.JobTopic("j1")); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

func TestService_SubscribeWithoutFeed(t *testing.T) {
	svc := NewService(NewFeedProvider(), driver.NewMemoryStore(), nil, config.DefaultTracking(), nil)
	if _, err := svc.SubscribeToJobUpdates(context.Background(), "j1", func(job.Job) {}); !errors.Is(err, ErrNoFeed) {
		t.Fatalf("expected ErrNoFeed, got %v", err)
	}
}

func TestService_EnsureTrackingKeepsExistingWatch(t *testing.T) {
	h := newServiceHarness()
	ctx := context.Background()

	updates := make(chan types.GeoLocation, 1)
	h.svc.StartTracking(ctx, "d1", func(loc types.GeoLocation) { updates <- loc }, nil)
	defer h.svc.StopAll()

	if !h.svc.EnsureTracking(ctx, "d1", nil) {
		t.Fatalf("expected EnsureTracking to report an active watch")
	}
	if h.provider.Watches() != 1 {
		t.Fatalf("expected a single watch, got %d", h.provider.Watches())
	}
	_ = h.provider.Push("d1", origin)
	recv(t, updates)
}
