// README: Geolocation provider abstraction and the push-fed server implementation.
package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/types"
)

// Provider is the platform geolocation capability.
type Provider interface {
	CurrentPosition(ctx context.Context, driverID types.ID, opts PositionOptions) (types.GeoLocation, error)
	WatchPosition(driverID types.ID, opts PositionOptions, onFix func(types.GeoLocation), onErr func(error)) (WatchID, error)
	ClearWatch(id WatchID)
}

type fix struct {
	loc        types.GeoLocation
	receivedAt time.Time
}

type watch struct {
	driverID types.ID
	fixes    chan types.GeoLocation
	done     chan struct{}
}

// offer keeps only the newest undelivered fix.
func (w *watch) offer(loc types.GeoLocation) {
	select {
	case w.fixes <- loc:
		return
	default:
	}
	select {
	case <-w.fixes:
	default:
	}
	select {
	case w.fixes <- loc:
	default:
	}
}

// FeedProvider receives fixes pushed by driver devices (Push) and serves them
// through the Provider contract.
type FeedProvider struct {
	mu      sync.Mutex
	latest  map[types.ID]fix
	waiters map[types.ID][]chan types.GeoLocation
	watches map[WatchID]*watch
	now     func() time.Time
}

func NewFeedProvider() *FeedProvider {
	return &FeedProvider{
		latest:  make(map[types.ID]fix),
		waiters: make(map[types.ID][]chan types.GeoLocation),
		watches: make(map[WatchID]*watch),
		now:     time.Now,
	}
}

// Push records a device fix and hands it to pending readers and watches.
// Device fixes are taken as reported; EnableHighAccuracy does not filter them.
func (p *FeedProvider) Push(driverID types.ID, loc types.GeoLocation) error {
	if driverID == "" || !loc.Point().Valid() {
		return ErrInvalidFix
	}
	now := p.now()
	if loc.Timestamp == nil {
		ts := now.UTC()
		loc.Timestamp = &ts
	}

	p.mu.Lock()
	p.latest[driverID] = fix{loc: loc, receivedAt: now}
	waiters := p.waiters[driverID]
	delete(p.waiters, driverID)
	for _, w := range p.watches {
		if w.driverID == driverID {
			w.offer(loc)
		}
	}
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- loc
	}
	return nil
}

func (p *FeedProvider) CurrentPosition(ctx context.Context, driverID types.ID, opts PositionOptions) (types.GeoLocation, error) {
	p.mu.Lock()
	if f, ok := p.latest[driverID]; ok && p.now().Sub(f.receivedAt) <= opts.MaximumAge {
		p.mu.Unlock()
		return f.loc, nil
	}
	ch := make(chan types.GeoLocation, 1)
	p.waiters[driverID] = append(p.waiters[driverID], ch)
	p.mu.Unlock()

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		t := time.NewTimer(opts.Timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case loc := <-ch:
		return loc, nil
	case <-timeout:
		p.dropWaiter(driverID, ch)
		return types.GeoLocation{}, ErrTimeout
	case <-ctx.Done():
		p.dropWaiter(driverID, ch)
		return types.GeoLocation{}, ctx.Err()
	}
}

func (p *FeedProvider) dropWaiter(driverID types.ID, ch chan types.GeoLocation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ws := p.waiters[driverID]
	for i, w := range ws {
		if w == ch {
			p.waiters[driverID] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(p.waiters[driverID]) == 0 {
		delete(p.waiters, driverID)
	}
}

// WatchPosition delivers every fix for the driver to onFix on a dedicated
// goroutine. If no fix arrives within opts.Timeout, onErr receives ErrTimeout
// and the watch keeps running.
func (p *FeedProvider) WatchPosition(driverID types.ID, opts PositionOptions, onFix func(types.GeoLocation), onErr func(error)) (WatchID, error) {
	if onFix == nil {
		return "", ErrUnavailable
	}
	id := WatchID(uuid.NewString())
	w := &watch{
		driverID: driverID,
		fixes:    make(chan types.GeoLocation, 1),
		done:     make(chan struct{}),
	}

	p.mu.Lock()
	p.watches[id] = w
	if f, ok := p.latest[driverID]; ok && p.now().Sub(f.receivedAt) <= opts.MaximumAge {
		w.offer(f.loc)
	}
	p.mu.Unlock()

	go runWatch(w, opts.Timeout, onFix, onErr)
	return id, nil
}

func runWatch(w *watch, timeout time.Duration, onFix func(types.GeoLocation), onErr func(error)) {
	var (
		timer    *time.Timer
		timeoutC <-chan time.Time
	)
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	for {
		select {
		case <-w.done:
			return
		case loc := <-w.fixes:
			select {
			case <-w.done:
				return
			default:
			}
			onFix(loc)
			if timer != nil {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(timeout)
			}
		case <-timeoutC:
			if onErr != nil {
				onErr(ErrTimeout)
			}
			timer.Reset(timeout)
		}
	}
}

// ClearWatch stops a watch. Unknown or already cleared IDs are ignored.
func (p *FeedProvider) ClearWatch(id WatchID) {
	p.mu.Lock()
	w, ok := p.watches[id]
	delete(p.watches, id)
	p.mu.Unlock()
	if ok {
		close(w.done)
	}
}

// Watches returns the number of active watches.
func (p *FeedProvider) Watches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watches)
}
