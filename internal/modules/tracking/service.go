// README: Tracking service: device position reads, live tracking sessions, ETA and change subscriptions.
package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"dispatch/internal/config"
	"dispatch/internal/feed"
	"dispatch/internal/geo"
	"dispatch/internal/modules/job"
	"dispatch/internal/observability"
	"dispatch/internal/types"
)

// LocationWriter persists a driver's latest fix. Tracking is its only caller.
type LocationWriter interface {
	UpdateLocation(ctx context.Context, driverID types.ID, loc types.GeoLocation) error
}

// Sink republishes fixes to downstream viewers (position index, RTDB, Kafka).
type Sink interface {
	Publish(ctx context.Context, driverID types.ID, loc types.GeoLocation) error
}

type session struct {
	id        WatchID
	stopAfter func() bool
}

type Service struct {
	provider Provider
	drivers  LocationWriter
	broker   feed.Broker
	sinks    []Sink
	opts     PositionOptions
	logger   *slog.Logger

	mu     sync.Mutex
	active map[types.ID]*session
}

// NewService builds the tracking service. A nil provider means the platform
// has no geolocation; a nil broker disables subscriptions.
func NewService(provider Provider, drivers LocationWriter, broker feed.Broker, cfg config.TrackingConfig, logger *slog.Logger, sinks ...Sink) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider: provider,
		drivers:  drivers,
		broker:   broker,
		sinks:    sinks,
		opts:     OptionsFromConfig(cfg),
		logger:   logger,
		active:   make(map[types.ID]*session),
	}
}

// GetCurrentPosition returns one fix, or nil if none can be obtained.
func (s *Service) GetCurrentPosition(ctx context.Context, driverID types.ID) *types.GeoLocation {
	if s.provider == nil {
		return nil
	}
	loc, err := s.provider.CurrentPosition(ctx, driverID, s.opts)
	if err != nil {
		s.logger.Debug("current position unavailable", "driver_id", driverID, "error", err)
		return nil
	}
	return &loc
}

// StartTracking starts a watch for the driver, replacing any previous one.
// Each fix is persisted, handed to onUpdate, then republished. Cancelling ctx
// stops the watch. Returns false if there is no geolocation capability.
func (s *Service) StartTracking(ctx context.Context, driverID types.ID, onUpdate func(types.GeoLocation), onError func(error)) bool {
	if s.provider == nil || driverID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(driverID)
	return s.startLocked(ctx, driverID, onUpdate, onError)
}

// EnsureTracking starts a watch only if the driver has none. Used by the
// device ingest path, where fixes arrive before anyone asked to track.
func (s *Service) EnsureTracking(ctx context.Context, driverID types.ID, onError func(error)) bool {
	if s.provider == nil || driverID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[driverID]; ok {
		return true
	}
	return s.startLocked(ctx, driverID, nil, onError)
}

func (s *Service) startLocked(ctx context.Context, driverID types.ID, onUpdate func(types.GeoLocation), onError func(error)) bool {
	sess := &session{}
	id, err := s.provider.WatchPosition(driverID, s.opts,
		func(loc types.GeoLocation) { s.handleFix(driverID, sess, loc, onUpdate, onError) },
		func(err error) {
			if s.isCurrent(driverID, sess) && onError != nil {
				onError(err)
			}
		},
	)
	if err != nil {
		s.logger.Warn("start tracking failed", "driver_id", driverID, "error", err)
		return false
	}
	sess.id = id
	sess.stopAfter = context.AfterFunc(ctx, func() { s.stopIfCurrent(driverID, sess) })
	s.active[driverID] = sess
	s.logger.Info("tracking started", "driver_id", driverID, "watch_id", id)
	return true
}

// StopTracking clears the driver's watch. Safe to call when not tracking.
func (s *Service) StopTracking(driverID types.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(driverID)
}

// StopAll clears every active watch.
func (s *Service) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.active {
		s.stopLocked(id)
	}
}

func (s *Service) IsTracking(driverID types.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[driverID]
	return ok
}

func (s *Service) stopLocked(driverID types.ID) {
	sess, ok := s.active[driverID]
	if !ok {
		return
	}
	delete(s.active, driverID)
	s.provider.ClearWatch(sess.id)
	if sess.stopAfter != nil {
		sess.stopAfter()
	}
	s.logger.Info("tracking stopped", "driver_id", driverID, "watch_id", sess.id)
}

func (s *Service) stopIfCurrent(driverID types.ID, sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[driverID] == sess {
		s.stopLocked(driverID)
	}
}

func (s *Service) isCurrent(driverID types.ID, sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[driverID] == sess
}

func (s *Service) handleFix(driverID types.ID, sess *session, loc types.GeoLocation, onUpdate func(types.GeoLocation), onError func(error)) {
	if !s.isCurrent(driverID, sess) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.drivers.UpdateLocation(ctx, driverID, loc); err != nil {
		observability.LocationFixesTotal.WithLabelValues("persist_error").Inc()
		s.logger.Warn("persist location failed", "driver_id", driverID, "error", err)
		if onError != nil {
			onError(fmt.Errorf("persist location: %w", err))
		}
	} else {
		observability.LocationFixesTotal.WithLabelValues("persisted").Inc()
	}

	if onUpdate != nil {
		onUpdate(loc)
	}
	s.republish(ctx, driverID, loc)
}

func (s *Service) republish(ctx context.Context, driverID types.ID, loc types.GeoLocation) {
	if s.broker != nil {
		evt, err := feed.NewEvent(feed.EventDriverLocation, loc)
		if err == nil {
			err = s.broker.Publish(ctx, feed.DriverLocationTopic(driverID), evt)
		}
		if err != nil {
			s.logger.Warn("publish location event failed", "driver_id", driverID, "error", err)
		}
	}
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, driverID, loc); err != nil {
			s.logger.Warn("location sink failed", "driver_id", driverID, "sink", fmt.Sprintf("%T", sink), "error", err)
		}
	}
}

// CalculateETA estimates minutes to the destination from a fix. speedMps <= 0
// uses the default urban speed.
func (s *Service) CalculateETA(loc types.GeoLocation, destLat, destLng, speedMps float64) ETA {
	return CalculateETA(loc, destLat, destLng, speedMps)
}

func CalculateETA(loc types.GeoLocation, destLat, destLng, speedMps float64) ETA {
	dest := types.Point{Lat: destLat, Lng: destLng}
	d := geo.DistanceKm(loc.Point(), dest)
	speedKmh := defaultSpeedKmh
	if speedMps > 0 {
		speedKmh = speedMps * 3.6
	}
	effective := speedKmh * trafficFactor
	return ETA{
		Minutes:    int(math.Round(d / effective * 60)),
		DistanceKm: d,
		BearingDeg: geo.BearingDeg(loc.Point(), dest),
		Confidence: etaConfidence(d, loc.Accuracy),
	}
}

func etaConfidence(distanceKm float64, accuracyM *float64) Confidence {
	acc := 0.0
	if accuracyM != nil {
		acc = *accuracyM
	}
	c := ConfidenceHigh
	if distanceKm > mediumDistanceKm || acc > mediumAccuracyM {
		c = ConfidenceMedium
	}
	if distanceKm > lowDistanceKm || acc > lowAccuracyM {
		c = ConfidenceLow
	}
	return c
}

// Subscription is a live change stream handle.
type Subscription struct {
	sub       *feed.Subscription
	stopAfter func() bool
}

// Unsubscribe stops delivery. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.stopAfter()
	s.sub.Close()
}

// SubscribeToDriverLocation pushes every published fix for the driver to cb
// until Unsubscribe is called or ctx is done.
func (s *Service) SubscribeToDriverLocation(ctx context.Context, driverID types.ID, cb func(types.GeoLocation)) (*Subscription, error) {
	return s.subscribe(ctx, feed.DriverLocationTopic(driverID), func(evt feed.Event) {
		var loc types.GeoLocation
		if err := evt.Decode(&loc); err != nil {
			s.logger.Warn("decode location event failed", "driver_id", driverID, "error", err)
			return
		}
		cb(loc)
	})
}

// SubscribeToJobUpdates pushes every state change of the job to cb.
func (s *Service) SubscribeToJobUpdates(ctx context.Context, jobID types.ID, cb func(job.Job)) (*Subscription, error) {
	return s.subscribe(ctx, feed.JobTopic(jobID), func(evt feed.Event) {
		var j job.Job
		if err := evt.Decode(&j); err != nil {
			s.logger.Warn("decode job event failed", "job_id", jobID, "error", err)
			return
		}
		cb(j)
	})
}

func (s *Service) subscribe(ctx context.Context, topic string, handle func(feed.Event)) (*Subscription, error) {
	if s.broker == nil {
		return nil, ErrNoFeed
	}
	sub, err := s.broker.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	go func() {
		for evt := range sub.C {
			handle(evt)
		}
	}()
	return &Subscription{sub: sub, stopAfter: context.AfterFunc(ctx, sub.Close)}, nil
}
