// README: Tracking options, ETA result and geolocation errors.
package tracking

import (
	"errors"
	"time"

	"dispatch/internal/config"
)

var (
	ErrUnavailable = errors.New("geolocation unavailable")
	ErrTimeout     = errors.New("geolocation timeout")
	ErrInvalidFix  = errors.New("invalid location fix")
	ErrNoFeed      = errors.New("change feed not configured")
)

// PositionOptions mirror the device geolocation API options.
type PositionOptions struct {
	EnableHighAccuracy bool
	Timeout            time.Duration // 0 waits until ctx is done
	MaximumAge         time.Duration // cached fixes older than this are not reused
}

func OptionsFromConfig(c config.TrackingConfig) PositionOptions {
	return PositionOptions{
		EnableHighAccuracy: c.EnableHighAccuracy,
		Timeout:            c.Timeout,
		MaximumAge:         c.MaximumAge,
	}
}

type WatchID string

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

type ETA struct {
	Minutes    int        `json:"minutes"`
	DistanceKm float64    `json:"distance_km"`
	BearingDeg float64    `json:"bearing_deg"`
	Confidence Confidence `json:"confidence"`
}

const (
	defaultSpeedKmh = 30.0
	// trafficFactor derates the raw speed for stops and congestion.
	trafficFactor = 0.77

	mediumDistanceKm = 20.0
	lowDistanceKm    = 50.0
	mediumAccuracyM  = 100.0
	lowAccuracyM     = 500.0

	persistTimeout = 5 * time.Second
)
