// README: Common value objects (IDs, points, location fixes) used across modules.
package types

import "time"

type ID string

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies inside WGS84 bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// GeoLocation is a single position fix. Only the latest fix per driver is kept.
type GeoLocation struct {
	Lat       float64    `json:"lat"`
	Lng       float64    `json:"lng"`
	Accuracy  *float64   `json:"accuracy,omitempty"` // metres
	Heading   *float64   `json:"heading,omitempty"`  // degrees
	Speed     *float64   `json:"speed,omitempty"`    // m/s
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (g GeoLocation) Point() Point {
	return Point{Lat: g.Lat, Lng: g.Lng}
}
