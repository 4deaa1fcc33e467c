package geo

import (
	"math"
	"testing"

	"dispatch/internal/types"
)

func TestDistanceKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.Point
		wantKm    float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         types.Point{Lat: 25.033, Lng: 121.565},
			b:         types.Point{Lat: 25.033, Lng: 121.565},
			wantKm:    0,
			tolerance: 1e-9,
		},
		{
			name:      "one degree of latitude on a meridian",
			a:         types.Point{Lat: 0, Lng: 0},
			b:         types.Point{Lat: 1, Lng: 0},
			wantKm:    EarthRadiusKm * math.Pi / 180, // ~111.195
			tolerance: 1e-6,
		},
		{
			name:      "New York to Los Angeles (~3944km)",
			a:         types.Point{Lat: 40.7128, Lng: -74.0060},
			b:         types.Point{Lat: 34.0522, Lng: -118.2437},
			wantKm:    3944,
			tolerance: 50,
		},
		{
			name:      "antipodes",
			a:         types.Point{Lat: 0, Lng: 0},
			b:         types.Point{Lat: 0, Lng: 180},
			wantKm:    EarthRadiusKm * math.Pi,
			tolerance: 1e-6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceKm(tt.a, tt.b)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("DistanceKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestDistanceKm_Symmetry(t *testing.T) {
	pairs := [][2]types.Point{
		{{Lat: 25.0, Lng: 121.0}, {Lat: 26.0, Lng: 122.0}},
		{{Lat: -33.86, Lng: 151.21}, {Lat: 51.5, Lng: -0.12}},
		{{Lat: 6.52, Lng: 3.37}, {Lat: 6.60, Lng: 3.35}},
	}
	for _, p := range pairs {
		d1 := DistanceKm(p[0], p[1])
		d2 := DistanceKm(p[1], p[0])
		if math.Abs(d1-d2) > 1e-9 {
			t.Errorf("distance is not symmetric: %f vs %f", d1, d2)
		}
		if DistanceKm(p[0], p[0]) != 0 {
			t.Errorf("distance to self should be 0 for %+v", p[0])
		}
	}
}

func TestBearingDeg(t *testing.T) {
	origin := types.Point{Lat: 0, Lng: 0}
	tests := []struct {
		name string
		to   types.Point
		want float64
	}{
		{name: "north", to: types.Point{Lat: 1, Lng: 0}, want: 0},
		{name: "east", to: types.Point{Lat: 0, Lng: 1}, want: 90},
		{name: "south", to: types.Point{Lat: -1, Lng: 0}, want: 180},
		{name: "west", to: types.Point{Lat: 0, Lng: -1}, want: 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BearingDeg(origin, tt.to)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("BearingDeg() = %.6f, want %.1f", got, tt.want)
			}
		})
	}
}
