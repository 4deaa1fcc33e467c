// README: Road distance lookups via the Google Maps Directions API, used to price jobs without a stored distance.
package maps

import (
	"context"
	"errors"
	"fmt"

	"googlemaps.github.io/maps"

	"dispatch/internal/types"
)

var ErrNoRoute = errors.New("no route found")

// RouteService resolves driving distances between two coordinates.
type RouteService struct {
	client *maps.Client
}

func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// DrivingDistanceKm returns the road distance of the first suggested route.
func (s *RouteService) DrivingDistanceKm(ctx context.Context, from, to types.Point) (float64, error) {
	leg, err := s.firstLeg(ctx, from, to)
	if err != nil {
		return 0, err
	}
	return float64(leg.Distance.Meters) / 1000, nil
}

func (s *RouteService) firstLeg(ctx context.Context, from, to types.Point) (*maps.Leg, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(from),
		Destination: latLng(to),
		Mode:        maps.TravelModeDriving,
	}
	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return nil, ErrNoRoute
	}
	return routes[0].Legs[0], nil
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}
