// README: Driver position index backed by Redis GEO; fed by tracking, read by matching.
package matching

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"dispatch/internal/infra"
	"dispatch/internal/types"
)

const (
	driverGeoKey    = "matching:drivers"
	driverFixKeyFmt = "matching:driver:%s:fix"

	// fixes expire from the metadata hash after this long without an update
	positionTTL = 10 * time.Minute
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

// Publish records the driver's latest fix; it satisfies the tracking sink contract.
func (s *Store) Publish(ctx context.Context, driverID types.ID, loc types.GeoLocation) error {
	at := time.Now().UTC()
	if loc.Timestamp != nil {
		at = *loc.Timestamp
	}
	pipe := s.redis.TxPipeline()
	pipe.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(driverID),
		Longitude: loc.Lng,
		Latitude:  loc.Lat,
	})
	fixKey := fmt.Sprintf(driverFixKeyFmt, string(driverID))
	pipe.HSet(ctx, fixKey, "lat", loc.Lat, "lng", loc.Lng, "at", at.Unix())
	pipe.Expire(ctx, fixKey, positionTTL)
	_, err := pipe.Exec(ctx)
	return infra.StoreError(err)
}

// Position returns the indexed position of a driver if it is fresh.
func (s *Store) Position(ctx context.Context, driverID types.ID) (types.Point, bool, error) {
	vals, err := s.redis.HGetAll(ctx, fmt.Sprintf(driverFixKeyFmt, string(driverID))).Result()
	if err != nil {
		return types.Point{}, false, infra.StoreError(err)
	}
	if len(vals) == 0 {
		return types.Point{}, false, nil
	}
	lat, errLat := strconv.ParseFloat(vals["lat"], 64)
	lng, errLng := strconv.ParseFloat(vals["lng"], 64)
	if errLat != nil || errLng != nil {
		return types.Point{}, false, nil
	}
	return types.Point{Lat: lat, Lng: lng}, true, nil
}

func (s *Store) Remove(ctx context.Context, driverID types.ID) error {
	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, driverGeoKey, string(driverID))
	pipe.Del(ctx, fmt.Sprintf(driverFixKeyFmt, string(driverID)))
	_, err := pipe.Exec(ctx)
	return infra.StoreError(err)
}

// NearbyDrivers lists indexed drivers within radiusKm, closest first. Members
// whose fix hash has expired are dropped from the GEO set on the way.
func (s *Store) NearbyDrivers(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := s.redis.GeoSearch(ctx, driverGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, infra.StoreError(err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	exists := make([]*redis.IntCmd, len(results))
	for i, r := range results {
		exists[i] = pipe.Exists(ctx, fmt.Sprintf(driverFixKeyFmt, r))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, infra.StoreError(err)
	}

	ids := make([]types.ID, 0, len(results))
	var stale []any
	for i, r := range results {
		if exists[i].Val() == 0 {
			stale = append(stale, r)
			continue
		}
		ids = append(ids, types.ID(r))
	}
	if len(stale) > 0 {
		if err := s.redis.ZRem(ctx, driverGeoKey, stale...).Err(); err != nil {
			return nil, infra.StoreError(err)
		}
	}
	return ids, nil
}
