// README: Redis GEO index of each vehicle's latest position for proximity queries.
package location

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"fleetwatch/internal/types"
)

// vehicleGeoKey holds each vehicle's latest position; cacheLatest writes it.
const vehicleGeoKey = "fleet:vehicles:geo"

// ErrIndexUnavailable is returned by proximity queries when no Redis is configured.
var ErrIndexUnavailable = errors.New("vehicle position index unavailable")

// Nearby returns up to limit vehicle ids within radiusMiles of p, nearest first.
func (s *Store) Nearby(ctx context.Context, p types.Point, radiusMiles float64, limit int) ([]types.ID, error) {
	if s.redis == nil {
		return nil, ErrIndexUnavailable
	}
	results, err := s.redis.GeoSearch(ctx, vehicleGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusMiles,
		RadiusUnit: "mi",
		Sort:       "ASC",
		Count:      limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}
