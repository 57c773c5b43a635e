// README: Location store backed by Postgres samples with a Redis latest-sample cache.
package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"fleetwatch/internal/types"
)

const (
	latestKeyPrefix   = "fleet:vehicle:%s:latest"
	latestAtKeyPrefix = "fleet:vehicle:%s:latest_at"
	latestTTL         = 24 * time.Hour
)

// cacheLatestScript replaces the cached sample and its GEO position unless
// the cache already holds a sample captured later.
//
// KEYS: latest, latest_at, geo. ARGV: payload, captured_at (unix ms), ttl (ms), lng, lat, member.
var cacheLatestScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[2])
if cur and tonumber(cur) > tonumber(ARGV[2]) then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
redis.call('GEOADD', KEYS[3], ARGV[4], ARGV[5], ARGV[6])
return 1
`)

type Store struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

// NewStore returns a Store. redis may be nil, in which case every read goes
// to Postgres.
func NewStore(db *pgxpool.Pool, redis *redis.Client) *Store {
	return &Store{db: db, redis: redis}
}

func (s *Store) GetVehicle(ctx context.Context, id types.ID) (*Vehicle, error) {
	var v Vehicle
	err := s.db.QueryRow(ctx, `SELECT id, name FROM vehicles WHERE id = $1`, string(id)).Scan(&v.ID, &v.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVehicleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Latest returns the sample with the greatest captured_at for the vehicle.
func (s *Store) Latest(ctx context.Context, vehicleID types.ID) (*Sample, error) {
	if snap, ok := s.cachedLatest(ctx, vehicleID); ok {
		return snap, nil
	}

	row := s.db.QueryRow(ctx, `
		SELECT id, vehicle_id, lat, lng, zone, COALESCE(zone_override, ''), captured_at, captured_by
		FROM location_samples
		WHERE vehicle_id = $1
		ORDER BY captured_at DESC, id DESC
		LIMIT 1`, string(vehicleID),
	)
	snap, err := scanSample(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoLocation
	}
	if err != nil {
		return nil, err
	}
	s.cacheLatest(ctx, snap)
	return snap, nil
}

func (s *Store) Append(ctx context.Context, snap *Sample) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO location_samples (
			vehicle_id, lat, lng, zone, zone_override, captured_at, captured_by
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		RETURNING id`,
		string(snap.VehicleID),
		snap.Position.Lat, snap.Position.Lng,
		snap.Zone,
		snap.ZoneOverride,
		snap.CapturedAt,
		string(snap.CapturedBy),
	).Scan(&snap.ID)
	if err != nil {
		return err
	}
	s.cacheLatest(ctx, snap)
	return nil
}

// History returns samples captured at or after since, newest first.
func (s *Store) History(ctx context.Context, vehicleID types.ID, since time.Time, limit int) ([]Sample, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, vehicle_id, lat, lng, zone, COALESCE(zone_override, ''), captured_at, captured_by
		FROM location_samples
		WHERE vehicle_id = $1 AND captured_at >= $2
		ORDER BY captured_at DESC, id DESC
		LIMIT $3`, string(vehicleID), since, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		snap, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

func scanSample(row pgx.Row) (*Sample, error) {
	var snap Sample
	err := row.Scan(
		&snap.ID, &snap.VehicleID,
		&snap.Position.Lat, &snap.Position.Lng,
		&snap.Zone, &snap.ZoneOverride,
		&snap.CapturedAt, &snap.CapturedBy,
	)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// The cache is advisory: Postgres stays authoritative, so cache errors are
// treated as misses.
func (s *Store) cachedLatest(ctx context.Context, vehicleID types.ID) (*Sample, bool) {
	if s.redis == nil {
		return nil, false
	}
	raw, err := s.redis.Get(ctx, latestKey(vehicleID)).Bytes()
	if err != nil {
		return nil, false
	}
	var snap Sample
	if err := msgpack.Unmarshal(raw, &snap); err != nil {
		return nil, false
	}
	return &snap, true
}

func (s *Store) cacheLatest(ctx context.Context, snap *Sample) {
	if s.redis == nil {
		return
	}
	raw, err := msgpack.Marshal(snap)
	if err != nil {
		return
	}
	keys := []string{latestKey(snap.VehicleID), latestAtKey(snap.VehicleID), vehicleGeoKey}
	_ = cacheLatestScript.Run(ctx, s.redis, keys,
		raw,
		snap.CapturedAt.UnixMilli(),
		latestTTL.Milliseconds(),
		snap.Position.Lng, snap.Position.Lat,
		string(snap.VehicleID),
	).Err()
}

func latestKey(vehicleID types.ID) string {
	return fmt.Sprintf(latestKeyPrefix, string(vehicleID))
}

func latestAtKey(vehicleID types.ID) string {
	return fmt.Sprintf(latestAtKeyPrefix, string(vehicleID))
}
