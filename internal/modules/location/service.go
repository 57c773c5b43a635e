// README: Location service records deduplicated, zone-tagged GPS samples.
package location

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"fleetwatch/internal/logging"
	"fleetwatch/internal/modules/zone"
	"fleetwatch/internal/types"
)

// Repository is the storage the service needs; *Store implements it.
type Repository interface {
	GetVehicle(ctx context.Context, id types.ID) (*Vehicle, error)
	Latest(ctx context.Context, vehicleID types.ID) (*Sample, error)
	Append(ctx context.Context, snap *Sample) error
	History(ctx context.Context, vehicleID types.ID, since time.Time, limit int) ([]Sample, error)
	Nearby(ctx context.Context, p types.Point, radiusMiles float64, limit int) ([]types.ID, error)
}

// Geocoder is the optional reverse-geocoding fallback used for display labels.
type Geocoder interface {
	CityName(ctx context.Context, lat, lng float64) (string, error)
}

type Service struct {
	store    Repository
	zones    *zone.Registry
	geocoder Geocoder
	now      func() time.Time
}

// NewService wires the service. geocoder may be nil.
func NewService(store Repository, zones *zone.Registry, geocoder Geocoder) *Service {
	return &Service{store: store, zones: zones, geocoder: geocoder, now: time.Now}
}

type RecordCommand struct {
	VehicleID    types.ID
	Position     types.Point
	CapturedBy   types.ID
	ZoneOverride string
}

// Record persists a new sample unless the vehicle has moved less than
// MovementThresholdMeters since its latest sample, in which case it returns
// ErrNotModified and writes nothing. An explicit zone override that differs
// from the latest zone is always persisted.
func (s *Service) Record(ctx context.Context, cmd RecordCommand) (*Sample, error) {
	if cmd.VehicleID == "" {
		return nil, fmt.Errorf("%w: missing vehicle id", ErrInvalidCoordinates)
	}
	if !cmd.Position.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCoordinates, cmd.Position)
	}
	if _, err := s.store.GetVehicle(ctx, cmd.VehicleID); err != nil {
		return nil, err
	}

	override := strings.TrimSpace(cmd.ZoneOverride)
	prev, err := s.store.Latest(ctx, cmd.VehicleID)
	switch {
	case errors.Is(err, ErrNoLocation):
		prev = nil
	case err != nil:
		return nil, err
	}

	if prev != nil && zone.HaversineMeters(prev.Position, cmd.Position) < MovementThresholdMeters {
		if override == "" || override == prev.Zone {
			return nil, ErrNotModified
		}
	}

	capturedBy := cmd.CapturedBy
	if capturedBy == "" {
		capturedBy = types.SystemActor
	}
	snap := &Sample{
		VehicleID:    cmd.VehicleID,
		Position:     cmd.Position,
		Zone:         s.zones.Classify(cmd.Position.Lat, cmd.Position.Lng, override),
		ZoneOverride: override,
		CapturedAt:   s.now(),
		CapturedBy:   capturedBy,
	}
	if err := s.store.Append(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// Latest returns the vehicle's current location state.
func (s *Service) Latest(ctx context.Context, vehicleID types.ID) (*Sample, error) {
	if _, err := s.store.GetVehicle(ctx, vehicleID); err != nil {
		return nil, err
	}
	return s.store.Latest(ctx, vehicleID)
}

func (s *Service) Vehicle(ctx context.Context, id types.ID) (*Vehicle, error) {
	return s.store.GetVehicle(ctx, id)
}

func (s *Service) History(ctx context.Context, vehicleID types.ID, since time.Time, limit int) ([]Sample, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if _, err := s.store.GetVehicle(ctx, vehicleID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, vehicleID, since, limit)
}

// MaxNearbyRadiusMiles bounds proximity queries.
const MaxNearbyRadiusMiles = 100.0

// Nearby returns the latest samples of vehicles within radiusMiles of p,
// nearest first.
func (s *Service) Nearby(ctx context.Context, p types.Point, radiusMiles float64, limit int) ([]Sample, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: lat %v lng %v", ErrInvalidCoordinates, p.Lat, p.Lng)
	}
	if radiusMiles <= 0 || radiusMiles > MaxNearbyRadiusMiles {
		return nil, fmt.Errorf("%w: radius must be in (0, %v] miles", ErrInvalidCoordinates, MaxNearbyRadiusMiles)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	ids, err := s.store.Nearby(ctx, p, radiusMiles, limit)
	if err != nil {
		return nil, err
	}

	out := make([]Sample, 0, len(ids))
	for _, id := range ids {
		snap, err := s.store.Latest(ctx, id)
		if err != nil {
			continue
		}
		// The index can lag a concurrent write; trust the sample.
		if zone.HaversineMiles(p, snap.Position) > radiusMiles {
			continue
		}
		out = append(out, *snap)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return zone.HaversineMiles(p, out[i].Position) < zone.HaversineMiles(p, out[j].Position)
	})
	return out, nil
}

// Label returns a display name for the sample's location: its zone, or the
// reverse-geocoded city when the zone is Unknown. Lookup failures degrade to
// Unknown.
func (s *Service) Label(ctx context.Context, snap *Sample) string {
	if snap.Zone != zone.Unknown || s.geocoder == nil {
		return snap.Zone
	}
	city, err := s.geocoder.CityName(ctx, snap.Position.Lat, snap.Position.Lng)
	if err != nil {
		logging.FromContext(ctx).Warn("reverse geocode failed",
			slog.String("vehicle_id", string(snap.VehicleID)),
			slog.String("error", err.Error()))
		return zone.Unknown
	}
	if city == "" {
		return zone.Unknown
	}
	return city
}
