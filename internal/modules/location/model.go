// README: Location samples and the vehicles they belong to.
package location

import (
	"errors"
	"time"

	"fleetwatch/internal/types"
)

// MovementThresholdMeters is the minimum displacement from the previous
// sample before a new one is persisted.
const MovementThresholdMeters = 50.0

var (
	ErrVehicleNotFound    = errors.New("vehicle not found")
	ErrNoLocation         = errors.New("vehicle has no recorded location")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrNotModified        = errors.New("location not modified")
)

type Vehicle struct {
	ID   types.ID
	Name string
}

// Sample is one persisted GPS fix. Zone is computed when the sample is
// written and never recomputed.
type Sample struct {
	ID           int64       `msgpack:"id"`
	VehicleID    types.ID    `msgpack:"vehicle_id"`
	Position     types.Point `msgpack:"position"`
	Zone         string      `msgpack:"zone"`
	ZoneOverride string      `msgpack:"zone_override,omitempty"`
	CapturedAt   time.Time   `msgpack:"captured_at"`
	CapturedBy   types.ID    `msgpack:"captured_by"`
}
