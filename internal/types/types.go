// README: Common value objects shared across modules.
package types

import "math"

// ID identifies vehicles, staff members, and tickets.
type ID string

// SystemActor is recorded as the author of writes not made by a person.
const SystemActor ID = "system"

type Point struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Valid reports whether p is a finite WGS84 coordinate.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}
