// README: Zone (geofence) definitions and registry errors.
package zone

import (
	"errors"

	"fleetwatch/internal/types"
)

// Unknown is returned by Classify when no zone contains the point.
const Unknown = "Unknown"

type Kind string

const (
	KindCircle  Kind = "circle"
	KindPolygon Kind = "polygon"
)

var ErrInvalidRegistry = errors.New("invalid zone registry")

// Zone is a named geofence. A circle zone matches when the point is within
// RadiusMiles of any of its centers; a polygon zone matches when the point
// lies inside the ordered vertex ring.
type Zone struct {
	Name        string        `yaml:"name" json:"name"`
	Kind        Kind          `yaml:"kind" json:"kind"`
	Centers     []types.Point `yaml:"centers,omitempty" json:"centers,omitempty"`
	RadiusMiles float64       `yaml:"radius_miles,omitempty" json:"radius_miles,omitempty"`
	Vertices    []types.Point `yaml:"vertices,omitempty" json:"vertices,omitempty"`
}

func (z Zone) clone() Zone {
	c := z
	c.Centers = append([]types.Point(nil), z.Centers...)
	c.Vertices = append([]types.Point(nil), z.Vertices...)
	return c
}
