package zone

import (
	"github.com/twpayne/go-polyline"

	"fleetwatch/internal/types"
)

const circleOutlineSegments = 36

// Outline returns the zone boundary as Google encoded polylines: one ring for
// a polygon, one approximated ring per center for a circle.
func (z Zone) Outline() []string {
	if z.Kind == KindPolygon {
		return []string{encodeRing(z.Vertices)}
	}
	out := make([]string, 0, len(z.Centers))
	for _, c := range z.Centers {
		ring := make([]types.Point, 0, circleOutlineSegments)
		for i := 0; i < circleOutlineSegments; i++ {
			ring = append(ring, destination(c, float64(i)*360/circleOutlineSegments, z.RadiusMiles))
		}
		out = append(out, encodeRing(ring))
	}
	return out
}

func encodeRing(ring []types.Point) string {
	coords := make([][]float64, 0, len(ring)+1)
	for _, p := range ring {
		coords = append(coords, []float64{p.Lat, p.Lng})
	}
	if len(ring) > 0 {
		coords = append(coords, []float64{ring[0].Lat, ring[0].Lng})
	}
	return string(polyline.EncodeCoords(coords))
}
