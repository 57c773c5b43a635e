// README: Great-circle distance and point-in-polygon helpers.
package zone

import (
	"math"

	"fleetwatch/internal/types"
)

const (
	earthRadiusKm    = 6371.0
	kmPerMile        = 1.609344
	earthRadiusMiles = earthRadiusKm / kmPerMile
)

// HaversineMiles returns the great-circle distance in miles between two
// points specified in decimal degrees.
func HaversineMiles(a, b types.Point) float64 {
	return earthRadiusMiles * centralAngle(a, b)
}

// HaversineMeters is HaversineMiles in metres.
func HaversineMeters(a, b types.Point) float64 {
	return earthRadiusKm * 1000 * centralAngle(a, b)
}

func centralAngle(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

func radiansToDegrees(rad float64) float64 {
	return rad * 180.0 / math.Pi
}

// containsPoint is an even-odd ray casting test. Latitude is treated as y and
// longitude as x; the ring is closed implicitly.
func containsPoint(ring []types.Point, p types.Point) bool {
	inside := false
	j := len(ring) - 1
	for i := range ring {
		yi, xi := ring[i].Lat, ring[i].Lng
		yj, xj := ring[j].Lat, ring[j].Lng
		if (yi > p.Lat) != (yj > p.Lat) &&
			p.Lng < (xj-xi)*(p.Lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

// destination returns the point reached by travelling distMiles from origin
// on the given initial bearing (degrees clockwise from north).
func destination(origin types.Point, bearingDeg, distMiles float64) types.Point {
	delta := distMiles / earthRadiusMiles
	theta := degreesToRadians(bearingDeg)
	lat1 := degreesToRadians(origin.Lat)
	lng1 := degreesToRadians(origin.Lng)

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(delta) + math.Cos(lat1)*math.Sin(delta)*math.Cos(theta))
	lng2 := lng1 + math.Atan2(math.Sin(theta)*math.Sin(delta)*math.Cos(lat1), math.Cos(delta)-math.Sin(lat1)*math.Sin(lat2))
	return types.Point{Lat: radiansToDegrees(lat2), Lng: math.Mod(radiansToDegrees(lng2)+540, 360) - 180}
}
