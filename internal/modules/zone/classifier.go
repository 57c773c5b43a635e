package zone

import "fleetwatch/internal/types"

// Classify maps a coordinate to a zone name. A non-empty override always
// wins and is returned exactly as given; callers normalize it first.
// Otherwise circle zones are tried before polygon zones, each in registry
// order, and the first match is returned. No match yields Unknown.
func (r *Registry) Classify(lat, lng float64, override string) string {
	if override != "" {
		return override
	}
	p := types.Point{Lat: lat, Lng: lng}
	for _, z := range r.zones {
		if z.Kind != KindCircle {
			continue
		}
		for _, c := range z.Centers {
			if HaversineMiles(p, c) <= z.RadiusMiles {
				return z.Name
			}
		}
	}
	for _, z := range r.zones {
		if z.Kind == KindPolygon && containsPoint(z.Vertices, p) {
			return z.Name
		}
	}
	return Unknown
}
