package zone

import (
	"math"
	"testing"

	"fleetwatch/internal/types"
)

func TestHaversineMiles_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.Point
		wantMiles float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         types.Point{Lat: 36.27766, Lng: -115.020692},
			b:         types.Point{Lat: 36.27766, Lng: -115.020692},
			wantMiles: 0,
			tolerance: 0.0001,
		},
		{
			name:      "Las Vegas to Phoenix (~256mi)",
			a:         types.Point{Lat: 36.1699, Lng: -115.1398},
			b:         types.Point{Lat: 33.4484, Lng: -112.0740},
			wantMiles: 256,
			tolerance: 5,
		},
		{
			name:      "New York to Los Angeles (~2451mi)",
			a:         types.Point{Lat: 40.7128, Lng: -74.0060},
			b:         types.Point{Lat: 34.0522, Lng: -118.2437},
			wantMiles: 2451,
			tolerance: 30,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineMiles(tt.a, tt.b)
			if math.Abs(got-tt.wantMiles) > tt.tolerance {
				t.Errorf("HaversineMiles() = %f, want %f (±%f)", got, tt.wantMiles, tt.tolerance)
			}
		})
	}
}

func TestHaversine_Symmetry(t *testing.T) {
	a := types.Point{Lat: 36.0, Lng: -115.0}
	b := types.Point{Lat: 37.0, Lng: -114.0}
	if math.Abs(HaversineMeters(a, b)-HaversineMeters(b, a)) > 0.0001 {
		t.Errorf("haversine is not symmetric")
	}
}

func TestHaversineMeters_LatitudeIndependent(t *testing.T) {
	// 0.0005 degrees of longitude is ~55m at the equator but only ~28m at 60N.
	equator := HaversineMeters(types.Point{Lat: 0, Lng: 0}, types.Point{Lat: 0, Lng: 0.0005})
	north := HaversineMeters(types.Point{Lat: 60, Lng: 0}, types.Point{Lat: 60, Lng: 0.0005})
	if equator < 50 || north > 30 {
		t.Errorf("unexpected distances: equator=%f north=%f", equator, north)
	}
}

func TestContainsPoint(t *testing.T) {
	square := []types.Point{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 10}, {Lat: 10, Lng: 10}, {Lat: 10, Lng: 0}}
	concave := []types.Point{{Lat: 0, Lng: 0}, {Lat: 10, Lng: 0}, {Lat: 10, Lng: 10}, {Lat: 5, Lng: 5}, {Lat: 0, Lng: 10}}

	cases := []struct {
		name string
		ring []types.Point
		p    types.Point
		want bool
	}{
		{"square center", square, types.Point{Lat: 5, Lng: 5}, true},
		{"square outside", square, types.Point{Lat: 11, Lng: 5}, false},
		{"concave notch", concave, types.Point{Lat: 5, Lng: 8}, false},
		{"concave body", concave, types.Point{Lat: 5, Lng: 2}, true},
	}
	for _, tc := range cases {
		if got := containsPoint(tc.ring, tc.p); got != tc.want {
			t.Errorf("%s: containsPoint = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestDestination_RoundTrip(t *testing.T) {
	origin := types.Point{Lat: 36.27766, Lng: -115.020692}
	for _, bearing := range []float64{0, 90, 180, 270} {
		d := destination(origin, bearing, 2)
		if got := HaversineMiles(origin, d); math.Abs(got-2) > 0.001 {
			t.Errorf("bearing %v: distance = %f, want 2", bearing, got)
		}
	}
}
