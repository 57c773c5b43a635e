package zone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetwatch/internal/types"
)

func vegasShop() Zone {
	return Zone{
		Name:        "Vegas Shop",
		Kind:        KindCircle,
		RadiusMiles: 2,
		Centers:     []types.Point{{Lat: 36.27766, Lng: -115.020692}},
	}
}

func vegasValley() Zone {
	return Zone{
		Name: "Las Vegas",
		Kind: KindPolygon,
		Vertices: []types.Point{
			{Lat: 36.40, Lng: -115.36}, {Lat: 36.40, Lng: -114.92},
			{Lat: 35.97, Lng: -114.92}, {Lat: 35.97, Lng: -115.36},
		},
	}
}

func TestClassify_VegasShop(t *testing.T) {
	reg, err := NewRegistry([]Zone{vegasShop()})
	require.NoError(t, err)
	assert.Equal(t, "Vegas Shop", reg.Classify(36.2777, -115.0205, ""))
}

func TestClassify_OverrideWins(t *testing.T) {
	reg, err := NewRegistry([]Zone{vegasShop()})
	require.NoError(t, err)
	assert.Equal(t, "Tow Yard", reg.Classify(36.2777, -115.0205, "Tow Yard"))
	assert.Equal(t, "Vegas Shop", reg.Classify(36.2777, -115.0205, ""))
	assert.Equal(t, "  Vegas Shop ", reg.Classify(0, 0, "  Vegas Shop "))
	assert.Equal(t, "   ", reg.Classify(0, 0, "   "))
}

func TestClassify_Unknown(t *testing.T) {
	reg, err := NewRegistry([]Zone{vegasShop(), vegasValley()})
	require.NoError(t, err)
	assert.Equal(t, Unknown, reg.Classify(40.7128, -74.0060, ""))
}

func TestClassify_CircleBeatsOverlappingPolygon(t *testing.T) {
	// The polygon is listed first but circle zones take precedence.
	reg, err := NewRegistry([]Zone{vegasValley(), vegasShop()})
	require.NoError(t, err)
	assert.Equal(t, "Vegas Shop", reg.Classify(36.2777, -115.0205, ""))
	// Inside the valley but far from the shop.
	assert.Equal(t, "Las Vegas", reg.Classify(36.10, -115.20, ""))
}

func TestClassify_FirstOfSameKindWins(t *testing.T) {
	wide := vegasShop()
	wide.Name = "Vegas Wide"
	wide.RadiusMiles = 20

	reg, err := NewRegistry([]Zone{wide, vegasShop()})
	require.NoError(t, err)
	assert.Equal(t, "Vegas Wide", reg.Classify(36.2777, -115.0205, ""))

	inner := vegasValley()
	inner.Name = "Inner"
	outer := vegasValley()
	outer.Name = "Outer"
	reg, err = NewRegistry([]Zone{inner, outer})
	require.NoError(t, err)
	assert.Equal(t, "Inner", reg.Classify(36.10, -115.20, ""))
}

func TestClassify_AnyCenterMatches(t *testing.T) {
	z := Zone{
		Name:        "Phoenix Shop",
		Kind:        KindCircle,
		RadiusMiles: 3,
		Centers:     []types.Point{{Lat: 33.4353, Lng: -112.0079}, {Lat: 33.3062, Lng: -111.8413}},
	}
	reg, err := NewRegistry([]Zone{z})
	require.NoError(t, err)
	assert.Equal(t, "Phoenix Shop", reg.Classify(33.4353, -112.0079, ""))
	assert.Equal(t, "Phoenix Shop", reg.Classify(33.3070, -111.8420, ""))
	assert.Equal(t, Unknown, reg.Classify(33.37, -111.93, ""))
}

func TestClassify_Deterministic(t *testing.T) {
	reg, err := Load("")
	require.NoError(t, err)
	points := []types.Point{
		{Lat: 36.2777, Lng: -115.0205},
		{Lat: 36.10, Lng: -115.20},
		{Lat: 33.40, Lng: -112.00},
		{Lat: 0, Lng: 0},
	}
	for _, p := range points {
		first := reg.Classify(p.Lat, p.Lng, "")
		for i := 0; i < 50; i++ {
			require.Equal(t, first, reg.Classify(p.Lat, p.Lng, ""))
		}
	}
}
