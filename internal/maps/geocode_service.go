package maps

import (
	"context"
	"errors"
	"fmt"

	"googlemaps.github.io/maps"
)

var ErrNoLocality = errors.New("no locality for coordinate")

// GeocodeService resolves coordinates to a human-readable city name with the
// Google Geocoding API.
type GeocodeService struct {
	client *maps.Client
}

// NewGeocodeService creates a new GeocodeService with the given API Key.
func NewGeocodeService(apiKey string) (*GeocodeService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GeocodeService{client: client}, nil
}

// CityName returns the locality containing the coordinate.
func (s *GeocodeService) CityName(ctx context.Context, lat, lng float64) (string, error) {
	r := &maps.GeocodingRequest{
		LatLng:     &maps.LatLng{Lat: lat, Lng: lng},
		ResultType: []string{"locality"},
		Language:   "en",
	}

	results, err := s.client.ReverseGeocode(ctx, r)
	if err != nil {
		return "", fmt.Errorf("maps api error: %w", err)
	}
	return cityFromResults(results)
}

func cityFromResults(results []maps.GeocodingResult) (string, error) {
	for _, res := range results {
		for _, c := range res.AddressComponents {
			for _, t := range c.Types {
				if t == "locality" && c.LongName != "" {
					return c.LongName, nil
				}
			}
		}
	}
	return "", ErrNoLocality
}
