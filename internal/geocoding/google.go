package geocoding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/UnknownOlympus/cartograph/internal/models"
	"googlemaps.github.io/maps"
)

// GoogleProvider is a struct that holds the client for Google Maps API
// and a logger for logging purposes.
type GoogleProvider struct {
	client GoogleAPIClient // client is the Google Maps API client
	log    *slog.Logger    // log is the logger for logging operations
}

// GoogleAPIClient is the subset of *maps.Client used by the provider.
type GoogleAPIClient interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// Google API statuses that retrying cannot fix.
var googleTerminalStatuses = []string{"REQUEST_DENIED", "INVALID_REQUEST"}

// NewGoogleProvider wraps a Google Maps client.
func NewGoogleProvider(client GoogleAPIClient, log *slog.Logger) *GoogleProvider {
	return &GoogleProvider{client: client, log: log}
}

// Geocode resolves query through the Google Maps Geocoding API.
// Denied or invalid requests are terminal, ZERO_RESULTS and empty answers are
// KindNotFound, everything else (quota, network) is transient.
func (gp *GoogleProvider) Geocode(ctx context.Context, query string) (*models.Coordinates, error) {
	gp.log.DebugContext(ctx, "Geocoding using Google Maps", "query", query)

	req := maps.GeocodingRequest{Address: query}
	geocodeResponse, err := gp.client.Geocode(ctx, &req)
	if err != nil {
		return nil, classifyGoogleError(ctx, err)
	}

	if len(geocodeResponse) == 0 {
		return nil, NotFound()
	}
	coords := geocodeResponse[0].Geometry.Location

	return &models.Coordinates{Longitude: coords.Lng, Latitude: coords.Lat}, nil
}

func classifyGoogleError(ctx context.Context, err error) error {
	wrapped := fmt.Errorf("failed to geocode address: %w", err)
	if ctx.Err() != nil {
		return Terminal(wrapped, 0)
	}

	msg := err.Error()
	if strings.Contains(msg, "ZERO_RESULTS") {
		return NotFound()
	}
	for _, status := range googleTerminalStatuses {
		if strings.Contains(msg, status) {
			return Terminal(wrapped, 0)
		}
	}

	return Transient(wrapped, 0)
}
