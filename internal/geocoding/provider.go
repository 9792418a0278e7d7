package geocoding

import (
	"context"

	"github.com/UnknownOlympus/cartograph/internal/models"
)

// Provider performs a single lookup against a geocoding backend.
// Failures are reported as *Error so the client can decide whether to retry;
// an empty answer is reported as a KindNotFound error.
type Provider interface {
	Geocode(ctx context.Context, query string) (*models.Coordinates, error)
}

// Geocoder resolves a query to a result, hiding retries and throttling.
type Geocoder interface {
	Geocode(ctx context.Context, query string) (models.Result, error)
}
