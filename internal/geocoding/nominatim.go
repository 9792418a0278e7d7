package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/models"
)

const (
	// NominatimBaseURL is the public Nominatim search endpoint.
	NominatimBaseURL = "https://nominatim.openstreetmap.org/search"
	// DefaultUserAgent identifies the service per the Nominatim usage policy.
	DefaultUserAgent = "Cartograph-Geocoder/1.0 (https://github.com/UnknownOlympus/cartograph)"
	// NominatimTimeout bounds a single outbound request.
	NominatimTimeout = 30 * time.Second
)

// NominatimProvider implements the Provider interface using OpenStreetMap's Nominatim API.
// The public instance allows roughly one request per second; pacing is the caller's job.
type NominatimProvider struct {
	client  HTTPClient   // HTTP client for making requests
	baseURL string       // Base URL for the Nominatim API
	log     *slog.Logger // Logger for logging operations
	// userAgent and email are required by the Nominatim usage policy
	userAgent string
	email     string
}

// HTTPClient defines the interface for making HTTP requests.
// This allows for easy mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// nominatimResponse represents one element of the jsonv2 search response.
type nominatimResponse struct {
	Lat string `json:"lat"` // Latitude as string
	Lon string `json:"lon"` // Longitude as string
}

// NewNominatimProvider creates a new Nominatim geocoding provider
// against the public endpoint.
func NewNominatimProvider(email, userAgent string, log *slog.Logger) *NominatimProvider {
	return NewNominatimProviderWithClient(&http.Client{Timeout: NominatimTimeout}, email, userAgent, log)
}

// NewNominatimProviderWithClient creates a Nominatim provider with a custom HTTP client.
// Useful for testing with mocked HTTP clients.
func NewNominatimProviderWithClient(client HTTPClient, email, userAgent string, log *slog.Logger) *NominatimProvider {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &NominatimProvider{
		client:    client,
		baseURL:   NominatimBaseURL,
		log:       log,
		userAgent: userAgent,
		email:     email,
	}
}

// Geocode performs one search request for query.
//
// Status handling: 429 and 503 are transient overload, 403 is terminal (usually a
// missing User-Agent or a blocked IP), any other non-2xx status is transient.
// An empty result list is reported as KindNotFound.
func (np *NominatimProvider) Geocode(ctx context.Context, query string) (*models.Coordinates, error) {
	reqURL, err := url.Parse(np.baseURL)
	if err != nil {
		return nil, Terminal(fmt.Errorf("failed to parse base URL: %w", err), 0)
	}

	params := reqURL.Query()
	params.Set("q", query)
	params.Set("format", "jsonv2")
	params.Set("limit", "1")
	params.Set("addressdetails", "0")
	if np.email != "" {
		params.Set("email", np.email)
	}
	reqURL.RawQuery = params.Encode()

	np.log.DebugContext(ctx, "Nominatim request", "query", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, Terminal(fmt.Errorf("failed to create request: %w", err), 0)
	}
	req.Header.Set("User-Agent", np.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := np.client.Do(req)
	if err != nil {
		err = fmt.Errorf("failed to execute geocoding request: %w", err)
		if ctx.Err() != nil {
			return nil, Terminal(err, 0)
		}
		return nil, Transient(err, 0)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, Terminal(ErrForbidden, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return nil, Transient(fmt.Errorf("nominatim API overloaded, status %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		np.log.WarnContext(ctx, "Nominatim API error", "status", resp.StatusCode, "body", string(body))
		return nil, Transient(
			fmt.Errorf("nominatim API returned status %d: %s", resp.StatusCode, string(body)),
			resp.StatusCode,
		)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(fmt.Errorf("failed to read response body: %w", err), resp.StatusCode)
	}

	var results []nominatimResponse
	if err = json.Unmarshal(body, &results); err != nil {
		np.log.WarnContext(ctx, "Failed to parse Nominatim response", "error", err, "body", string(body))
		return nil, Transient(fmt.Errorf("failed to decode nominatim response: %w", err), resp.StatusCode)
	}

	if len(results) == 0 {
		return nil, NotFound()
	}

	return parseCoordinates(results[0].Lat, results[0].Lon)
}

func parseCoordinates(rawLat, rawLon string) (*models.Coordinates, error) {
	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil {
		return nil, Terminal(fmt.Errorf("%w: invalid latitude: %s", ErrInvalidCoords, rawLat), 0)
	}

	lon, err := strconv.ParseFloat(rawLon, 64)
	if err != nil {
		return nil, Terminal(fmt.Errorf("%w: invalid longitude: %s", ErrInvalidCoords, rawLon), 0)
	}

	return &models.Coordinates{Latitude: lat, Longitude: lon}, nil
}
