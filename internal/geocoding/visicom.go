package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/UnknownOlympus/cartograph/internal/models"
	"golang.org/x/time/rate"
)

// VisicomBaseURL -- Visicom API base URL.
const VisicomBaseURL = "https://api.visicom.ua/data-api/5.0/uk/geocode.json"

// VisicomProvider implements geocoding using Visicom API.
// Its limiter enforces the API key quota on top of the global throttle.
type VisicomProvider struct {
	client  HTTPClient    // HTTP client for making requests
	baseURL string        // Base URL for the Visicom API
	apiKey  string        // API key with geocoding access
	log     *slog.Logger  // Logger for logging operations
	limiter *rate.Limiter // Key quota limiter
}

// Visicom specific errors.
var (
	ErrVisicomEmptyAddress = errors.New("visicom provider got empty address")
	ErrVisicomUnauthorized = errors.New("visicom API unauthorized (invalid API key)")
)

// Visicom API response (simplified for geocoding use-case).
type visicomResponse struct {
	Geometry struct {
		Coordinates []float64 `json:"coordinates"` // [lon, lat]
	} `json:"geo_centroid"`
}

// NewVisicomProvider creates a new Visicom geocoding provider.
func NewVisicomProvider(apiKey string, rateLimit int, log *slog.Logger) *VisicomProvider {
	return NewVisicomProviderWithClient(
		&http.Client{Timeout: NominatimTimeout},
		apiKey,
		rate.NewLimiter(rate.Limit(rateLimit), rateLimit),
		log,
	)
}

// NewVisicomProviderWithClient allows injecting custom HTTP client.
func NewVisicomProviderWithClient(
	client HTTPClient,
	apiKey string,
	limiter *rate.Limiter,
	log *slog.Logger,
) *VisicomProvider {
	return &VisicomProvider{
		client:  client,
		baseURL: VisicomBaseURL,
		apiKey:  apiKey,
		log:     log,
		limiter: limiter,
	}
}

// Geocode converts a query into geographic coordinates using Visicom API.
func (vp *VisicomProvider) Geocode(ctx context.Context, query string) (*models.Coordinates, error) {
	const coordsListLength = 2

	if query == "" {
		return nil, Terminal(ErrVisicomEmptyAddress, 0)
	}

	if err := vp.limiter.Wait(ctx); err != nil {
		return nil, Terminal(fmt.Errorf("rate limit wait aborted: %w", err), 0)
	}

	reqURL, err := url.Parse(vp.baseURL)
	if err != nil {
		return nil, Terminal(fmt.Errorf("failed to parse base URL: %w", err), 0)
	}

	params := reqURL.Query()
	params.Set("text", query)
	params.Set("limit", "1")
	params.Set("key", vp.apiKey)
	reqURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, Terminal(fmt.Errorf("failed to create request: %w", err), 0)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := vp.client.Do(req)
	if err != nil {
		err = fmt.Errorf("failed to execute geocoding request: %w", err)
		if ctx.Err() != nil {
			return nil, Terminal(err, 0)
		}
		return nil, Transient(err, 0)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// continue
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, Terminal(ErrVisicomUnauthorized, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		vp.log.WarnContext(ctx, "Visicom API error", "status", resp.StatusCode, "body", string(body))
		return nil, Transient(
			fmt.Errorf("visicom API returned status %d: %s", resp.StatusCode, string(body)),
			resp.StatusCode,
		)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(fmt.Errorf("failed to read response body: %w", err), resp.StatusCode)
	}

	var result visicomResponse
	if err = json.Unmarshal(body, &result); err != nil {
		return nil, Transient(fmt.Errorf("failed to decode visicom response: %w", err), resp.StatusCode)
	}

	coords := result.Geometry.Coordinates
	if len(coords) == 0 {
		return nil, NotFound()
	}

	if len(coords) != coordsListLength {
		return nil, Terminal(ErrInvalidCoords, resp.StatusCode)
	}

	return &models.Coordinates{Latitude: coords[1], Longitude: coords[0]}, nil
}
