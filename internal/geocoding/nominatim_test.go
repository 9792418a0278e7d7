package geocoding_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/UnknownOlympus/cartograph/internal/geocoding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHTTPClient is a mock implementation of HTTPClient for testing.
type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.doFunc(req)
}

func respond(status int, body string) func(*http.Request) (*http.Response, error) {
	return func(_ *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Body:       io.NopCloser(bytes.NewBufferString(body)),
		}, nil
	}
}

func TestNominatimProvider_Geocode(t *testing.T) {
	ctx := t.Context()
	logger := slog.Default()
	const email = "ops@example.org"

	t.Run("successful geocoding", func(t *testing.T) {
		mockClient := &mockHTTPClient{
			doFunc: func(req *http.Request) (*http.Response, error) {
				// Verify request parameters
				assert.Equal(t, http.MethodGet, req.Method)
				assert.Contains(t, req.URL.String(), "nominatim.openstreetmap.org/search")
				params := req.URL.Query()
				assert.Equal(t, "1 Elm St, Boston, MA 02116, USA", params.Get("q"))
				assert.Equal(t, "jsonv2", params.Get("format"))
				assert.Equal(t, "1", params.Get("limit"))
				assert.Equal(t, "0", params.Get("addressdetails"))
				assert.Equal(t, email, params.Get("email"))
				assert.Equal(t, geocoding.DefaultUserAgent, req.Header.Get("User-Agent"))

				return respond(http.StatusOK, `[{"lat":"42.3493","lon":"-71.0712"}]`)(req)
			},
		}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, email, "", logger)
		coords, err := provider.Geocode(ctx, "1 Elm St, Boston, MA 02116, USA")

		require.NoError(t, err)
		require.NotNil(t, coords)
		assert.InEpsilon(t, 42.3493, coords.Latitude, 0.0001)
		assert.InEpsilon(t, -71.0712, coords.Longitude, 0.0001)
	})

	t.Run("custom user agent", func(t *testing.T) {
		mockClient := &mockHTTPClient{
			doFunc: func(req *http.Request) (*http.Response, error) {
				assert.Equal(t, "houses-geocoder/2.0 (contact: ops@example.org)", req.Header.Get("User-Agent"))
				return respond(http.StatusOK, `[{"lat":"1","lon":"2"}]`)(req)
			},
		}

		provider := geocoding.NewNominatimProviderWithClient(
			mockClient, email, "houses-geocoder/2.0 (contact: ops@example.org)", logger,
		)
		_, err := provider.Geocode(ctx, "somewhere")

		require.NoError(t, err)
	})

	t.Run("empty response is not found", func(t *testing.T) {
		mockClient := &mockHTTPClient{doFunc: respond(http.StatusOK, `[]`)}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, email, "", logger)
		coords, err := provider.Geocode(ctx, "invalid address")

		require.Error(t, err)
		require.Nil(t, coords)
		assert.ErrorIs(t, err, geocoding.ErrNoMatch)
		assert.Equal(t, geocoding.KindNotFound, geocoding.KindOf(err))
	})

	t.Run("forbidden is terminal", func(t *testing.T) {
		mockClient := &mockHTTPClient{doFunc: respond(http.StatusForbidden, `blocked`)}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, email, "", logger)
		coords, err := provider.Geocode(ctx, "some address")

		require.Nil(t, coords)
		require.ErrorIs(t, err, geocoding.ErrForbidden)
		assert.Equal(t, geocoding.KindTerminal, geocoding.KindOf(err))
		assert.Equal(t, http.StatusForbidden, geocoding.StatusOf(err))
	})

	for _, status := range []int{http.StatusTooManyRequests, http.StatusServiceUnavailable} {
		t.Run("overload status is transient "+http.StatusText(status), func(t *testing.T) {
			mockClient := &mockHTTPClient{doFunc: respond(status, `slow down`)}

			provider := geocoding.NewNominatimProviderWithClient(mockClient, email, "", logger)
			coords, err := provider.Geocode(ctx, "some address")

			require.Nil(t, coords)
			require.Error(t, err)
			assert.Equal(t, geocoding.KindTransient, geocoding.KindOf(err))
			assert.Equal(t, status, geocoding.StatusOf(err))
		})
	}

	t.Run("other HTTP error status is transient", func(t *testing.T) {
		mockClient := &mockHTTPClient{doFunc: respond(http.StatusBadGateway, `{"error":"upstream"}`)}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, email, "", logger)
		coords, err := provider.Geocode(ctx, "some address")

		require.Nil(t, coords)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nominatim API returned status 502")
		assert.Equal(t, geocoding.KindTransient, geocoding.KindOf(err))
	})

	t.Run("invalid JSON response is transient", func(t *testing.T) {
		mockClient := &mockHTTPClient{doFunc: respond(http.StatusOK, `invalid json`)}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, email, "", logger)
		coords, err := provider.Geocode(ctx, "some address")

		require.Nil(t, coords)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode nominatim response")
		assert.Equal(t, geocoding.KindTransient, geocoding.KindOf(err))
	})

	t.Run("invalid latitude in response", func(t *testing.T) {
		mockClient := &mockHTTPClient{doFunc: respond(http.StatusOK, `[{"lat":"invalid","lon":"-71.07"}]`)}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, email, "", logger)
		coords, err := provider.Geocode(ctx, "some address")

		require.Nil(t, coords)
		require.ErrorIs(t, err, geocoding.ErrInvalidCoords)
		assert.Contains(t, err.Error(), "invalid latitude")
		assert.Equal(t, geocoding.KindTerminal, geocoding.KindOf(err))
	})

	t.Run("invalid longitude in response", func(t *testing.T) {
		mockClient := &mockHTTPClient{doFunc: respond(http.StatusOK, `[{"lat":"42.35","lon":"invalid"}]`)}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, email, "", logger)
		coords, err := provider.Geocode(ctx, "some address")

		require.Nil(t, coords)
		require.ErrorIs(t, err, geocoding.ErrInvalidCoords)
		assert.Contains(t, err.Error(), "invalid longitude")
	})

	t.Run("HTTP client returns error", func(t *testing.T) {
		mockClient := &mockHTTPClient{
			doFunc: func(_ *http.Request) (*http.Response, error) {
				return nil, assert.AnError
			},
		}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, email, "", logger)
		coords, err := provider.Geocode(ctx, "some address")

		require.Nil(t, coords)
		require.ErrorIs(t, err, assert.AnError)
		assert.Contains(t, err.Error(), "failed to execute geocoding request")
		assert.Equal(t, geocoding.KindTransient, geocoding.KindOf(err))
	})

	t.Run("context cancellation is terminal", func(t *testing.T) {
		newCtx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		mockClient := &mockHTTPClient{
			doFunc: func(req *http.Request) (*http.Response, error) {
				return nil, req.Context().Err()
			},
		}

		provider := geocoding.NewNominatimProviderWithClient(mockClient, email, "", logger)
		coords, err := provider.Geocode(newCtx, "some address")

		require.Nil(t, coords)
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, geocoding.KindTerminal, geocoding.KindOf(err))
	})
}

func TestNewNominatimProvider(t *testing.T) {
	provider := geocoding.NewNominatimProvider("ops@example.org", "", slog.Default())

	require.NotNil(t, provider)
}
