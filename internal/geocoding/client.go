package geocoding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/metrics"
	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/UnknownOlympus/cartograph/internal/throttle"
)

// Retry defaults for a single Geocode call.
const (
	DefaultMaxTries       = 6
	DefaultInitialBackoff = 2 * time.Second
	DefaultMaxBackoff     = 60 * time.Second
)

// Limiter gates every outbound attempt. *throttle.Throttle implements it.
type Limiter interface {
	Acquire(ctx context.Context) (time.Time, error)
}

// Client wraps a Provider with the global throttle and a retry policy keyed on ErrorKind.
type Client struct {
	provider       Provider
	providerName   string
	limiter        Limiter
	log            *slog.Logger
	metrics        *metrics.Metrics
	maxTries       int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

// Option configures the Client.
type Option func(*Client)

// WithMaxTries sets the number of attempts per query, including the first one.
func WithMaxTries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTries = n
		}
	}
}

// WithBackoff sets the first backoff delay and its cap.
func WithBackoff(initial, limit time.Duration) Option {
	return func(c *Client) {
		if initial > 0 {
			c.initialBackoff = initial
		}
		if limit > 0 {
			c.maxBackoff = limit
		}
	}
}

// WithSleeper replaces the backoff sleep, mostly for tests.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// WithLogger sets the client logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// WithMetrics records request durations, retries and errors.
// providerName labels the request histogram.
func WithMetrics(m *metrics.Metrics, providerName string) Option {
	return func(c *Client) {
		c.metrics = m
		c.providerName = providerName
	}
}

// NewClient creates a Client. Every attempt first acquires limiter.
func NewClient(provider Provider, limiter Limiter, opts ...Option) *Client {
	c := &Client{
		provider:       provider,
		providerName:   string(ProviderTypeNominatim),
		limiter:        limiter,
		log:            slog.Default(),
		maxTries:       DefaultMaxTries,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		sleep:          throttle.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Geocode resolves query to coordinates.
//
// An empty answer from the service yields a result with MissNoMatch. Running out of
// attempts on transient failures yields MissRetriesExhausted and a nil error: both land
// in the same no_result bucket but stay distinguishable through Result.Miss.
// Terminal failures are returned immediately without any retry.
func (c *Client) Geocode(ctx context.Context, query string) (models.Result, error) {
	if query == "" {
		return models.Miss(models.MissEmptyQuery), nil
	}

	backoff := c.initialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.maxTries; attempt++ {
		waitStart := time.Now()
		if _, err := c.limiter.Acquire(ctx); err != nil {
			return models.Result{}, fmt.Errorf("waiting for throttle: %w", err)
		}
		c.observeThrottle(time.Since(waitStart))

		start := time.Now()
		coords, err := c.provider.Geocode(ctx, query)
		c.observeRequest(time.Since(start))

		if err == nil {
			return models.Result{Coordinates: coords}, nil
		}

		switch kind := KindOf(err); kind {
		case KindNotFound:
			return models.Miss(models.MissNoMatch), nil
		case KindTerminal:
			c.countError(kind)
			return models.Result{}, err
		case KindTransient:
			c.countError(kind)
			lastErr = err
		}

		if attempt == c.maxTries {
			break
		}

		c.log.WarnContext(ctx, "Transient geocoding failure, backing off",
			"query", query,
			"attempt", attempt,
			"status", StatusOf(err),
			"backoff", backoff,
			"error", err)

		if err = c.sleep(ctx, backoff); err != nil {
			return models.Result{}, fmt.Errorf("backoff interrupted: %w", err)
		}
		if c.metrics != nil {
			c.metrics.Retries.Inc()
		}
		backoff = min(backoff*2, c.maxBackoff)
	}

	c.log.WarnContext(ctx, "Geocoding retries exhausted",
		"query", query,
		"tries", c.maxTries,
		"error", lastErr)

	return models.Miss(models.MissRetriesExhausted), nil
}

func (c *Client) observeThrottle(d time.Duration) {
	if c.metrics != nil {
		c.metrics.ThrottleWait.Observe(d.Seconds())
	}
}

func (c *Client) observeRequest(d time.Duration) {
	if c.metrics != nil {
		c.metrics.RequestSeconds.WithLabelValues(c.providerName).Observe(d.Seconds())
	}
}

func (c *Client) countError(kind ErrorKind) {
	if c.metrics != nil {
		c.metrics.APIErrors.WithLabelValues(kind.String()).Inc()
	}
}
