package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/UnknownOlympus/cartograph/internal/address"
	"github.com/UnknownOlympus/cartograph/internal/audit"
	"github.com/UnknownOlympus/cartograph/internal/cache"
	"github.com/UnknownOlympus/cartograph/internal/geocoding"
	"github.com/UnknownOlympus/cartograph/internal/metrics"
	"github.com/UnknownOlympus/cartograph/internal/models"
	"github.com/UnknownOlympus/cartograph/internal/repository"
	"github.com/UnknownOlympus/cartograph/internal/throttle"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/schollz/progressbar/v3"
)

// Defaults for Options fields left at zero.
const (
	DefaultBatchSize     = 200
	DefaultWorkers       = 3
	DefaultFetchAttempts = 5

	fetchBackoffStep = 10 * time.Second
	fetchBackoffMax  = 60 * time.Second
)

// ErrStoreUnavailable is returned when the record store cannot be read after all fetch attempts.
var ErrStoreUnavailable = errors.New("record store unavailable")

// Audit reasons written for records that were not updated.
const (
	reasonNoResult    = "no_result"
	reasonError       = "error: "
	reasonUpdateError = "update_error: "
)

// Options tune a BackfillService.
type Options struct {
	BatchSize     int
	Workers       int
	FetchAttempts int
	// Cache is shared across batches. A fresh one is created when nil.
	Cache *cache.Memo
	// Sleep waits between failed fetch attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// BackfillService resolves coordinates for every unresolved record in the store,
// one batch at a time.
type BackfillService struct {
	log           *slog.Logger
	store         repository.Interface
	geocoder      geocoding.Geocoder
	sink          audit.Sink
	metrics       *metrics.Metrics
	cache         *cache.Memo
	batchSize     int
	numWorkers    int
	fetchAttempts int
	sleep         func(ctx context.Context, d time.Duration) error
}

// attempt is what a worker reports for one unique address.
type attempt struct {
	address string
	query   string
	result  models.Result
	cached  bool
	err     error
}

// NewBackfillService creates a new BackfillService. Zero options fall back to defaults.
// With nil appMetrics the collectors are registered on a private registry nobody scrapes.
func NewBackfillService(
	log *slog.Logger,
	store repository.Interface,
	geocoder geocoding.Geocoder,
	sink audit.Sink,
	appMetrics *metrics.Metrics,
	opts Options,
) *BackfillService {
	if appMetrics == nil {
		appMetrics = metrics.NewMetrics(prometheus.NewRegistry())
	}

	svc := &BackfillService{
		log:           log,
		store:         store,
		geocoder:      geocoder,
		sink:          sink,
		metrics:       appMetrics,
		cache:         opts.Cache,
		batchSize:     opts.BatchSize,
		numWorkers:    opts.Workers,
		fetchAttempts: opts.FetchAttempts,
		sleep:         opts.Sleep,
	}

	if svc.cache == nil {
		svc.cache = cache.New()
	}
	if svc.batchSize <= 0 {
		svc.batchSize = DefaultBatchSize
	}
	if svc.numWorkers <= 0 {
		svc.numWorkers = DefaultWorkers
	}
	if svc.fetchAttempts <= 0 {
		svc.fetchAttempts = DefaultFetchAttempts
	}
	if svc.sleep == nil {
		svc.sleep = throttle.Sleep
	}

	return svc
}

// Run processes batches until the store has no unresolved records left, the store
// stays unreachable, or ctx is cancelled. The counters cover every outcome reconciled
// before Run returned.
//
// Addresses that were not updated are excluded from later fetches of the same run,
// so rows the service keeps failing on cannot make it loop forever.
func (s *BackfillService) Run(ctx context.Context) (models.Counters, error) {
	var (
		counters models.Counters
		skip     = newSkipSet()
	)

	s.log.InfoContext(ctx, "Backfill started",
		"batch_size", s.batchSize,
		"num_workers", s.numWorkers)

	for batch := 1; ; batch++ {
		if err := ctx.Err(); err != nil {
			s.log.WarnContext(ctx, "Backfill interrupted", "batch", batch, "error", err)
			return counters, err
		}

		records, err := s.fetch(ctx, skip.list())
		if err != nil {
			return counters, err
		}
		if len(records) == 0 {
			s.log.InfoContext(ctx, "No unresolved records left.")
			return counters, nil
		}

		unique := dedup(records)
		// whitespace-only addresses are never geocoded; keep them out of the next fetch
		for _, rec := range records {
			if strings.TrimSpace(rec.Address) == "" {
				skip.add(rec.Address)
			}
		}

		s.log.InfoContext(ctx, "Found records to process. Starting worker pool.",
			"batch", batch,
			"records", len(records),
			"unique", len(unique),
			"num_workers", min(s.numWorkers, len(unique)))

		attempts := s.dispatch(ctx, unique)
		batchCounters := s.reconcile(ctx, batch, attempts, skip)

		counters.Updated += batchCounters.Updated
		counters.NoResult += batchCounters.NoResult
		counters.Failed += batchCounters.Failed
		s.metrics.Batches.Inc()

		s.log.InfoContext(ctx, "Processing batch finished",
			"batch", batch,
			"updated", batchCounters.Updated,
			"no_result", batchCounters.NoResult,
			"failed", batchCounters.Failed,
			"cached", s.cache.Len(),
			"total", counters.Total())
	}
}

// fetch reads the next batch, retrying with a linearly growing delay.
func (s *BackfillService) fetch(ctx context.Context, skip []string) ([]models.Record, error) {
	var lastErr error

	for attempt := 1; attempt <= s.fetchAttempts; attempt++ {
		records, err := s.store.FetchUnresolved(ctx, s.batchSize, skip)
		if err == nil {
			return records, nil
		}

		lastErr = err
		s.metrics.FetchFailures.Inc()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == s.fetchAttempts {
			break
		}

		delay := min(time.Duration(attempt)*fetchBackoffStep, fetchBackoffMax)
		s.log.WarnContext(ctx, "Failed to fetch records, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err)

		if err = s.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	s.log.ErrorContext(ctx, "Giving up on fetching records",
		"attempts", s.fetchAttempts,
		"error", lastErr)

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrStoreUnavailable, s.fetchAttempts, lastErr)
}

// dispatch runs the worker pool over unique and waits for exactly one attempt per address.
func (s *BackfillService) dispatch(ctx context.Context, unique []string) []attempt {
	jobs := make(chan string, len(unique))
	results := make(chan attempt, len(unique))
	var wgr sync.WaitGroup

	for i := 1; i <= min(s.numWorkers, len(unique)); i++ {
		wgr.Add(1)
		go s.worker(ctx, i, &wgr, jobs, results)
	}

	for _, addr := range unique {
		jobs <- addr
	}
	close(jobs)

	attempts := make([]attempt, 0, len(unique))
	for range unique {
		attempts = append(attempts, <-results)
	}
	wgr.Wait()

	return attempts
}

// worker resolves addresses from jobs: normalize, then the dedup cache, then the geocoder.
func (s *BackfillService) worker(
	ctx context.Context,
	idx int,
	wg *sync.WaitGroup,
	jobs <-chan string,
	results chan<- attempt,
) {
	defer wg.Done()
	for addr := range jobs {
		s.metrics.ActiveWorkers.Inc()

		query := address.Normalize(addr)
		s.log.DebugContext(ctx, "Geocoding address", "worker", idx, "address", addr, "query", query)

		result, hit, err := s.cache.GetOrCompute(addr, func() (models.Result, error) {
			if query == "" {
				return models.Miss(models.MissEmptyQuery), nil
			}
			return s.geocoder.Geocode(ctx, query)
		})

		if hit {
			s.metrics.CacheLookups.WithLabelValues("hit").Inc()
		} else {
			s.metrics.CacheLookups.WithLabelValues("miss").Inc()
		}

		results <- attempt{address: addr, query: query, result: result, cached: hit, err: err}
		s.metrics.ActiveWorkers.Dec()
	}
}

// reconcile applies the attempts of one batch sequentially. Work that already finished is
// persisted even if ctx has been cancelled meanwhile.
func (s *BackfillService) reconcile(
	ctx context.Context,
	batch int,
	attempts []attempt,
	skip *skipSet,
) models.Counters {
	var counters models.Counters
	rctx := context.WithoutCancel(ctx)
	bar := newProgressBar(len(attempts), batch)

	for _, att := range attempts {
		if att.err != nil && ctx.Err() != nil && isCancellation(att.err) {
			s.log.DebugContext(rctx, "Dropping interrupted lookup", "address", att.address)
			continue
		}

		outcome := s.settle(rctx, att)
		counters.Add(outcome.Kind)
		s.metrics.Outcomes.WithLabelValues(outcome.Kind.String(), detail(outcome, att.err)).Inc()

		if outcome.Kind != models.OutcomeUpdated {
			skip.add(outcome.Address)
			if err := s.sink.Append(outcome.Address, outcome.Query, outcome.Reason); err != nil {
				s.log.ErrorContext(rctx, "Failed to write audit row", "address", outcome.Address, "error", err)
			}
		}

		if bar != nil {
			_ = bar.Add(1)
		}
	}

	if bar != nil {
		_ = bar.Finish()
	}

	return counters
}

// settle turns one attempt into an Outcome, writing coordinates back when there are any.
func (s *BackfillService) settle(ctx context.Context, att attempt) models.Outcome {
	outcome := models.Outcome{Address: att.address, Query: att.query}

	switch {
	case att.err != nil:
		outcome.Kind = models.OutcomeFailed
		outcome.Reason = reasonError + att.err.Error()
		s.log.WarnContext(ctx, "Failed to geocode", "address", att.address, "query", att.query, "error", att.err)

	case !att.result.Found():
		outcome.Kind = models.OutcomeNoMatch
		outcome.Miss = att.result.Miss
		outcome.Reason = reasonNoResult
		s.log.WarnContext(ctx, "No result", "address", att.address, "query", att.query, "miss", att.result.Miss)

	default:
		coords := *att.result.Coordinates
		outcome.Coordinates = &coords

		if err := s.store.UpdateCoordinates(ctx, att.address, coords); err != nil {
			outcome.Kind = models.OutcomeFailed
			outcome.Reason = reasonUpdateError + err.Error()
			s.log.WarnContext(ctx, "Failed to update coordinates", "address", att.address, "error", err)
			break
		}

		outcome.Kind = models.OutcomeUpdated
		s.log.InfoContext(ctx, "Updated coordinates",
			"address", att.address,
			"lat", coords.Latitude,
			"lon", coords.Longitude,
			"cached", att.cached)
	}

	return outcome
}

// dedup returns the distinct non-blank addresses of records, first occurrence first.
// Addresses are compared after trimming surrounding whitespace.
func dedup(records []models.Record) []string {
	seen := make(map[string]struct{}, len(records))
	unique := make([]string, 0, len(records))

	for _, rec := range records {
		key := strings.TrimSpace(rec.Address)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, rec.Address)
	}

	return unique
}

func detail(outcome models.Outcome, err error) string {
	switch outcome.Kind {
	case models.OutcomeNoMatch:
		return string(outcome.Miss)
	case models.OutcomeFailed:
		if err != nil {
			return geocoding.KindOf(err).String()
		}
		return "update"
	default:
		return ""
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func newProgressBar(total, batch int) *progressbar.ProgressBar {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}

	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(fmt.Sprintf("Batch %d", batch)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

// skipSet keeps the addresses excluded from fetches for the rest of a run.
type skipSet struct {
	index map[string]struct{}
	items []string
}

func newSkipSet() *skipSet {
	return &skipSet{index: make(map[string]struct{})}
}

func (s *skipSet) add(addr string) {
	if _, ok := s.index[addr]; ok {
		return
	}
	s.index[addr] = struct{}{}
	s.items = append(s.items, addr)
}

func (s *skipSet) list() []string {
	return slices.Clone(s.items)
}
