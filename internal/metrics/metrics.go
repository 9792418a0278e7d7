package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Outcomes       *prometheus.CounterVec
	APIErrors      *prometheus.CounterVec
	Retries        prometheus.Counter
	RequestSeconds *prometheus.HistogramVec
	ThrottleWait   prometheus.Histogram
	CacheLookups   *prometheus.CounterVec
	ActiveWorkers  prometheus.Gauge
	Batches        prometheus.Counter
	FetchFailures  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Outcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "geocoding_outcomes_total",
			Help: "Total number of per-address outcomes, by outcome and detail.",
		}, []string{"outcome", "detail"}),
		APIErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "geocoding_provider_api_errors_total",
			Help: "Total number of errors received from the geocoding provider API, by error kind.",
		}, []string{"kind"}),
		Retries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "geocoding_provider_retries_total",
			Help: "Total number of backoff retries against the geocoding provider.",
		}),
		RequestSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "geocoding_provider_request_duration_seconds",
			Help:    "Duration of requests to the geocoding provider API.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		ThrottleWait: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "geocoding_throttle_wait_seconds",
			Help:    "Time spent waiting for the global request throttle.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		CacheLookups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "geocoding_cache_lookups_total",
			Help: "Dedup cache lookups, by result (hit or miss).",
		}, []string{"result"}),
		ActiveWorkers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "geocoding_active_workers",
			Help: "Current number of workers processing an address.",
		}),
		Batches: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "geocoding_batches_processed_total",
			Help: "Total number of record batches fully reconciled.",
		}),
		FetchFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "geocoding_store_fetch_failures_total",
			Help: "Total number of failed attempts to fetch unresolved records.",
		}),
	}
}
