package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PerpAMM.
type Metrics struct {
	// --- Core computation ---
	ComputeTotal    *prometheus.CounterVec
	ComputeDuration *prometheus.HistogramVec
	ComputeErrors   *prometheus.CounterVec

	// --- Request/reply ---
	NATSRequests        *prometheus.CounterVec
	NATSRequestDuration *prometheus.HistogramVec
	PublishDrops        prometheus.Counter
	PublishedQuotes     *prometheus.CounterVec

	// --- Quote cache ---
	QuoteCacheHits      prometheus.Counter
	QuoteCacheMisses    prometheus.Counter
	QuoteCacheSize      prometheus.Gauge
	QuoteCacheEvictions prometheus.Counter

	// --- Channels ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec

	// --- Persistence ---
	QuoteLogWritten   prometheus.Counter
	QuoteLogBatchSize prometheus.Histogram
	QuoteLogBatchDur  prometheus.Histogram
	PersistErrors     *prometheus.CounterVec
	PersistRetry      prometheus.Counter
	SnapshotsLoaded   *prometheus.CounterVec
	SnapshotsRejected *prometheus.CounterVec

	// --- Funding projection ---
	FundingProjectionRuns     *prometheus.CounterVec
	FundingProjectionDuration prometheus.Histogram
	FundingRate               *prometheus.GaugeVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in main and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	computeBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05, 0.1,
	}

	return &Metrics{
		// Core computation
		ComputeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_compute_total",
			Help: "Core computations by operation",
		}, []string{"operation"}),

		ComputeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "amm_compute_duration_seconds",
			Help:    "Time spent in one core computation",
			Buckets: computeBuckets,
		}, []string{"operation"}),

		ComputeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_compute_errors_total",
			Help: "Failed core computations by error kind",
		}, []string{"operation", "kind"}),

		// Request/reply
		NATSRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_nats_requests_total",
			Help: "Preview requests received over NATS",
		}, []string{"subject", "status"}),

		NATSRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "amm_nats_request_duration_seconds",
			Help:    "NATS receive to reply",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"subject"}),

		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "amm_publish_drops_total",
			Help: "Quotes dropped due to full publish channel",
		}),

		PublishedQuotes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_published_quotes_total",
			Help: "Quotes published to JetStream",
		}, []string{"request_type"}),

		// Quote cache
		QuoteCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "amm_quote_cache_hits_total",
			Help: "Quotes served from the cache",
		}),

		QuoteCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "amm_quote_cache_misses_total",
			Help: "Quotes computed because the cache had no entry",
		}),

		QuoteCacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "amm_quote_cache_size",
			Help: "Entries in the quote cache",
		}),

		QuoteCacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "amm_quote_cache_evictions_total",
			Help: "Entries evicted from the quote cache",
		}),

		// Channels
		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amm_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amm_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amm_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		// Persistence
		QuoteLogWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "amm_quote_log_written_total",
			Help: "Quote records written to Postgres",
		}),

		QuoteLogBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "amm_quote_log_batch_size",
			Help:    "Quote records per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		QuoteLogBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "amm_quote_log_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: factory.NewCounter(prometheus.CounterOpts{
			Name: "amm_persist_retry_total",
			Help: "Persistence retries",
		}),

		SnapshotsLoaded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_snapshots_loaded_total",
			Help: "Pool snapshots loaded from Postgres",
		}, []string{"pool"}),

		SnapshotsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_snapshots_rejected_total",
			Help: "Snapshots rejected (stale, invalid parameters)",
		}, []string{"reason"}),

		// Funding projection
		FundingProjectionRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_funding_projection_runs_total",
			Help: "Funding projection passes",
		}, []string{"status"}),

		FundingProjectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "amm_funding_projection_duration_seconds",
			Help:    "Funding projection pass duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),

		FundingRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amm_funding_rate",
			Help: "Last projected funding rate",
		}, []string{"pool", "perpetual"}),

		// Query API
		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "amm_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
