package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "needmap"

// Metrics holds the Prometheus counters, histograms, and gauges for the service.
type Metrics struct {
	// Source adapter metrics.
	SourceFetches        *prometheus.CounterVec   // labels: source, outcome={success,error,fallback}
	SourceFetchDuration  *prometheus.HistogramVec // labels: source
	SourceRecordsDropped *prometheus.CounterVec   // labels: source

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
	GeocodeEnabled     prometheus.Gauge

	// Catalog cache metrics.
	CatalogCache     *prometheus.CounterVec // labels: result={hit,miss}
	CatalogRefreshes *prometheus.CounterVec // labels: outcome={ok,empty}
	CatalogResources prometheus.Gauge

	// Observation metrics.
	ObservationsIngested *prometheus.CounterVec // labels: path={http,kafka}
	ObservationsRejected *prometheus.CounterVec // labels: code

	// Scoring and hotspot metrics.
	RecommendationDuration prometheus.Histogram
	HotspotDuration        prometheus.Histogram

	// Ingest pipeline metrics.
	MessagesConsumed        prometheus.Counter
	TransformErrors         prometheus.Counter
	PipelineRunning         prometheus.Gauge
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		SourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetch_total",
			Help:      "Provider feed fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		SourceFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Provider feed fetch duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		SourceRecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_records_dropped_total",
			Help:      "Provider records dropped for missing or invalid coordinates.",
		}, []string{"source"}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when address geocoding is enabled, 0 otherwise.",
		}),
		CatalogCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_total",
			Help:      "Catalog cache lookups by result.",
		}, []string{"result"}),
		CatalogRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_refresh_total",
			Help:      "Catalog refreshes by outcome; empty means every source returned nothing.",
		}, []string{"outcome"}),
		CatalogResources: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_resources",
			Help:      "Resources in the most recent catalog snapshot.",
		}),
		ObservationsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_ingested_total",
			Help:      "Observations accepted into the store by ingest path.",
		}, []string{"path"}),
		ObservationsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_rejected_total",
			Help:      "Observation reports rejected by validation code.",
		}, []string{"code"}),
		RecommendationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recommendation_duration_seconds",
			Help:      "Duration of a need-scoring pass.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		HotspotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hotspot_duration_seconds",
			Help:      "Duration of a hexbin aggregation.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total messages read from the observation ingest topic.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_errors_total",
			Help:      "Total ingest messages that failed to parse or validate.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the ingest pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of messages per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-transform-load cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
	}

	prometheus.MustRegister(
		m.SourceFetches,
		m.SourceFetchDuration,
		m.SourceRecordsDropped,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.CatalogCache,
		m.CatalogRefreshes,
		m.CatalogResources,
		m.ObservationsIngested,
		m.ObservationsRejected,
		m.RecommendationDuration,
		m.HotspotDuration,
		m.MessagesConsumed,
		m.TransformErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		SourceFetches:           prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "source_fetch_total"}, []string{"source", "outcome"}),
		SourceFetchDuration:     prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "source_fetch_duration_seconds"}, []string{"source"}),
		SourceRecordsDropped:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "source_records_dropped_total"}, []string{"source"}),
		GeocodeRequests:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "geocode_requests_total"}, []string{"outcome"}),
		GeocodeCache:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "geocode_cache_total"}, []string{"result"}),
		GeocodeAPIDuration:      prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "geocode_api_duration_seconds"}),
		GeocodeEnabled:          prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "geocode_enabled"}),
		CatalogCache:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "catalog_cache_total"}, []string{"result"}),
		CatalogRefreshes:        prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "catalog_refresh_total"}, []string{"outcome"}),
		CatalogResources:        prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "catalog_resources"}),
		ObservationsIngested:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "observations_ingested_total"}, []string{"path"}),
		ObservationsRejected:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "observations_rejected_total"}, []string{"code"}),
		RecommendationDuration:  prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "recommendation_duration_seconds"}),
		HotspotDuration:         prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "hotspot_duration_seconds"}),
		MessagesConsumed:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "messages_consumed_total"}),
		TransformErrors:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "transform_errors_total"}),
		PipelineRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pipeline_running"}),
		BatchSize:               prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_size"}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "batch_processing_duration_seconds"}),
	}
}
