package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Store metrics
	StoreOperations *prometheus.CounterVec
	StoreLatency    *prometheus.HistogramVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter

	// Flush writer metrics
	FlushTasksProcessed prometheus.Counter
	FlushTasksFailed    prometheus.Counter
	FlushLatency        prometheus.Histogram
	FlushQueueSize      prometheus.Gauge
	FlushRetries        prometheus.Counter

	// Classifier metrics
	AlarmsClassified *prometheus.CounterVec
	ClassifierRuns   prometheus.Counter

	// Filter metrics
	AlarmsDropped *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		StoreOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "store_operations_total",
			Help:      "Total number of store operations",
		}, []string{"operation", "status"}),
		StoreLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "store_operation_duration_seconds",
			Help:      "Duration of store operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_hits_total",
			Help:      "Total number of patient cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_misses_total",
			Help:      "Total number of patient cache misses",
		}),
		FlushTasksProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "flush_tasks_processed_total",
			Help:      "Total number of successfully flushed patient documents",
		}),
		FlushTasksFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "flush_tasks_failed_total",
			Help:      "Total number of failed patient flushes",
		}),
		FlushLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "flush_duration_seconds",
			Help:      "Time spent flushing patient documents",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		FlushQueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "flush_queue_size",
			Help:      "Current number of patients waiting to be flushed",
		}),
		FlushRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "flush_retry_attempts_total",
			Help:      "Total number of retry attempts for patient flushes",
		}),
		AlarmsClassified: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "alarms_classified_total",
			Help:      "Total number of alarms labeled by the auto-classifier",
		}, []string{"result"}),
		ClassifierRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "classifier_runs_total",
			Help:      "Total number of auto-classification runs",
		}),
		AlarmsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "alarms_dropped_total",
			Help:      "Total number of alarms removed by the filter pipeline",
		}, []string{"stage"}),
	}
}

// New creates an unregistered metrics set, mainly for tests.
func New(namespace string) *Metrics {
	return &Metrics{
		StoreOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Total number of store operations",
		}, []string{"operation", "status"}),
		StoreLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Duration of store operations",
		}, []string{"operation"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of patient cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of patient cache misses",
		}),
		FlushTasksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_tasks_processed_total",
			Help:      "Total number of successfully flushed patient documents",
		}),
		FlushTasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_tasks_failed_total",
			Help:      "Total number of failed patient flushes",
		}),
		FlushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent flushing patient documents",
		}),
		FlushQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flush_queue_size",
			Help:      "Current number of patients waiting to be flushed",
		}),
		FlushRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_retry_attempts_total",
			Help:      "Total number of retry attempts for patient flushes",
		}),
		AlarmsClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_classified_total",
			Help:      "Total number of alarms labeled by the auto-classifier",
		}, []string{"result"}),
		ClassifierRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_runs_total",
			Help:      "Total number of auto-classification runs",
		}),
		AlarmsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_dropped_total",
			Help:      "Total number of alarms removed by the filter pipeline",
		}, []string{"stage"}),
	}
}
