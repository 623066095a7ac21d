package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "eqas_vocab_"

	resultSuccess = "success"
	resultError   = "error"

	repairRepaired = "repaired"
	repairSkipped  = "skipped"
	repairFailed   = "failed"
)

var (
	registerOnce sync.Once

	operationTotal   *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec

	repairRunsTotal         *prometheus.CounterVec
	repairVocabulariesTotal *prometheus.CounterVec

	cacheInvalidationsTotal *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		operationTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "operations_total",
				Help: "Total vocabulary service operations by operation and result",
			},
			[]string{"operation", "result"},
		)
		operationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "operation_latency_seconds",
				Help:    "Vocabulary service operation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "result"},
		)

		repairRunsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "repair_runs_total",
				Help: "Total integrity repair runs by result",
			},
			[]string{"result"},
		)
		repairVocabulariesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "repair_vocabularies_total",
				Help: "Vocabularies visited by integrity repair by outcome",
			},
			[]string{"outcome"},
		)

		cacheInvalidationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_invalidations_total",
				Help: "Total cache invalidation signals by result",
			},
			[]string{"result"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total integrity report exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Integrity report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			operationTotal,
			operationLatency,
			repairRunsTotal,
			repairVocabulariesTotal,
			cacheInvalidationsTotal,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// Result maps an operation error onto a result label.
func Result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

// ObserveOperation records operation duration and result.
func ObserveOperation(operation, result string, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if operationTotal != nil {
		operationTotal.WithLabelValues(operation, result).Inc()
	}
	if operationLatency != nil {
		operationLatency.WithLabelValues(operation, result).Observe(duration.Seconds())
	}
}

// ObserveRepair records one repair run and the per-vocabulary outcomes.
func ObserveRepair(result string, repaired, skipped, failed int) {
	if result == "" {
		result = resultSuccess
	}
	if repairRunsTotal != nil {
		repairRunsTotal.WithLabelValues(result).Inc()
	}
	if repairVocabulariesTotal == nil {
		return
	}
	if repaired > 0 {
		repairVocabulariesTotal.WithLabelValues(repairRepaired).Add(float64(repaired))
	}
	if skipped > 0 {
		repairVocabulariesTotal.WithLabelValues(repairSkipped).Add(float64(skipped))
	}
	if failed > 0 {
		repairVocabulariesTotal.WithLabelValues(repairFailed).Add(float64(failed))
	}
}

// IncCacheInvalidation increments the cache invalidation counter.
func IncCacheInvalidation(result string) {
	if result == "" {
		result = resultSuccess
	}
	if cacheInvalidationsTotal != nil {
		cacheInvalidationsTotal.WithLabelValues(result).Inc()
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
