package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько времени заняла выборка из источника
	FetchDuration *prometheus.HistogramVec

	// Errors: отказы источников по типу (throttle, unavailable, circuit_open, ...)
	FetchErrors *prometheus.CounterVec

	// Rows: принятые и отправленные в карантин строки
	RowsIngested    *prometheus.CounterVec
	RowsQuarantined *prometheus.CounterVec

	// Skipped: строки без канонического ключа при агрегации
	RowsSkipped *prometheus.CounterVec

	ComputeDuration prometheus.Histogram
	Customers       prometheus.Gauge

	// Cache: hit / miss / error
	CacheRequests *prometheus.CounterVec

	SyncRuns     *prometheus.CounterVec
	SyncDuration prometheus.Histogram

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - полуоткрыт, 2 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
	AuditDropped    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "msp_source_fetch_duration_seconds",
			Help:    "Latency of fetching one source dataset.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"source", "outcome"}),

		FetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "msp_source_fetch_errors_total",
			Help: "Source fetch failures by type.",
		}, []string{"source", "type"}),

		RowsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "msp_rows_ingested_total",
			Help: "Rows accepted at the ingestion boundary.",
		}, []string{"source"}),

		RowsQuarantined: f.NewCounterVec(prometheus.CounterOpts{
			Name: "msp_rows_quarantined_total",
			Help: "Rows rejected at the ingestion boundary.",
		}, []string{"source"}),

		RowsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "msp_rows_skipped_total",
			Help: "Rows without a usable customer key during aggregation.",
		}, []string{"source"}),

		ComputeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "msp_health_compute_duration_seconds",
			Help:    "Time to reconcile and score all customers.",
			Buckets: prometheus.DefBuckets,
		}),

		Customers: f.NewGauge(prometheus.GaugeOpts{
			Name: "msp_customers",
			Help: "Customers in the latest computed dashboard.",
		}),

		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "msp_dashboard_cache_requests_total",
			Help: "Dashboard cache lookups by result.",
		}, []string{"result"}),

		SyncRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "msp_sync_runs_total",
			Help: "Completed sync runs by status.",
		}, []string{"status"}),

		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "msp_sync_duration_seconds",
			Help:    "Duration of a full sync run.",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "msp_circuit_breaker_state",
			Help: "Current state of the upstream circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"source"}),

		AuditBufferFill: f.NewGauge(prometheus.GaugeOpts{
			Name: "msp_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),

		AuditDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "msp_audit_dropped_total",
			Help: "Audit events dropped because the buffer was full.",
		}),
	}
}
